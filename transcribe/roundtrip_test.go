package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/K3das/parakeet/export"
	"github.com/K3das/parakeet/onnx"
	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/source"
	"github.com/K3das/parakeet/tensor"
	"go.uber.org/zap"
)

// exportRuntime serves both the exporter's test runs and a transcriber over the
// exported files, recording the features the encoder was fed.
type exportRuntime struct {
	features [][]int64
}

func (r *exportRuntime) NewSession(path string, inputs, outputs []string) (ort.Session, error) {
	return &exportSession{runtime: r, file: filepath.Base(path)}, nil
}

type exportSession struct {
	runtime *exportRuntime
	file    string
}

func (s *exportSession) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	switch s.file {
	case export.EncoderFile:
		s.runtime.features = append(s.runtime.features, inputs[0].Shape)
		frames := (inputs[0].Shape[2] + 7) / 8
		length, _ := tensor.NewInt64("encoder_length", []int64{1}, []int64{frames})
		return []*tensor.Tensor{tensor.ZerosFloat32("encoder_outputs", 1, frames, 1024), length}, nil
	case export.DecoderFile:
		return []*tensor.Tensor{tensor.ZerosFloat32("decoder_outputs", 1, inputs[0].Shape[1]+1, 640)}, nil
	default:
		return []*tensor.Tensor{tensor.ZerosFloat32("joint_outputs", 1, inputs[0].Shape[1], inputs[1].Shape[1], 1030)}, nil
	}
}

func (s *exportSession) Close() error {
	return nil
}

func bundleGraph(g *onnx.Graph) *onnx.Model {
	return &onnx.Model{IRVersion: 8, Opsets: []*onnx.OpsetImport{{Version: 17}}, Graph: g}
}

func TestExportWithoutConfigFeedsGraphMelBins(t *testing.T) {
	src := t.TempDir()
	models := map[string]*onnx.Model{
		"encoder.onnx": bundleGraph(&onnx.Graph{
			Name: "encoder",
			Inputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("audio_signal", onnx.ElemFloat, 1, 128, 101),
				onnx.NewTensorValueInfo("length", onnx.ElemInt64, 1),
			},
			Nodes: []*onnx.Node{
				{Name: "t", OpType: "Transpose", Inputs: []string{"audio_signal"}, Outputs: []string{"enc"}},
				{Name: "l", OpType: "Identity", Inputs: []string{"length"}, Outputs: []string{"enc_len"}},
			},
			Outputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("enc", onnx.ElemFloat, 1, 13, 1024),
				onnx.NewTensorValueInfo("enc_len", onnx.ElemInt64, 1),
			},
		}),
		"decoder.onnx": bundleGraph(&onnx.Graph{
			Name: "decoder",
			Inputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("targets", onnx.ElemInt32, 1, 10),
				onnx.NewTensorValueInfo("target_length", onnx.ElemInt32, 1),
			},
			Nodes: []*onnx.Node{
				{Name: "g", OpType: "Identity", Inputs: []string{"targets"}, Outputs: []string{"dec"}},
			},
			Outputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("dec", onnx.ElemFloat, 1, 11, 640),
			},
		}),
		"joint.onnx": bundleGraph(&onnx.Graph{
			Name: "joint",
			Inputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("f", onnx.ElemFloat, 1, 100, 1024),
				onnx.NewTensorValueInfo("g", onnx.ElemFloat, 1, 10, 640),
			},
			Nodes: []*onnx.Node{
				{Name: "add", OpType: "Add", Inputs: []string{"f", "g"}, Outputs: []string{"logits"}},
			},
			Outputs: []*onnx.ValueInfo{
				onnx.NewTensorValueInfo("logits", onnx.ElemFloat, 1, 100, 10, 1030),
			},
		}),
	}
	for name, m := range models {
		if err := m.Save(filepath.Join(src, name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(src, "vocab.txt"), []byte("<unk>\n▁the\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	rt := &exportRuntime{}
	opts := export.Options{
		ModelName: "test",
		Dir:       out,
		Files: export.SourceFiles{
			Encoder: "encoder.onnx",
			Decoder: "decoder.onnx",
			Joint:   "joint.onnx",
			Config:  "model_config.yaml",
			Vocab:   "vocab.txt",
		},
		MaxFileBytes: 1 << 20,
	}
	result, err := export.New(zap.NewNop(), source.NewLocal(src), rt, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Manifest.NMels != 128 {
		t.Fatalf("n_mels = %d, want 128", result.Manifest.NMels)
	}

	tr, err := Open(zap.NewNop(), rt, out)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if len(rt.features) < 2 {
		t.Fatalf("encoder ran %d times", len(rt.features))
	}
	for i, shape := range rt.features {
		if shape[1] != 128 {
			t.Errorf("encoder run %d fed %v, want 128 mel bins", i, shape)
		}
	}
}
