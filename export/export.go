// Package export turns a pretrained model bundle into the directory the
// transcriber and the inference server load: three sub-network graphs with
// positional signatures, the tokenizer vocabulary and model_config.json.
package export

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/K3das/parakeet/manifest"
	"github.com/K3das/parakeet/messages"
	"github.com/K3das/parakeet/onnx"
	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/source"
	"github.com/K3das/parakeet/tensor"
	"github.com/K3das/parakeet/utils"
	"go.uber.org/zap"
)

type SourceFiles struct {
	Encoder string `env:"ENCODER" envDefault:"encoder.onnx"`
	Decoder string `env:"DECODER" envDefault:"decoder.onnx"`
	Joint   string `env:"JOINT" envDefault:"joint.onnx"`
	Config  string `env:"CONFIG" envDefault:"model_config.yaml"`
	Vocab   string `env:"VOCAB" envDefault:"vocab.txt"`
}

type Options struct {
	ModelName string      `env:"MODEL_NAME" envDefault:"nvidia/parakeet-tdt-0.6b-v2"`
	Dir       string      `env:"EXPORT_DIR" envDefault:"parakeet_tdt_export"`
	Files     SourceFiles `envPrefix:"SOURCE_FILE_"`
	// Seed drives the dummy inputs of the probe pass.
	Seed         int64 `env:"EXPORT_SEED" envDefault:"0"`
	MaxFileBytes int64 `env:"EXPORT_MAX_FILE_BYTES" envDefault:"8589934592"`
}

// Exported file names.
const (
	EncoderFile = "parakeet_encoder.onnx"
	DecoderFile = "parakeet_decoder.onnx"
	JointFile   = "parakeet_joint.onnx"
	VocabFile   = "vocab.txt"
)

var (
	EncoderSignature = onnx.Signature{
		Inputs:  []string{"audio_features", "audio_length"},
		Outputs: []string{"encoder_outputs", "encoder_length"},
		DynamicAxes: map[string]map[int]string{
			"audio_features":  {0: "batch_size", 2: "time_steps"},
			"audio_length":    {0: "batch_size"},
			"encoder_outputs": {0: "batch_size", 1: "time_steps"},
			"encoder_length":  {0: "batch_size"},
		},
	}
	DecoderSignature = onnx.Signature{
		Inputs:  []string{"targets", "target_length"},
		Outputs: []string{"decoder_outputs"},
		DynamicAxes: map[string]map[int]string{
			"targets":         {0: "batch_size", 1: "target_length"},
			"target_length":   {0: "batch_size"},
			"decoder_outputs": {0: "batch_size", 1: "target_length"},
		},
	}
	JointSignature = onnx.Signature{
		Inputs:  []string{"encoder_outputs", "decoder_outputs"},
		Outputs: []string{"joint_outputs"},
		DynamicAxes: map[string]map[int]string{
			"encoder_outputs": {0: "batch_size", 1: "time_steps"},
			"decoder_outputs": {0: "batch_size", 1: "target_length"},
			"joint_outputs":   {0: "batch_size", 1: "time_steps", 2: "target_length"},
		},
	}
)

// Probe shapes for the decoder and joint passes.
const (
	dummyAudioSamples   = 16000
	dummyTargetLength   = 10
	dummyJointTimeSteps = 100
)

type Validation struct {
	File string
	Err  error
}

func (v Validation) OK() bool {
	return v.Err == nil
}

type FileInfo struct {
	Name string
	Size int64
}

type Result struct {
	Dir        string
	Manifest   *manifest.Manifest
	Validation []Validation
	Files      []FileInfo

	EncoderShape []int64
	DecoderShape []int64
	JointShape   []int64
}

// Failed reports whether any exported file failed validation.
func (r *Result) Failed() bool {
	return slices.ContainsFunc(r.Validation, func(v Validation) bool { return !v.OK() })
}

type Exporter struct {
	log     *zap.Logger
	source  source.ModelSource
	runtime ort.Runtime
	options Options
}

func New(log *zap.Logger, src source.ModelSource, runtime ort.Runtime, options Options) *Exporter {
	return &Exporter{
		log:     log,
		source:  src,
		runtime: runtime,
		options: options,
	}
}

func (e *Exporter) path(name string) string {
	return filepath.Join(e.options.Dir, name)
}

func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(e.options.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}

	cfg := e.readModelConfig(ctx)
	e.log.Info("model config",
		zap.String("model", e.options.ModelName),
		zap.Int("vocab_size", cfg.VocabSize),
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("n_mels", cfg.NMels),
	)

	rng := rand.New(rand.NewSource(e.options.Seed))
	result := &Result{Dir: e.options.Dir}

	e.log.Info("exporting encoder")
	encoder, err := e.exportComponent(ctx, e.options.Files.Encoder, EncoderFile, EncoderSignature)
	if err != nil {
		return nil, fmt.Errorf("exporting encoder: %w", err)
	}
	encInputs, err := encoderInputs(encoder, cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("building encoder inputs: %w", err)
	}
	encOut, err := e.probe(EncoderFile, EncoderSignature, encInputs)
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}
	result.EncoderShape = encOut.Shape

	e.log.Info("exporting decoder")
	decoder, err := e.exportComponent(ctx, e.options.Files.Decoder, DecoderFile, DecoderSignature)
	if err != nil {
		return nil, fmt.Errorf("exporting decoder: %w", err)
	}
	decInputs, err := decoderInputs(decoder, cfg.VocabSize, rng)
	if err != nil {
		return nil, fmt.Errorf("building decoder inputs: %w", err)
	}
	decOut, err := e.probe(DecoderFile, DecoderSignature, decInputs)
	if err != nil {
		return nil, fmt.Errorf("running decoder: %w", err)
	}
	result.DecoderShape = decOut.Shape

	e.log.Info("exporting joint network")
	joint, err := e.exportComponent(ctx, e.options.Files.Joint, JointFile, JointSignature)
	if err != nil {
		return nil, fmt.Errorf("exporting joint: %w", err)
	}

	encoderDim, decoderDim := encOut.LastDim(), decOut.LastDim()
	e.log.Info("sub-network dims",
		zap.Int64("encoder_dim", encoderDim),
		zap.Int64("decoder_dim", decoderDim),
		zap.Int64s("encoder_shape", encOut.Shape),
		zap.Int64s("decoder_shape", decOut.Shape),
	)

	// encoder and decoder outputs may put the hidden axis first, so the
	// joint is probed with the hidden sizes it declares
	jointEncDim, ok := HiddenDim(joint, JointSignature.Inputs[0])
	if !ok {
		jointEncDim = encoderDim
	}
	jointDecDim, ok := HiddenDim(joint, JointSignature.Inputs[1])
	if !ok {
		jointDecDim = decoderDim
	}
	nMels := int(encInputs[0].Shape[1])
	if nMels != cfg.NMels {
		e.log.Warn("encoder graph overrides mel bin count",
			zap.Int("config", cfg.NMels),
			zap.Int("graph", nMels),
		)
	}

	jointInputs, err := jointInputs(joint, jointEncDim, jointDecDim, rng)
	if err != nil {
		return nil, fmt.Errorf("building joint inputs: %w", err)
	}
	jointOut, err := e.probe(JointFile, JointSignature, jointInputs)
	if err != nil {
		return nil, fmt.Errorf("running joint: %w", err)
	}
	result.JointShape = jointOut.Shape

	result.Validation = e.validate(EncoderFile, DecoderFile, JointFile)

	tokenizer, err := e.copyVocab(ctx)
	if err != nil {
		return nil, fmt.Errorf("copying vocabulary: %w", err)
	}

	result.Manifest = &manifest.Manifest{
		ModelName:     e.options.ModelName,
		VocabSize:     cfg.VocabSize,
		EncoderDim:    encoderDim,
		DecoderDim:    decoderDim,
		SampleRate:    cfg.SampleRate,
		NMels:         nMels,
		TokenizerType: cfg.TokenizerType,
		Files: manifest.Files{
			Encoder:   EncoderFile,
			Decoder:   DecoderFile,
			Joint:     JointFile,
			Tokenizer: tokenizer,
		},
		TDTDurations:      cfg.TDTDurations,
		SubsamplingFactor: cfg.SubsamplingFactor,
	}
	if err := manifest.Write(e.options.Dir, result.Manifest); err != nil {
		return nil, err
	}

	result.Files, err = listFiles(e.options.Dir)
	if err != nil {
		return nil, err
	}
	for _, f := range result.Files {
		e.log.Info("exported file", zap.String("name", f.Name), zap.Int64("size", f.Size))
	}

	return result, nil
}

// HiddenDim is the static last dim a joint graph declares for one of its
// inputs. ok is false when the input is missing or the dim is symbolic.
func HiddenDim(joint *onnx.Graph, input string) (dim int64, ok bool) {
	vi := joint.FindInput(input)
	if vi == nil {
		return 0, false
	}
	dims := vi.Dims()
	if len(dims) == 0 || !dims[len(dims)-1].HasValue || dims[len(dims)-1].Value <= 0 {
		return 0, false
	}
	return dims[len(dims)-1].Value, true
}

// exportComponent fetches a sub-network, wraps it to sig and writes it
// under name. The wrapped graph is returned for input synthesis.
func (e *Exporter) exportComponent(ctx context.Context, from, name string, sig onnx.Signature) (*onnx.Graph, error) {
	rc, err := e.source.Open(ctx, from)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := utils.ReadAllLimit(rc, int(e.options.MaxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", from, err)
	}

	m, err := onnx.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", from, err)
	}
	if err := onnx.Wrap(m, sig); err != nil {
		return nil, fmt.Errorf("wrapping %s: %w", from, err)
	}
	if err := m.Save(e.path(name)); err != nil {
		return nil, err
	}
	for _, loc := range m.ExternalDataFiles() {
		if err := e.copyExternalData(ctx, from, loc); err != nil {
			return nil, fmt.Errorf("external data of %s: %w", from, err)
		}
	}

	for _, vi := range m.Graph.Inputs {
		e.log.Debug("input", zap.String("file", name), zap.String("value", vi.SignatureString()))
	}
	for _, vi := range m.Graph.Outputs {
		e.log.Debug("output", zap.String("file", name), zap.String("value", vi.SignatureString()))
	}
	return m.Graph, nil
}

// probe runs an exported file once and returns its first output.
func (e *Exporter) probe(name string, sig onnx.Signature, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	session, err := e.runtime.NewSession(e.path(name), sig.Inputs, sig.Outputs)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	outputs, err := session.Run(inputs)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 || outputs[0] == nil {
		return nil, fmt.Errorf("%s returned no outputs", name)
	}
	return outputs[0], nil
}

// validate reloads and checks every file. Failures are reported per file.
func (e *Exporter) validate(names ...string) []Validation {
	results := make([]Validation, 0, len(names))
	for _, name := range names {
		err := validateFile(e.path(name))
		if err != nil {
			e.log.Error("validation failed", zap.String("file", name), zap.Error(err))
		} else {
			e.log.Info("validation ok", zap.String("file", name))
		}
		results = append(results, Validation{File: name, Err: err})
	}
	return results
}

func validateFile(path string) error {
	m, err := onnx.Load(path)
	if err != nil {
		return err
	}
	return onnx.Check(m)
}

// copyVocab copies the tokenizer vocabulary and returns its exported name,
// or "" when the bundle has none.
func (e *Exporter) copyVocab(ctx context.Context) (string, error) {
	err := e.copyFile(ctx, e.options.Files.Vocab, VocabFile)
	if errors.Is(err, os.ErrNotExist) {
		e.log.Warn("bundle has no vocabulary", zap.String("file", e.options.Files.Vocab))
		return "", nil
	} else if err != nil {
		return "", err
	}
	return VocabFile, nil
}

// copyExternalData fetches a tensor data file referenced by the graph at
// from. Locations are relative to the graph, so the file lands at the same
// relative path next to the exported graph.
func (e *Exporter) copyExternalData(ctx context.Context, from, location string) error {
	if !filepath.IsLocal(filepath.FromSlash(location)) {
		return fmt.Errorf("unsafe external data location %q", location)
	}
	e.log.Info("copying external data", zap.String("graph", from), zap.String("file", location))
	return e.copyFile(ctx, path.Join(path.Dir(from), location), filepath.FromSlash(location))
}

func (e *Exporter) copyFile(ctx context.Context, from, name string) error {
	rc, err := e.source.Open(ctx, from)
	if err != nil {
		return err
	}
	defer rc.Close()

	dst := e.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer f.Close()

	if _, err := utils.CopyLimit(f, rc, e.options.MaxFileBytes); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}

func listFiles(dir string) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing export dir: %w", err)
	}
	return files, nil
}

func (r *Result) MessageContext() messages.ExportSummaryContext {
	mc := messages.ExportSummaryContext{
		Dir:        r.Dir,
		Validation: make([]messages.ExportValidationContext, 0, len(r.Validation)),
		Files:      make([]messages.ExportFileContext, 0, len(r.Files)),
	}
	if r.Manifest != nil {
		mc.ModelName = r.Manifest.ModelName
		mc.EncoderDim = r.Manifest.EncoderDim
		mc.DecoderDim = r.Manifest.DecoderDim
	}
	for _, v := range r.Validation {
		vc := messages.ExportValidationContext{File: v.File, OK: v.OK()}
		if v.Err != nil {
			vc.Error = v.Err.Error()
		}
		mc.Validation = append(mc.Validation, vc)
	}
	for _, f := range r.Files {
		mc.Files = append(mc.Files, messages.ExportFileContext{
			Name:   f.Name,
			SizeMB: strconv.FormatFloat(float64(f.Size)/(1024*1024), 'f', 2, 64),
		})
	}
	return mc
}
