package messages

import (
	"strings"
	"sync"
	"testing"
)

func newProvider(t *testing.T) *MessageProvider {
	t.Helper()
	m, err := NewMessageProvider()
	if err != nil {
		t.Fatalf("NewMessageProvider: %v", err)
	}
	return m
}

func TestBenchFile(t *testing.T) {
	m := newProvider(t)

	tests := []struct {
		name string
		data BenchFileContext
		want string
	}{
		{
			name: "sequential",
			data: BenchFileContext{Mode: "sequential", File: "a.wav", OutputShape: []int64{1, 2, 3}, Duration: "2.00", InferTime: "0.500", Ratio: "4.000"},
			want: "a.wav → output shape (1, 2, 3), duration: 2.00s, infer time: 0.500s, RTFx ≈ 4.000×",
		},
		{
			name: "concurrent",
			data: BenchFileContext{Mode: "concurrent", File: "b.wav", OutputShape: []int64{1, 5}, Duration: "2.00", InferTime: "0.500", Ratio: "0.250"},
			want: "b.wav: shape=(1, 5), duration=2.00s, infer=0.500s, RTF=0.250",
		},
		{
			name: "missing output",
			data: BenchFileContext{Mode: "sequential", File: "c.wav", Missing: true, Duration: "1.00", InferTime: "0.100", Ratio: "0.000"},
			want: "No output received for 'final_outputs' (c.wav)",
		},
		{
			name: "infinite ratio",
			data: BenchFileContext{Mode: "sequential", File: "d.wav", OutputShape: []int64{1}, Duration: "1.00", InferTime: "0.000", Ratio: "inf"},
			want: "d.wav → output shape (1), duration: 1.00s, infer time: 0.000s, RTFx ≈ inf×",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Render(BenchFile, tt.data)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if out.Content != tt.want {
				t.Fatalf("content = %q, want %q", out.Content, tt.want)
			}
		})
	}
}

func TestBenchSummary(t *testing.T) {
	out, err := newProvider(t).Render(BenchSummary, BenchSummaryContext{
		Model:       "combined",
		Files:       3,
		Missing:     1,
		TotalTime:   "1.50",
		AverageRTFx: "2.667",
		Timestamp:   "2026-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Content != "\nProcessed 3 files in 1.50s, Average RTFx ≈ 2.667×" {
		t.Fatalf("content = %q", out.Content)
	}
	if len(out.Embeds) != 1 || len(out.Embeds[0].Fields) != 4 {
		t.Fatalf("embeds = %+v", out.Embeds)
	}
	if out.Embeds[0].Color != 15548997 {
		t.Fatalf("color = %d, want the error color with missing outputs", out.Embeds[0].Color)
	}
	if out.Embeds[0].Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp = %q", out.Embeds[0].Timestamp)
	}
}

func TestBenchThroughput(t *testing.T) {
	out, err := newProvider(t).Render(BenchThroughput, BenchThroughputContext{
		Model:      "combined",
		Files:      2,
		Elapsed:    "1.00",
		TotalAudio: "4.00",
		Throughput: "4.00",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Content != "Finished 2 files in 1.00s → throughput 4.00 audio-s/s" {
		t.Fatalf("content = %q", out.Content)
	}
}

func TestExportSummary(t *testing.T) {
	out, err := newProvider(t).Render(ExportSummary, ExportSummaryContext{
		ModelName:  "nvidia/parakeet-tdt-0.6b-v2",
		Dir:        "parakeet_tdt_export",
		EncoderDim: 1024,
		DecoderDim: 640,
		Validation: []ExportValidationContext{
			{File: "parakeet_encoder.onnx", OK: true},
			{File: "parakeet_joint.onnx", Error: "value used before it is defined"},
		},
		Files: []ExportFileContext{{Name: "model_config.json", SizeMB: "0.00"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"Encoder dim: 1024, Decoder dim: 640",
		"✅ parakeet_encoder.onnx: OK",
		"❌ parakeet_joint.onnx: Error - value used before it is defined",
		"   - model_config.json: 0.00 MB",
	} {
		if !strings.Contains(out.Content, want) {
			t.Errorf("content lacks %q:\n%s", want, out.Content)
		}
	}
	if out.Embeds[0].Color != 15548997 {
		t.Errorf("color = %d, want the error color", out.Embeds[0].Color)
	}
}

func TestTranscript(t *testing.T) {
	out, err := newProvider(t).Render(Transcript, TranscriptContext{
		Text: "hello world. how?",
		Levels: []TranscriptLevelContext{{
			Name: "segment",
			Stamps: []TranscriptStampContext{
				{Text: "hello world.", Start: "0", End: "0.24"},
				{Text: "how?", Start: "0.32", End: "0.48"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "Transcript: hello world. how?\n\n[Segment-level timestamps]\n0s - 0.24s : hello world.\n0.32s - 0.48s : how?"
	if out.Content != want {
		t.Fatalf("content = %q, want %q", out.Content, want)
	}
}

func TestUnknownMessage(t *testing.T) {
	if _, err := newProvider(t).Render("nope", nil); err == nil {
		t.Fatal("rendered an unknown message")
	}
}

func TestRenderConcurrently(t *testing.T) {
	m := newProvider(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Render(BenchThroughput, BenchThroughputContext{Files: i, Elapsed: "1", TotalAudio: "1", Throughput: "1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}
