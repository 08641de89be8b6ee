package features

import (
	"math"
	"testing"
)

func tone(n int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func newDefault(t *testing.T) *Preprocessor {
	t.Helper()
	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestProcessShape(t *testing.T) {
	p := newDefault(t)
	f := p.Process(tone(32000, 440))

	if f.NumMels != 128 {
		t.Errorf("mels = %d, want 128", f.NumMels)
	}
	if f.Frames != 201 {
		t.Errorf("frames = %d, want 201 (32000/160+1)", f.Frames)
	}
	if f.Length != 201 {
		t.Errorf("length = %d, want 201", f.Length)
	}
	if len(f.Data) != 128*201 {
		t.Errorf("data = %d values", len(f.Data))
	}

	signal, length, err := f.Tensors("audio_signal", "length")
	if err != nil {
		t.Fatal(err)
	}
	if signal.Shape[0] != 1 || signal.Shape[1] != 128 || signal.Shape[2] != 201 {
		t.Errorf("signal shape = %v", signal.Shape)
	}
	if v, _ := length.Int64(); v[0] != 201 {
		t.Errorf("length tensor = %v", v)
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	p := newDefault(t)
	in := tone(8000, 300)
	a := p.Process(in)
	b := p.Process(in)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestProcessNormalizesPerFeature(t *testing.T) {
	p := newDefault(t)
	f := p.Process(tone(16000, 1000))

	for m := 0; m < f.NumMels; m += 17 {
		row := f.Data[m*f.Frames : (m+1)*f.Frames]
		mean := 0.0
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(len(row))
		if math.Abs(mean) > 1e-3 {
			t.Errorf("mel %d mean = %f, want ~0", m, mean)
		}
	}
}

func TestToneLandsInMatchingBin(t *testing.T) {
	p := newDefault(t)
	logMel := p.logMel(tone(16000, 1000))
	mid := logMel[len(logMel)/2]

	best := 0
	for m := range mid {
		if mid[m] > mid[best] {
			best = m
		}
	}

	edges := melCenters(128, 0, 8000)
	center := edges[best+1]
	if math.Abs(center-1000) > 60 {
		t.Errorf("peak bin %d centred at %.1f Hz, want ~1000 Hz", best, center)
	}
}

func TestEmptyInputProducesOneFrame(t *testing.T) {
	p := newDefault(t)
	f := p.Process(nil)
	if f.Frames != 1 || f.Length != 1 {
		t.Fatalf("frames=%d length=%d", f.Frames, f.Length)
	}
	for _, v := range f.Data {
		if math.IsNaN(float64(v)) {
			t.Fatal("NaN in output")
		}
	}
}

func TestSlaneyMelBank(t *testing.T) {
	bank := slaneyMelBank(128, 512, 16000, 0, 8000)
	if len(bank) != 128 {
		t.Fatalf("filters = %d", len(bank))
	}
	for i, f := range bank {
		if len(f) != 257 {
			t.Fatalf("filter %d has %d bins", i, len(f))
		}
		for _, w := range f {
			if w < 0 {
				t.Fatalf("filter %d has negative weight", i)
			}
		}
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 8000} {
		if got := melToHz(hzToMel(hz)); math.Abs(got-hz) > 1e-6 {
			t.Errorf("melToHz(hzToMel(%f)) = %f", hz, got)
		}
	}
	if m := hzToMel(1000); math.Abs(m-15) > 1e-9 {
		t.Errorf("hzToMel(1000) = %f, want 15", m)
	}
}

func TestPaddedHannWindow(t *testing.T) {
	w := paddedHannWindow(400, 512)
	if w[0] != 0 || w[55] != 0 || w[511] != 0 {
		t.Error("padding should be zero")
	}
	if w[56] != 0 {
		t.Errorf("window start = %f, want 0", w[56])
	}
	if math.Abs(w[56+200]-1) > 1e-4 {
		t.Errorf("window centre = %f, want ~1", w[56+200])
	}
}
