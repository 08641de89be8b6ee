package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
)

func sine(n int, freq float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestLoadWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := sine(32000, 440, SampleRate)
	if err := WriteWAV(path, in, SampleRate); err != nil {
		t.Fatal(err)
	}

	clip, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if clip.SampleRate != SampleRate {
		t.Errorf("sample rate = %d", clip.SampleRate)
	}
	if len(clip.Samples) != len(in) {
		t.Fatalf("samples = %d, want %d", len(clip.Samples), len(in))
	}
	if d := clip.Duration(); d != 2.0 {
		t.Errorf("duration = %f, want 2.0", d)
	}
	for i := 0; i < len(in); i += 997 {
		if math.Abs(float64(clip.Samples[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d = %f, want %f", i, clip.Samples[i], in[i])
		}
	}
}

func TestRequireSampleRate(t *testing.T) {
	clip := &Clip{Samples: make([]float32, 8000), SampleRate: 8000}
	err := RequireSampleRate(clip, SampleRate)
	if !errors.Is(err, ErrSampleRateMismatch) {
		t.Fatalf("expected ErrSampleRateMismatch, got %v", err)
	}
	if err := RequireSampleRate(&Clip{SampleRate: SampleRate}, SampleRate); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not riff"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWAV(path); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestClipFromBufferDownmix(t *testing.T) {
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 2, SampleRate: SampleRate},
		Data:   []int{16384, 0, -16384, -16384},
	}
	clip, err := clipFromBuffer(buf, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(clip.Samples) != 2 {
		t.Fatalf("frames = %d", len(clip.Samples))
	}
	if clip.Samples[0] != 0.25 || clip.Samples[1] != -0.5 {
		t.Errorf("downmix = %v", clip.Samples)
	}
}

func TestListWAVs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.WAV", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := ListWAVs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.WAV" || filepath.Base(paths[1]) != "b.wav" {
		t.Errorf("paths = %v", paths)
	}
}

var (
	subFormatPCM   = [16]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	subFormatFloat = [16]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
)

// rawWAV assembles a mono wav file by hand. A non-nil subFormat writes an
// extensible fmt chunk.
func rawWAV(t *testing.T, format, bits uint16, subFormat *[16]byte, data []byte) string {
	t.Helper()
	const rate = SampleRate
	blockAlign := bits / 8

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, format)
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(rate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(rate)*uint32(blockAlign))
	binary.Write(&fmtChunk, binary.LittleEndian, blockAlign)
	binary.Write(&fmtChunk, binary.LittleEndian, bits)
	if subFormat != nil {
		binary.Write(&fmtChunk, binary.LittleEndian, uint16(22))
		binary.Write(&fmtChunk, binary.LittleEndian, bits)
		binary.Write(&fmtChunk, binary.LittleEndian, uint32(0x4))
		fmtChunk.Write(subFormat[:])
	}

	var body bytes.Buffer
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(fmtChunk.Len()))
	body.Write(fmtChunk.Bytes())
	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(data)))
	body.Write(data)

	var file bytes.Buffer
	file.WriteString("RIFF")
	binary.Write(&file, binary.LittleEndian, uint32(body.Len()))
	file.Write(body.Bytes())

	path := filepath.Join(t.TempDir(), "raw.wav")
	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func float32Data(samples []float32) []byte {
	var b bytes.Buffer
	for _, v := range samples {
		binary.Write(&b, binary.LittleEndian, math.Float32bits(v))
	}
	return b.Bytes()
}

func int16Data(samples []int16) []byte {
	var b bytes.Buffer
	for _, v := range samples {
		binary.Write(&b, binary.LittleEndian, v)
	}
	return b.Bytes()
}

func TestLoadWAVFloat(t *testing.T) {
	in := []float32{0, 0.5, -0.25, 1, -1, 0.125}
	clip, err := LoadWAV(rawWAV(t, wavFormatFloat, 32, nil, float32Data(in)))
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if clip.SampleRate != SampleRate {
		t.Errorf("sample rate = %d", clip.SampleRate)
	}
	if len(clip.Samples) != len(in) {
		t.Fatalf("samples = %v", clip.Samples)
	}
	for i := range in {
		if clip.Samples[i] != in[i] {
			t.Errorf("sample %d = %f, want %f", i, clip.Samples[i], in[i])
		}
	}
}

func TestLoadWAVExtensible(t *testing.T) {
	t.Run("pcm", func(t *testing.T) {
		path := rawWAV(t, wavFormatExtensible, 16, &subFormatPCM, int16Data([]int16{16384, -8192, 0}))
		clip, err := LoadWAV(path)
		if err != nil {
			t.Fatalf("LoadWAV: %v", err)
		}
		want := []float32{0.5, -0.25, 0}
		if len(clip.Samples) != len(want) {
			t.Fatalf("samples = %v", clip.Samples)
		}
		for i := range want {
			if clip.Samples[i] != want[i] {
				t.Errorf("sample %d = %f, want %f", i, clip.Samples[i], want[i])
			}
		}
	})

	t.Run("float", func(t *testing.T) {
		in := []float32{0.75, -0.5}
		clip, err := LoadWAV(rawWAV(t, wavFormatExtensible, 32, &subFormatFloat, float32Data(in)))
		if err != nil {
			t.Fatalf("LoadWAV: %v", err)
		}
		if len(clip.Samples) != 2 || clip.Samples[0] != 0.75 || clip.Samples[1] != -0.5 {
			t.Errorf("samples = %v", clip.Samples)
		}
	})

	t.Run("unknown subformat", func(t *testing.T) {
		alaw := subFormatPCM
		alaw[0] = 0x06
		_, err := LoadWAV(rawWAV(t, wavFormatExtensible, 16, &alaw, int16Data([]int16{1, 2})))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
		}
	})
}

func TestLoadWAVRejectsDoubleFloat(t *testing.T) {
	data := make([]byte, 16)
	_, err := LoadWAV(rawWAV(t, wavFormatFloat, 64, nil, data))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
