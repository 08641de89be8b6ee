// Package audio loads WAV files into mono float32 clips.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

// SampleRate is the only rate the model and the inference server accept.
const SampleRate = 16000

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

var (
	ErrSampleRateMismatch = fmt.Errorf("sample rate mismatch")
	ErrInvalidWAV         = fmt.Errorf("not a valid wav file")
	ErrUnsupportedFormat  = fmt.Errorf("unsupported wav encoding")
)

// Clip is a mono signal with samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// RequireSampleRate fails when the clip was not recorded at rate. Clips are
// never resampled.
func RequireSampleRate(c *Clip, rate int) error {
	if c.SampleRate != rate {
		return fmt.Errorf("%w: got %d, want %d", ErrSampleRateMismatch, c.SampleRate, rate)
	}
	return nil
}

// LoadWAV decodes an integer PCM or 32-bit float wav file, including
// WAVE_FORMAT_EXTENSIBLE files carrying either. Multichannel audio is
// down-mixed by averaging the channels.
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}

	format := dec.WavAudioFormat
	if format == wavFormatExtensible {
		if format, err = extensibleSubFormat(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if format != wavFormatPCM && format != wavFormatFloat {
		return nil, fmt.Errorf("%s: %w: format %d", path, ErrUnsupportedFormat, format)
	}
	if format == wavFormatFloat && dec.BitDepth != 32 {
		return nil, fmt.Errorf("%s: %w: %d-bit float", path, ErrUnsupportedFormat, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding pcm: %w", err)
	}

	if format == wavFormatFloat {
		return floatClipFromBuffer(buf)
	}
	return clipFromBuffer(buf, int(dec.BitDepth))
}

// extensibleSubFormat reads the format code out of the SubFormat GUID of an
// extensible fmt chunk. The read position of f is restored afterwards.
func extensibleSubFormat(f io.ReadSeeker) (uint16, error) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	defer f.Seek(pos, io.SeekStart)

	p := riff.New(f)
	if err := p.ParseHeaders(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	for {
		chunk, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("%w: no fmt chunk", ErrInvalidWAV)
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		fmtData := make([]byte, chunk.Size)
		if err := chunk.ReadLE(fmtData); err != nil {
			return 0, fmt.Errorf("%w: reading fmt chunk: %v", ErrInvalidWAV, err)
		}
		// cbSize at 16, SubFormat GUID at 24
		if len(fmtData) < 26 || binary.LittleEndian.Uint16(fmtData[16:]) < 22 {
			return 0, fmt.Errorf("%w: short extensible fmt chunk", ErrInvalidWAV)
		}
		return binary.LittleEndian.Uint16(fmtData[24:]), nil
	}
}

func clipFromBuffer(buf *goaudio.IntBuffer, bitDepth int) (*Clip, error) {
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bitDepth)
	}

	scale := float32(int64(1) << (bitDepth - 1))
	offset := 0
	if bitDepth == 8 {
		// 8-bit wav is unsigned
		offset = 128
	}

	return downmix(buf, func(v int) float32 {
		return float32(v-offset) / scale
	})
}

// floatClipFromBuffer reinterprets 32-bit samples decoded as integers as
// IEEE floats.
func floatClipFromBuffer(buf *goaudio.IntBuffer) (*Clip, error) {
	return downmix(buf, func(v int) float32 {
		return math.Float32frombits(uint32(int32(v)))
	})
}

func downmix(buf *goaudio.IntBuffer, sample func(int) float32) (*Clip, error) {
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing channel layout", ErrInvalidWAV)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels

	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += sample(buf.Data[i*channels+c])
		}
		samples[i] = sum / float32(channels)
	}

	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// ListWAVs returns the paths of the .wav files directly inside dir, sorted by
// file name.
func ListWAVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading audio dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	return paths, nil
}
