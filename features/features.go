// Package features turns 16 kHz audio into the normalised log-mel
// spectrogram the encoder was trained on.
//
// The transform is fixed and shared by the exporter, the local transcriber
// and both benchmark clients:
//
//	SampleRate:   16000
//	WindowSize:   0.025 s (400 samples), symmetric Hann
//	WindowStride: 0.01 s (160 samples)
//	NFFT:         512, centred frames with zero padding
//	Features:     128 Slaney mel bins, 0 Hz .. Nyquist
//	PreEmphasis:  0.97
//	Dither:       1e-5, seeded
//	Log:          ln(power + 2^-24)
//	Normalize:    per feature, (x - mean) / (std + 1e-5)
package features

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/K3das/parakeet/tensor"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Config controls mel-spectrogram extraction.
type Config struct {
	SampleRate   int     // Hz
	WindowSize   float64 // seconds
	WindowStride float64 // seconds
	NFFT         int
	Features     int // mel bins
	PreEmphasis  float64
	Dither       float64
	Seed         int64 // dither RNG seed, reset on every call
	LogZeroGuard float64
	NormalizeEps float64
}

// DefaultConfig returns the preprocessing the model expects.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		WindowSize:   0.025,
		WindowStride: 0.01,
		NFFT:         512,
		Features:     128,
		PreEmphasis:  0.97,
		Dither:       1e-5,
		Seed:         1,
		LogZeroGuard: math.Pow(2, -24),
		NormalizeEps: 1e-5,
	}
}

// Features is a (1, NumMels, Frames) spectrogram stored row-major by mel bin.
type Features struct {
	Data    []float32
	NumMels int
	Frames  int
	// Length is the number of valid frames.
	Length int64
}

// Tensors packs the features as the (signal, length) pair the encoder takes.
func (f *Features) Tensors(signalName, lengthName string) (*tensor.Tensor, *tensor.Tensor, error) {
	signal, err := tensor.NewFloat32(signalName, []int64{1, int64(f.NumMels), int64(f.Frames)}, f.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("packing signal: %w", err)
	}
	length, err := tensor.NewInt64(lengthName, []int64{1}, []int64{f.Length})
	if err != nil {
		return nil, nil, fmt.Errorf("packing length: %w", err)
	}
	return signal, length, nil
}

// Preprocessor computes features. It is not safe for concurrent use.
type Preprocessor struct {
	cfg       Config
	winLength int
	hop       int
	window    []float64 // NFFT long, Hann centred
	melBank   [][]float64
	fft       *fourier.FFT
}

func New(cfg Config) (*Preprocessor, error) {
	winLength := int(math.Round(cfg.WindowSize * float64(cfg.SampleRate)))
	hop := int(math.Round(cfg.WindowStride * float64(cfg.SampleRate)))
	if winLength <= 0 || hop <= 0 {
		return nil, fmt.Errorf("invalid window %d / hop %d", winLength, hop)
	}
	if cfg.NFFT < winLength {
		return nil, fmt.Errorf("nfft %d shorter than window %d", cfg.NFFT, winLength)
	}
	if cfg.Features <= 0 {
		return nil, fmt.Errorf("invalid mel bin count %d", cfg.Features)
	}

	return &Preprocessor{
		cfg:       cfg,
		winLength: winLength,
		hop:       hop,
		window:    paddedHannWindow(winLength, cfg.NFFT),
		melBank:   slaneyMelBank(cfg.Features, cfg.NFFT, cfg.SampleRate, 0, float64(cfg.SampleRate)/2),
		fft:       fourier.NewFFT(cfg.NFFT),
	}, nil
}

func (p *Preprocessor) Config() Config {
	return p.cfg
}

// Process extracts features from mono samples at the configured rate.
func (p *Preprocessor) Process(samples []float32) *Features {
	logMel := p.logMel(samples)
	frames := len(logMel)
	valid := frames

	normalizePerFeature(logMel, valid, p.cfg.NormalizeEps)

	data := make([]float32, p.cfg.Features*frames)
	for t := 0; t < valid; t++ {
		for m := 0; m < p.cfg.Features; m++ {
			data[m*frames+t] = float32(logMel[t][m])
		}
	}

	return &Features{
		Data:    data,
		NumMels: p.cfg.Features,
		Frames:  frames,
		Length:  int64(valid),
	}
}

// FrameCount is the number of frames Process produces for n samples.
func (p *Preprocessor) FrameCount(n int) int {
	return n/p.hop + 1
}

// logMel returns [frames][mels] log mel power before normalisation.
func (p *Preprocessor) logMel(samples []float32) [][]float64 {
	cfg := p.cfg
	n := len(samples)

	rng := rand.New(rand.NewSource(cfg.Seed))
	signal := make([]float64, n)
	for i, s := range samples {
		signal[i] = float64(s)
		if cfg.Dither > 0 {
			signal[i] += cfg.Dither * rng.NormFloat64()
		}
	}

	if cfg.PreEmphasis > 0 {
		for i := n - 1; i > 0; i-- {
			signal[i] -= cfg.PreEmphasis * signal[i-1]
		}
	}

	nfft := cfg.NFFT
	pad := nfft / 2
	frames := p.FrameCount(n)

	frame := make([]float64, nfft)
	coeffs := make([]complex128, nfft/2+1)
	power := make([]float64, nfft/2+1)
	out := make([][]float64, frames)

	for t := 0; t < frames; t++ {
		start := t*p.hop - pad
		for i := 0; i < nfft; i++ {
			j := start + i
			if j < 0 || j >= n {
				frame[i] = 0
				continue
			}
			frame[i] = signal[j] * p.window[i]
		}

		coeffs = p.fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}

		mel := make([]float64, cfg.Features)
		for m, filter := range p.melBank {
			sum := 0.0
			for k, w := range filter {
				if w != 0 {
					sum += w * power[k]
				}
			}
			mel[m] = math.Log(sum + cfg.LogZeroGuard)
		}
		out[t] = mel
	}

	return out
}

// normalizePerFeature standardises each mel bin over the first valid frames
// and zeroes the rest.
func normalizePerFeature(x [][]float64, valid int, eps float64) {
	if len(x) == 0 {
		return
	}
	mels := len(x[0])

	for m := 0; m < mels; m++ {
		mean := 0.0
		for t := 0; t < valid; t++ {
			mean += x[t][m]
		}
		mean /= float64(valid)

		std := 0.0
		if valid > 1 {
			for t := 0; t < valid; t++ {
				d := x[t][m] - mean
				std += d * d
			}
			std = math.Sqrt(std / float64(valid-1))
		}

		for t := 0; t < valid; t++ {
			x[t][m] = (x[t][m] - mean) / (std + eps)
		}
		for t := valid; t < len(x); t++ {
			x[t][m] = 0
		}
	}
}
