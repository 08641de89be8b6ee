// Package bench measures a remote inference server on a directory of WAV
// files, either one request at a time or all at once.
package bench

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/K3das/parakeet/audio"
	"github.com/K3das/parakeet/features"
	"github.com/K3das/parakeet/inference"
	"github.com/K3das/parakeet/tensor"
	"github.com/K3das/parakeet/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

type Options struct {
	Model      string `env:"MODEL" envDefault:"combined"`
	AudioDir   string `env:"AUDIO_DIR" envDefault:"test_data"`
	SampleRate int    `env:"SAMPLE_RATE" envDefault:"16000"`
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type FileResult struct {
	File string
	// Duration is the audio length in seconds.
	Duration  float64
	InferTime time.Duration
	// Ratio is RTFx (audio / inference) in sequential runs and RTF
	// (inference / audio) in concurrent runs.
	Ratio       float64
	OutputShape []int64
	// Missing is set when the server returned no final_outputs.
	Missing bool
}

type Report struct {
	Mode  string
	Model string
	Files []FileResult

	// TotalTime is the whole loop for sequential runs and the dispatched
	// batch for concurrent runs.
	TotalTime   time.Duration
	TotalAudio  float64
	AverageRTFx float64
	Throughput  float64
}

type Runner struct {
	log     *zap.Logger
	api     inference.InferenceAPI
	pre     *features.Preprocessor
	options Options
	clock   Clock

	onFile   FileHook
	onFileMu sync.Mutex
}

// FileHook is called as soon as each file finishes. Calls are serialized.
type FileHook func(report *Report, f FileResult)

type RunnerOption func(*Runner)

func WithFileHook(fn FileHook) RunnerOption {
	return func(r *Runner) {
		r.onFile = fn
	}
}

func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

func (r *Runner) fileDone(report *Report, f FileResult) {
	if r.onFile == nil {
		return
	}
	r.onFileMu.Lock()
	defer r.onFileMu.Unlock()
	r.onFile(report, f)
}

func NewRunner(log *zap.Logger, api inference.InferenceAPI, options Options, opts ...RunnerOption) (*Runner, error) {
	cfg := features.DefaultConfig()
	cfg.SampleRate = options.SampleRate
	pre, err := features.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating preprocessor: %w", err)
	}

	r := &Runner{
		log:     log,
		api:     api,
		pre:     pre,
		options: options,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type prepared struct {
	file     string
	duration float64
	inputs   []*tensor.Tensor
}

// prepare loads one file and builds its request. A sample rate other than
// the configured one fails the run; audio is never resampled.
func (r *Runner) prepare(path string) (*prepared, error) {
	clip, err := audio.LoadWAV(path)
	if err != nil {
		return nil, err
	}
	if err := audio.RequireSampleRate(clip, r.options.SampleRate); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	inputs, err := BuildInputs(r.pre.Process(clip.Samples))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &prepared{
		file:     filepath.Base(path),
		duration: clip.Duration(),
		inputs:   inputs,
	}, nil
}

// infer runs one request and times it.
func (r *Runner) infer(ctx context.Context, p *prepared) (*tensor.Tensor, time.Duration, error) {
	start := r.clock.Now()
	res, err := r.api.Infer(ctx, r.options.Model, p.inputs, []string{OutputFinal})
	elapsed := r.clock.Now().Sub(start)
	if err != nil {
		return nil, elapsed, fmt.Errorf("%s: inference: %w", p.file, err)
	}

	out, ok := res.Output(OutputFinal)
	if !ok {
		return nil, elapsed, nil
	}
	if out.Rank() == 4 {
		out.Squeeze(2)
	}
	return out, elapsed, nil
}

// Sequential sends one file at a time. A file without output counts as 0
// towards the average RTFx.
func (r *Runner) Sequential(ctx context.Context) (*Report, error) {
	files, err := audio.ListWAVs(r.options.AudioDir)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: ModeSequential, Model: r.options.Model}
	var totalRTFx float64

	start := r.clock.Now()
	for _, path := range files {
		p, err := r.prepare(path)
		if err != nil {
			return nil, err
		}
		_, log := utils.LogContextWith(ctx, r.log, zap.String("file", p.file))

		out, inferTime, err := r.infer(ctx, p)
		if err != nil {
			return nil, err
		}

		result := FileResult{File: p.file, Duration: p.duration, InferTime: inferTime}
		if out == nil {
			log.Warn("no output received", zap.String("output", OutputFinal))
			result.Missing = true
		} else {
			result.OutputShape = out.Shape
			result.Ratio = RTFx(p.duration, inferTime)
			log.Info("file processed",
				zap.Int64s("output_shape", out.Shape),
				zap.Float64("duration", p.duration),
				zap.Duration("infer_time", inferTime),
				zap.Float64("rtfx", result.Ratio),
			)
		}

		totalRTFx += result.Ratio
		report.TotalAudio += p.duration
		report.Files = append(report.Files, result)
		r.fileDone(report, result)
	}
	report.TotalTime = r.clock.Now().Sub(start)

	if len(report.Files) > 0 {
		report.AverageRTFx = totalRTFx / float64(len(report.Files))
	}
	return report, nil
}

// Concurrent loads and frames every file first, then dispatches all
// requests at once and waits for all of them. The first failure cancels the
// rest.
func (r *Runner) Concurrent(ctx context.Context) (*Report, error) {
	files, err := audio.ListWAVs(r.options.AudioDir)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: ModeConcurrent, Model: r.options.Model}
	batch := make([]*prepared, 0, len(files))
	for _, path := range files {
		p, err := r.prepare(path)
		if err != nil {
			return nil, err
		}
		report.TotalAudio += p.duration
		batch = append(batch, p)
	}

	report.Files = make([]FileResult, len(batch))

	start := r.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range batch {
		g.Go(func() (err error) {
			_, log := utils.LogContextWith(gctx, r.log, zap.String("file", p.file))
			defer utils.RecoverError(log, &err)

			out, inferTime, err := r.infer(gctx, p)
			if err != nil {
				return err
			}

			result := FileResult{
				File:      p.file,
				Duration:  p.duration,
				InferTime: inferTime,
				Ratio:     RTF(inferTime, p.duration),
			}
			if out == nil {
				log.Warn("no output received", zap.String("output", OutputFinal))
				result.Missing = true
			} else {
				result.OutputShape = out.Shape
			}
			log.Info("file processed",
				zap.Int64s("output_shape", result.OutputShape),
				zap.Float64("duration", p.duration),
				zap.Duration("infer_time", inferTime),
				zap.Float64("rtf", result.Ratio),
			)

			report.Files[i] = result
			r.fileDone(report, result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.TotalTime = r.clock.Now().Sub(start)
	if len(batch) > 0 {
		report.Throughput = Throughput(report.TotalAudio, report.TotalTime)
	}

	return report, nil
}
