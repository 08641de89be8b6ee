// Package transcribe runs an exported model locally: features, one encoder
// pass, greedy TDT decoding and timestamps at char, word and segment level.
package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/K3das/parakeet/audio"
	"github.com/K3das/parakeet/export"
	"github.com/K3das/parakeet/features"
	"github.com/K3das/parakeet/manifest"
	"github.com/K3das/parakeet/onnx"
	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/tensor"
	"go.uber.org/zap"
)

type Options struct {
	ModelDir  string `env:"MODEL_DIR" envDefault:"parakeet_tdt_export"`
	AudioPath string `env:"AUDIO_PATH" envDefault:"demo_1p.wav"`
}

type Result struct {
	Text   string
	Tokens []Token
	// Frames is the number of encoder frames decoded.
	Frames   int
	Chars    []Stamp
	Words    []Stamp
	Segments []Stamp
}

// Stamps returns the timestamps of one level.
func (r *Result) Stamps(level Level) []Stamp {
	switch level {
	case LevelChar:
		return r.Chars
	case LevelWord:
		return r.Words
	case LevelSegment:
		return r.Segments
	default:
		return nil
	}
}

// Transcriber is not safe for concurrent use.
type Transcriber struct {
	log      *zap.Logger
	manifest *manifest.Manifest
	vocab    *Vocab
	pre      *features.Preprocessor

	encoder ort.Session
	decoder ort.Session
	joint   ort.Session

	// seconds per encoder frame
	frameSeconds float64
	encoderDim   int64

	// learned from the first unambiguous encoder output
	encoderLayout Layout
	greedy        *greedy
}

// Open loads an exported model directory.
func Open(log *zap.Logger, runtime ort.Runtime, dir string) (tr *Transcriber, err error) {
	m, err := manifest.Read(dir)
	if err != nil {
		return nil, err
	}
	if m.Files.Tokenizer == "" {
		return nil, fmt.Errorf("exported model has no vocabulary")
	}
	vocab, err := LoadVocab(manifest.Path(dir, m.Files.Tokenizer))
	if err != nil {
		return nil, err
	}
	if vocab.Size() != m.VocabSize {
		log.Warn("vocabulary size differs from manifest",
			zap.Int("vocab", vocab.Size()),
			zap.Int("manifest", m.VocabSize),
		)
	}

	fcfg := features.DefaultConfig()
	fcfg.SampleRate = m.SampleRate
	fcfg.Features = m.NMels
	pre, err := features.New(fcfg)
	if err != nil {
		return nil, fmt.Errorf("creating preprocessor: %w", err)
	}

	// the decoder graph is small; its input type decides the token dtype
	decGraph, err := onnx.Load(manifest.Path(dir, m.Files.Decoder))
	if err != nil {
		return nil, fmt.Errorf("loading decoder graph: %w", err)
	}
	targetsType := ""
	if in := decGraph.Graph.FindInput(export.DecoderSignature.Inputs[0]); in != nil {
		if targetsType, err = in.Datatype(); err != nil {
			return nil, err
		}
	}

	encoderDim, decoderDim, err := hiddenDims(log, dir, m)
	if err != nil {
		return nil, err
	}

	tr = &Transcriber{
		log:          log,
		manifest:     m,
		vocab:        vocab,
		pre:          pre,
		frameSeconds: fcfg.WindowStride * float64(max(m.SubsamplingFactor, 1)),
		encoderDim:   encoderDim,
	}
	defer func() {
		if err != nil {
			tr.Close()
		}
	}()

	if tr.encoder, err = runtime.NewSession(manifest.Path(dir, m.Files.Encoder), export.EncoderSignature.Inputs, export.EncoderSignature.Outputs); err != nil {
		return nil, fmt.Errorf("opening encoder: %w", err)
	}
	if tr.decoder, err = runtime.NewSession(manifest.Path(dir, m.Files.Decoder), export.DecoderSignature.Inputs, export.DecoderSignature.Outputs); err != nil {
		return nil, fmt.Errorf("opening decoder: %w", err)
	}
	if tr.joint, err = runtime.NewSession(manifest.Path(dir, m.Files.Joint), export.JointSignature.Inputs, export.JointSignature.Outputs); err != nil {
		return nil, fmt.Errorf("opening joint: %w", err)
	}

	tr.greedy = &greedy{
		decoder:     tr.decoder,
		joint:       tr.joint,
		vocabSize:   m.VocabSize,
		durations:   m.TDTDurations,
		maxSymbols:  DefaultMaxSymbols,
		targetsType: targetsType,
		decoderDim:  decoderDim,
	}
	if err := tr.warmUp(); err != nil {
		return nil, fmt.Errorf("warming up: %w", err)
	}
	return tr, nil
}

// hiddenDims reads the encoder and decoder hidden sizes from the joint
// graph's inputs. The manifest values are used when the joint leaves them
// symbolic.
func hiddenDims(log *zap.Logger, dir string, m *manifest.Manifest) (encoderDim, decoderDim int64, err error) {
	joint, err := onnx.Load(manifest.Path(dir, m.Files.Joint))
	if err != nil {
		return 0, 0, fmt.Errorf("loading joint graph: %w", err)
	}
	encoderDim, ok := export.HiddenDim(joint.Graph, export.JointSignature.Inputs[0])
	if !ok {
		encoderDim = m.EncoderDim
	}
	decoderDim, ok = export.HiddenDim(joint.Graph, export.JointSignature.Inputs[1])
	if !ok {
		decoderDim = m.DecoderDim
	}
	// the manifest records output last axes, which differ for hidden-first
	// encoders and decoders
	if encoderDim != m.EncoderDim || decoderDim != m.DecoderDim {
		log.Info("hidden sizes differ from manifest dims",
			zap.Int64("encoder_dim", encoderDim),
			zap.Int64("decoder_dim", decoderDim),
			zap.Int64("manifest_encoder_dim", m.EncoderDim),
			zap.Int64("manifest_decoder_dim", m.DecoderDim),
		)
	}
	return encoderDim, decoderDim, nil
}

// warmUp runs half a second of silence through the encoder and a short
// blank sequence through the decoder to learn their output layouts before a
// clip whose step count happens to equal a hidden size.
func (tr *Transcriber) warmUp() error {
	_, err := tr.encode(make([]float32, tr.manifest.SampleRate/2))
	if err != nil && !errors.Is(err, ErrAmbiguousLayout) {
		return err
	}
	return tr.greedy.learnLayout()
}

func (tr *Transcriber) Close() error {
	var errs []error
	for _, s := range []ort.Session{tr.encoder, tr.decoder, tr.joint} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

func (tr *Transcriber) Transcribe(ctx context.Context, clip *audio.Clip) (*Result, error) {
	if err := audio.RequireSampleRate(clip, tr.manifest.SampleRate); err != nil {
		return nil, err
	}

	frames, err := tr.encode(clip.Samples)
	if err != nil {
		return nil, err
	}

	tokens, err := tr.greedy.decode(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	chars := charStamps(tokens, tr.vocab, tr.frameSeconds)
	words := wordStamps(chars, tr.frameSeconds)
	return &Result{
		Text:     Text(tokens, tr.vocab),
		Tokens:   tokens,
		Frames:   len(frames),
		Chars:    chars,
		Words:    words,
		Segments: segmentStamps(words, tr.frameSeconds),
	}, nil
}

// encode runs the encoder and returns one hidden vector per valid frame.
func (tr *Transcriber) encode(samples []float32) ([][]float32, error) {
	signal, length, err := tr.pre.Process(samples).Tensors(export.EncoderSignature.Inputs[0], export.EncoderSignature.Inputs[1])
	if err != nil {
		return nil, err
	}

	out, err := tr.encoder.Run([]*tensor.Tensor{signal, length})
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("encoder returned no outputs")
	}
	frames, layout, err := Steps(out[0], tr.encoderDim, tr.encoderLayout)
	if err != nil {
		return nil, fmt.Errorf("encoder output: %w", err)
	}
	tr.encoderLayout = layout
	if len(out) > 1 {
		frames = trimFrames(frames, out[1])
	}
	tr.log.Debug("encoded", zap.Int("frames", len(frames)), zap.Int64s("shape", out[0].Shape))
	return frames, nil
}

// trimFrames drops padding frames past the encoder's reported length.
func trimFrames(frames [][]float32, length *tensor.Tensor) [][]float32 {
	var n int64 = -1
	switch v := length.Data.(type) {
	case []int64:
		if len(v) > 0 {
			n = v[0]
		}
	case []int32:
		if len(v) > 0 {
			n = int64(v[0])
		}
	}
	if n >= 0 && n < int64(len(frames)) {
		return frames[:n]
	}
	return frames
}
