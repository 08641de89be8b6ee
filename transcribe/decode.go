package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/tensor"
)

// DefaultMaxSymbols bounds the tokens emitted on a single encoder frame.
const DefaultMaxSymbols = 10

// Token is one emitted, non-blank token.
type Token struct {
	ID int
	// Frame is the encoder frame the token was emitted on.
	Frame int
	// Duration is the predicted number of frames the token covers.
	Duration int
}

// ErrAmbiguousLayout is returned by Steps when both trailing axes have the
// hidden size and no layout has been learned yet.
var ErrAmbiguousLayout = errors.New("ambiguous activation layout")

// Layout is the axis order of a batch-one activation.
type Layout int

const (
	LayoutUnknown Layout = iota
	// (1, steps, dim)
	LayoutStepsFirst
	// (1, dim, steps)
	LayoutDimFirst
)

// greedy runs TDT greedy decoding. The prediction network is re-run on the
// hypothesis after every emitted token and prepends its own start state.
type greedy struct {
	decoder ort.Session
	joint   ort.Session

	vocabSize   int
	durations   []int
	maxSymbols  int
	targetsType string
	decoderDim  int64

	// learned from the first unambiguous decoder output
	decoderLayout Layout
}

func (g *greedy) blank() int {
	return g.vocabSize
}

func (g *greedy) decode(ctx context.Context, frames [][]float32) ([]Token, error) {
	var tokens []Token

	step, err := g.predict(tokens)
	if err != nil {
		return nil, err
	}

	for t := 0; t < len(frames); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		symbols := 0
		for {
			logits, err := g.jointStep(frames[t], step)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", t, err)
			}
			token, duration, err := g.pick(logits)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", t, err)
			}

			if token != g.blank() {
				tokens = append(tokens, Token{ID: token, Frame: t, Duration: duration})
				if step, err = g.predict(tokens); err != nil {
					return nil, fmt.Errorf("frame %d: %w", t, err)
				}
			} else if duration == 0 {
				duration = 1
			}
			symbols++

			if duration > 0 {
				t += duration
				break
			}
			if symbols >= g.maxSymbols {
				t++
				break
			}
		}
	}
	return tokens, nil
}

// pick splits joint logits into the token and duration distributions.
func (g *greedy) pick(logits []float32) (token, duration int, err error) {
	numTokens := g.vocabSize + 1
	if len(logits) < numTokens {
		return 0, 0, fmt.Errorf("joint returned %d logits for %d tokens", len(logits), numTokens)
	}
	token = argmax(logits[:numTokens])

	if len(g.durations) == 0 {
		return token, 0, nil
	}
	durLogits := logits[numTokens:]
	if len(durLogits) < len(g.durations) {
		return 0, 0, fmt.Errorf("joint returned %d duration logits for %d durations", len(durLogits), len(g.durations))
	}
	return token, g.durations[argmax(durLogits[:len(g.durations)])], nil
}

// predict returns the prediction network state after tokens. The network
// prepends a start step, so its output has len(tokens)+1 steps. An empty
// hypothesis is fed as [blank] and the start step is used.
func (g *greedy) predict(tokens []Token) ([]float32, error) {
	ids := make([]int64, 0, max(len(tokens), 1))
	for _, tok := range tokens {
		ids = append(ids, int64(tok.ID))
	}
	if len(ids) == 0 {
		ids = append(ids, int64(g.blank()))
	}

	steps, err := g.runDecoder(ids)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return steps[0], nil
	}
	return steps[len(steps)-1], nil
}

func (g *greedy) runDecoder(ids []int64) ([][]float32, error) {
	targets, err := tensor.NewInt64("targets", []int64{1, int64(len(ids))}, ids)
	if err != nil {
		return nil, err
	}
	length, err := tensor.NewInt64("target_length", []int64{1}, []int64{int64(len(ids))})
	if err != nil {
		return nil, err
	}
	if targets, err = tensor.Cast(targets, g.targetsType); err != nil {
		return nil, err
	}
	if length, err = tensor.Cast(length, g.targetsType); err != nil {
		return nil, err
	}

	out, err := g.decoder.Run([]*tensor.Tensor{targets, length})
	if err != nil {
		return nil, fmt.Errorf("running decoder: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decoder returned no outputs")
	}
	steps, layout, err := Steps(out[0], g.decoderDim, g.decoderLayout)
	if err != nil {
		return nil, fmt.Errorf("decoder output: %w", err)
	}
	g.decoderLayout = layout
	if len(steps) == 0 {
		return nil, fmt.Errorf("decoder returned an empty sequence")
	}
	return steps, nil
}

// learnLayout runs the prediction network once on a blank sequence whose
// output length differs from the hidden size.
func (g *greedy) learnLayout() error {
	n := 3
	for int64(n) == g.decoderDim || int64(n+1) == g.decoderDim {
		n++
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(g.blank())
	}
	_, err := g.runDecoder(ids)
	return err
}

func (g *greedy) jointStep(frame, step []float32) ([]float32, error) {
	enc, err := tensor.NewFloat32("encoder_outputs", []int64{1, 1, int64(len(frame))}, frame)
	if err != nil {
		return nil, err
	}
	dec, err := tensor.NewFloat32("decoder_outputs", []int64{1, 1, int64(len(step))}, step)
	if err != nil {
		return nil, err
	}

	out, err := g.joint.Run([]*tensor.Tensor{enc, dec})
	if err != nil {
		return nil, fmt.Errorf("running joint: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("joint returned no outputs")
	}
	logits, ok := out[0].Float32()
	if !ok {
		return nil, fmt.Errorf("joint output: %w: %T", tensor.ErrUnsupportedDatatype, out[0].Data)
	}
	return logits, nil
}

// Steps splits a (1, steps, dim) or (1, dim, steps) activation into per-step
// vectors of length dim. The axis holding dim decides the layout; hint only
// breaks the tie when both trailing axes have size dim. The layout used is
// returned.
func Steps(t *tensor.Tensor, dim int64, hint Layout) ([][]float32, Layout, error) {
	data, ok := t.Float32()
	if !ok {
		return nil, LayoutUnknown, fmt.Errorf("%s: %w: %T", t.Name, tensor.ErrUnsupportedDatatype, t.Data)
	}
	if t.Rank() != 3 || t.Shape[0] != 1 {
		return nil, LayoutUnknown, fmt.Errorf("%s: %w: want (1, steps, %d), got %v", t.Name, tensor.ErrShapeMismatch, dim, t.Shape)
	}

	layout := LayoutUnknown
	switch {
	case t.Shape[1] == dim && t.Shape[2] == dim:
		if hint == LayoutUnknown {
			return nil, LayoutUnknown, fmt.Errorf("%s: %w: shape %v", t.Name, ErrAmbiguousLayout, t.Shape)
		}
		layout = hint
	case t.Shape[2] == dim:
		layout = LayoutStepsFirst
	case t.Shape[1] == dim:
		layout = LayoutDimFirst
	default:
		return nil, LayoutUnknown, fmt.Errorf("%s: %w: no axis of %v has size %d", t.Name, tensor.ErrShapeMismatch, t.Shape, dim)
	}

	if layout == LayoutStepsFirst {
		n := int(t.Shape[1])
		steps := make([][]float32, n)
		for i := range steps {
			steps[i] = data[i*int(dim) : (i+1)*int(dim)]
		}
		return steps, layout, nil
	}

	n := int(t.Shape[2])
	steps := make([][]float32, n)
	for i := range steps {
		v := make([]float32, dim)
		for d := range v {
			v[d] = data[d*n+i]
		}
		steps[i] = v
	}
	return steps, layout, nil
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
