package export

import (
	"math/rand"

	"github.com/K3das/parakeet/features"
	"github.com/K3das/parakeet/onnx"
	"github.com/K3das/parakeet/tensor"
)

// encoderInputs is one second of random audio through the preprocessor.
// The mel bin count follows the graph when it declares one.
func encoderInputs(g *onnx.Graph, cfg ModelConfig, rng *rand.Rand) ([]*tensor.Tensor, error) {
	inputs := g.RealInputs()

	fcfg := features.DefaultConfig()
	fcfg.SampleRate = cfg.SampleRate
	fcfg.Features = cfg.NMels
	if dims := inputs[0].Dims(); len(dims) == 3 && dims[1].HasValue {
		fcfg.Features = int(dims[1].Value)
	}

	pre, err := features.New(fcfg)
	if err != nil {
		return nil, err
	}

	samples := make([]float32, dummyAudioSamples)
	for i := range samples {
		samples[i] = float32(rng.NormFloat64())
	}

	signal, length, err := pre.Process(samples).Tensors(inputs[0].Name, inputs[1].Name)
	if err != nil {
		return nil, err
	}
	return castInputs(inputs, signal, length)
}

// decoderInputs is a random token sequence in [0, vocab).
func decoderInputs(g *onnx.Graph, vocabSize int, rng *rand.Rand) ([]*tensor.Tensor, error) {
	inputs := g.RealInputs()

	tokens := make([]int64, dummyTargetLength)
	for i := range tokens {
		tokens[i] = rng.Int63n(int64(vocabSize))
	}
	targets, err := tensor.NewInt64(inputs[0].Name, []int64{1, dummyTargetLength}, tokens)
	if err != nil {
		return nil, err
	}
	length, err := tensor.NewInt64(inputs[1].Name, []int64{1}, []int64{dummyTargetLength})
	if err != nil {
		return nil, err
	}
	return castInputs(inputs, targets, length)
}

// jointInputs are random activations shaped like real encoder and decoder
// outputs.
func jointInputs(g *onnx.Graph, encoderDim, decoderDim int64, rng *rand.Rand) ([]*tensor.Tensor, error) {
	inputs := g.RealInputs()

	enc, err := randomFloat32(inputs[0].Name, rng, 1, dummyJointTimeSteps, encoderDim)
	if err != nil {
		return nil, err
	}
	dec, err := randomFloat32(inputs[1].Name, rng, 1, dummyTargetLength, decoderDim)
	if err != nil {
		return nil, err
	}
	return castInputs(inputs, enc, dec)
}

func randomFloat32(name string, rng *rand.Rand, shape ...int64) (*tensor.Tensor, error) {
	data := make([]float32, tensor.Elements(shape))
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return tensor.NewFloat32(name, shape, data)
}

// castInputs converts each tensor to the datatype its graph input declares.
func castInputs(inputs []*onnx.ValueInfo, tensors ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	out := make([]*tensor.Tensor, len(tensors))
	for i, t := range tensors {
		datatype, err := inputs[i].Datatype()
		if err != nil {
			return nil, err
		}
		if out[i], err = tensor.Cast(t, datatype); err != nil {
			return nil, err
		}
	}
	return out, nil
}
