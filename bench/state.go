package bench

import (
	"github.com/K3das/parakeet/features"
	"github.com/K3das/parakeet/tensor"
)

// Tensor names of the combined model served by the inference server.
const (
	InputSignal       = "audio_signal"
	InputLength       = "length"
	InputTargets      = "targets"
	InputTargetLength = "target_length"
	InputStates       = "states.1"
	InputStatesSlice  = "onnx::Slice_3"

	OutputFinal = "final_outputs"
)

// StateDim is the prediction network's hidden size.
const StateDim = 640

// DecoderState is the initial decoder input for batch: no tokens emitted yet
// and zeroed recurrent state.
func DecoderState(batch int64) []*tensor.Tensor {
	return []*tensor.Tensor{
		tensor.ZerosInt32(InputTargets, batch, 1),
		tensor.OnesInt32(InputTargetLength, batch),
		tensor.ZerosFloat32(InputStates, 2, batch, StateDim),
		tensor.ZerosFloat32(InputStatesSlice, 2, 1, StateDim),
	}
}

// BuildInputs returns the six inputs of one batch=1 inference call.
func BuildInputs(f *features.Features) ([]*tensor.Tensor, error) {
	signal, length, err := f.Tensors(InputSignal, InputLength)
	if err != nil {
		return nil, err
	}
	return append([]*tensor.Tensor{signal, length}, DecoderState(1)...), nil
}
