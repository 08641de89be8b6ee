package inference

import (
	"context"

	"github.com/K3das/parakeet/tensor"
)

type InferenceAPI interface {
	Infer(ctx context.Context, model string, inputs []*tensor.Tensor, outputs []string) (*Result, error)
}

type Result struct {
	ModelName    string
	ModelVersion string
	Outputs      []*tensor.Tensor
}

// Output returns the named output. A missing output is not an error here;
// callers decide what an absent tensor means.
func (r *Result) Output(name string) (*tensor.Tensor, bool) {
	if r == nil {
		return nil, false
	}
	for _, t := range r.Outputs {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}
