package inference

import (
	"testing"

	"github.com/K3das/parakeet/tensor"
)

func TestResultOutput(t *testing.T) {
	r := &Result{Outputs: []*tensor.Tensor{tensor.ZerosFloat32("final_outputs", 1, 2, 3)}}

	out, ok := r.Output("final_outputs")
	if !ok || out.Rank() != 3 {
		t.Fatalf("Output = %+v, %v", out, ok)
	}
	if _, ok := r.Output("logits"); ok {
		t.Fatal("found an output that was not returned")
	}

	var nilResult *Result
	if _, ok := nilResult.Output("final_outputs"); ok {
		t.Fatal("nil result has outputs")
	}
}
