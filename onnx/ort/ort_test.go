package ort

import (
	"errors"
	"os"
	"testing"

	"github.com/K3das/parakeet/tensor"
)

func TestToValueRejectsUnsupportedData(t *testing.T) {
	_, err := toValue(&tensor.Tensor{Name: "x", Shape: []int64{2}, Data: []uint8{1, 2}})
	if !errors.Is(err, tensor.ErrUnsupportedDatatype) {
		t.Fatalf("err = %v, want ErrUnsupportedDatatype", err)
	}
}

func TestToValueRejectsShapeMismatch(t *testing.T) {
	_, err := toValue(&tensor.Tensor{Name: "x", Shape: []int64{3}, Data: []float32{1, 2}})
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

// TestEnvLifecycle needs a real onnxruntime shared library.
func TestEnvLifecycle(t *testing.T) {
	lib := os.Getenv("PARAKEET_TEST_ORT_LIBRARY")
	if lib == "" {
		t.Skip("PARAKEET_TEST_ORT_LIBRARY not set")
	}

	env, err := NewEnv(lib)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	// second call reuses the initialised environment
	if _, err := NewEnv(lib); err != nil {
		t.Fatalf("NewEnv again: %v", err)
	}

	in, _ := tensor.NewInt32("x", []int64{1, 3}, []int32{1, 2, 3})
	v, err := toValue(in)
	if err != nil {
		t.Fatalf("toValue: %v", err)
	}
	out, err := fromValue("y", v)
	v.Destroy()
	if err != nil {
		t.Fatalf("fromValue: %v", err)
	}
	got, ok := out.Int32()
	if !ok || len(got) != 3 || got[2] != 3 || out.Shape[1] != 3 {
		t.Fatalf("fromValue = %+v", out)
	}

	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
