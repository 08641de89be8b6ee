// Package ort runs exported sub-networks locally through ONNX Runtime.
//
// ONNX Runtime is loaded from a shared library at runtime. Env is process
// wide; create it once in main and close it on exit.
package ort

import (
	"fmt"
	"sync"

	"github.com/K3das/parakeet/tensor"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

// Runtime opens sessions over ONNX files.
type Runtime interface {
	NewSession(path string, inputs, outputs []string) (Session, error)
}

// Session runs one model. Inputs are matched to the session's input names by
// position and outputs come back in the order they were declared.
type Session interface {
	Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	Close() error
}

var envMu sync.Mutex

// Env is the ONNX Runtime environment.
type Env struct{}

// NewEnv loads the ONNX Runtime shared library from libraryPath (empty uses
// the platform default name) and initialises the environment.
func NewEnv(libraryPath string) (*Env, error) {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime.IsInitialized() {
		return &Env{}, nil
	}
	if libraryPath != "" {
		onnxruntime.SetSharedLibraryPath(libraryPath)
	}
	if err := onnxruntime.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}
	return &Env{}, nil
}

func (e *Env) Close() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !onnxruntime.IsInitialized() {
		return nil
	}
	if err := onnxruntime.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroying onnxruntime environment: %w", err)
	}
	return nil
}

func (e *Env) NewSession(path string, inputs, outputs []string) (Session, error) {
	s, err := onnxruntime.NewDynamicAdvancedSession(path, inputs, outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return &session{
		session: s,
		outputs: append([]string(nil), outputs...),
	}, nil
}

type session struct {
	session *onnxruntime.DynamicAdvancedSession
	outputs []string
}

func (s *session) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	values := make([]onnxruntime.Value, 0, len(inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	for _, in := range inputs {
		v, err := toValue(in)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	// nil outputs are allocated by onnxruntime
	outputs := make([]onnxruntime.Value, len(s.outputs))
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("running session: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	result := make([]*tensor.Tensor, len(outputs))
	for i, v := range outputs {
		t, err := fromValue(s.outputs[i], v)
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *session) Close() error {
	return s.session.Destroy()
}

func toValue(t *tensor.Tensor) (onnxruntime.Value, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	shape := onnxruntime.NewShape(t.Shape...)

	var (
		v   onnxruntime.Value
		err error
	)
	switch data := t.Data.(type) {
	case []float32:
		v, err = onnxruntime.NewTensor(shape, data)
	case []int64:
		v, err = onnxruntime.NewTensor(shape, data)
	case []int32:
		v, err = onnxruntime.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("%s: %w: %T", t.Name, tensor.ErrUnsupportedDatatype, t.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("creating input %s: %w", t.Name, err)
	}
	return v, nil
}

// fromValue copies an output out of onnxruntime memory.
func fromValue(name string, v onnxruntime.Value) (*tensor.Tensor, error) {
	shape := append([]int64(nil), v.GetShape()...)

	switch ov := v.(type) {
	case *onnxruntime.Tensor[float32]:
		return tensor.NewFloat32(name, shape, append([]float32(nil), ov.GetData()...))
	case *onnxruntime.Tensor[int64]:
		return tensor.NewInt64(name, shape, append([]int64(nil), ov.GetData()...))
	case *onnxruntime.Tensor[int32]:
		return tensor.NewInt32(name, shape, append([]int32(nil), ov.GetData()...))
	default:
		return nil, fmt.Errorf("output %s: %w: %T", name, tensor.ErrUnsupportedDatatype, v)
	}
}
