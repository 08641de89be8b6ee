// Package tensor holds the small dense tensor type passed between feature
// extraction, the local ONNX runtime and the remote inference client.
package tensor

import (
	"fmt"
)

// Datatype names follow the KServe v2 inference protocol.
const (
	DatatypeFP32  = "FP32"
	DatatypeINT64 = "INT64"
	DatatypeINT32 = "INT32"
)

var (
	ErrShapeMismatch       = fmt.Errorf("tensor data does not match shape")
	ErrUnsupportedDatatype = fmt.Errorf("unsupported tensor datatype")
)

// Tensor is a named, row-major dense tensor. Data is one of []float32,
// []int64 or []int32.
type Tensor struct {
	Name  string
	Shape []int64
	Data  any
}

func NewFloat32(name string, shape []int64, data []float32) (*Tensor, error) {
	return newTensor(name, shape, data, len(data))
}

func NewInt64(name string, shape []int64, data []int64) (*Tensor, error) {
	return newTensor(name, shape, data, len(data))
}

func NewInt32(name string, shape []int64, data []int32) (*Tensor, error) {
	return newTensor(name, shape, data, len(data))
}

func newTensor(name string, shape []int64, data any, n int) (*Tensor, error) {
	if want := Elements(shape); int64(n) != want {
		return nil, fmt.Errorf("%s: %w: shape %v needs %d values, got %d", name, ErrShapeMismatch, shape, want, n)
	}
	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), shape...),
		Data:  data,
	}, nil
}

func ZerosFloat32(name string, shape ...int64) *Tensor {
	return &Tensor{Name: name, Shape: shape, Data: make([]float32, Elements(shape))}
}

func ZerosInt32(name string, shape ...int64) *Tensor {
	return &Tensor{Name: name, Shape: shape, Data: make([]int32, Elements(shape))}
}

func OnesInt32(name string, shape ...int64) *Tensor {
	data := make([]int32, Elements(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{Name: name, Shape: shape, Data: data}
}

// Elements is the product of the dimensions. A scalar shape has one element.
func Elements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Rank() int {
	return len(t.Shape)
}

func (t *Tensor) Elements() int64 {
	return Elements(t.Shape)
}

// Datatype returns the KServe datatype of the backing slice.
func (t *Tensor) Datatype() (string, error) {
	switch t.Data.(type) {
	case []float32:
		return DatatypeFP32, nil
	case []int64:
		return DatatypeINT64, nil
	case []int32:
		return DatatypeINT32, nil
	default:
		return "", fmt.Errorf("%s: %w: %T", t.Name, ErrUnsupportedDatatype, t.Data)
	}
}

// ByteSize is the size of the raw little-endian encoding of the data.
func (t *Tensor) ByteSize() int64 {
	switch t.Data.(type) {
	case []int64:
		return t.Elements() * 8
	default:
		return t.Elements() * 4
	}
}

func (t *Tensor) Float32() ([]float32, bool) {
	v, ok := t.Data.([]float32)
	return v, ok
}

func (t *Tensor) Int64() ([]int64, bool) {
	v, ok := t.Data.([]int64)
	return v, ok
}

func (t *Tensor) Int32() ([]int32, bool) {
	v, ok := t.Data.([]int32)
	return v, ok
}

// Validate checks that the data length matches the shape.
func (t *Tensor) Validate() error {
	var n int
	switch d := t.Data.(type) {
	case []float32:
		n = len(d)
	case []int64:
		n = len(d)
	case []int32:
		n = len(d)
	default:
		return fmt.Errorf("%s: %w: %T", t.Name, ErrUnsupportedDatatype, t.Data)
	}
	if int64(n) != t.Elements() {
		return fmt.Errorf("%s: %w: shape %v needs %d values, got %d", t.Name, ErrShapeMismatch, t.Shape, t.Elements(), n)
	}
	return nil
}

// Squeeze removes axis if it is a singleton. Anything else leaves the shape
// untouched; the data layout never changes.
func (t *Tensor) Squeeze(axis int) {
	if axis < 0 || axis >= len(t.Shape) || t.Shape[axis] != 1 {
		return
	}
	shape := make([]int64, 0, len(t.Shape)-1)
	shape = append(shape, t.Shape[:axis]...)
	shape = append(shape, t.Shape[axis+1:]...)
	t.Shape = shape
}

// LastDim is the size of the innermost axis, or 0 for a scalar.
func (t *Tensor) LastDim() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[len(t.Shape)-1]
}

// Cast converts t to datatype. Casting to the current datatype or to ""
// returns t itself.
func Cast(t *Tensor, datatype string) (*Tensor, error) {
	current, err := t.Datatype()
	if err != nil {
		return nil, err
	}
	if datatype == "" || datatype == current {
		return t, nil
	}

	switch datatype {
	case DatatypeFP32:
		return NewFloat32(t.Name, t.Shape, convert[float32](t.Data))
	case DatatypeINT64:
		return NewInt64(t.Name, t.Shape, convert[int64](t.Data))
	case DatatypeINT32:
		return NewInt32(t.Name, t.Shape, convert[int32](t.Data))
	default:
		return nil, fmt.Errorf("%s: %w: %s", t.Name, ErrUnsupportedDatatype, datatype)
	}
}

func convert[T float32 | int64 | int32](data any) []T {
	var out []T
	switch d := data.(type) {
	case []float32:
		out = make([]T, len(d))
		for i, v := range d {
			out[i] = T(v)
		}
	case []int64:
		out = make([]T, len(d))
		for i, v := range d {
			out[i] = T(v)
		}
	case []int32:
		out = make([]T, len(d))
		for i, v := range d {
			out[i] = T(v)
		}
	}
	return out
}
