package tensor

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewFloat32ShapeMismatch(t *testing.T) {
	_, err := NewFloat32("x", []int64{2, 3}, make([]float32, 5))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestDecoderStateConstructors(t *testing.T) {
	targets := ZerosInt32("targets", 1, 1)
	if dt, _ := targets.Datatype(); dt != DatatypeINT32 {
		t.Errorf("targets datatype = %s", dt)
	}

	lengths := OnesInt32("target_length", 3)
	data, _ := lengths.Int32()
	if !reflect.DeepEqual(data, []int32{1, 1, 1}) {
		t.Errorf("ones = %v", data)
	}

	state := ZerosFloat32("states.1", 2, 1, 640)
	if state.Elements() != 1280 || state.ByteSize() != 5120 {
		t.Errorf("elements=%d bytes=%d", state.Elements(), state.ByteSize())
	}
	if err := state.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestSqueeze(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
		axis  int
		want  []int64
	}{
		{"singleton", []int64{1, 20, 1, 1030}, 2, []int64{1, 20, 1030}},
		{"not singleton", []int64{1, 20, 3, 1030}, 2, []int64{1, 20, 3, 1030}},
		{"out of range", []int64{1, 20}, 2, []int64{1, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := &Tensor{Shape: tt.shape}
			x.Squeeze(tt.axis)
			if !reflect.DeepEqual(x.Shape, tt.want) {
				t.Errorf("got %v, want %v", x.Shape, tt.want)
			}
		})
	}
}

func TestInt64ByteSize(t *testing.T) {
	x, err := NewInt64("length", []int64{1}, []int64{42})
	if err != nil {
		t.Fatal(err)
	}
	if x.ByteSize() != 8 {
		t.Errorf("byte size = %d", x.ByteSize())
	}
	if x.LastDim() != 1 {
		t.Errorf("last dim = %d", x.LastDim())
	}
}

func TestCast(t *testing.T) {
	in, _ := NewInt64("targets", []int64{1, 3}, []int64{5, 6, 7})

	got, err := Cast(in, DatatypeINT32)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Int32(); !ok || !reflect.DeepEqual(v, []int32{5, 6, 7}) {
		t.Fatalf("INT32 cast = %+v", got)
	}
	if !reflect.DeepEqual(got.Shape, in.Shape) || got.Name != "targets" {
		t.Fatalf("cast lost name or shape: %+v", got)
	}

	f, err := Cast(got, DatatypeFP32)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := f.Float32(); v[2] != 7 {
		t.Fatalf("FP32 cast = %v", v)
	}

	for _, dt := range []string{"", DatatypeINT64} {
		if same, err := Cast(in, dt); err != nil || same != in {
			t.Fatalf("Cast(%q) = %v, %v; want the input back", dt, same, err)
		}
	}

	if _, err := Cast(in, "BOOL"); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Fatalf("BOOL cast err = %v", err)
	}
}
