package tensor

import (
	"math"
	"testing"
)

// Test helpers

func assertEqualFloat32(t *testing.T, expected, actual float32, msg string) {
	t.Helper()
	if math.Abs(float64(expected-actual)) > 1e-6 {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

func assertEqualShape(t *testing.T, expected, actual Shape, msg string) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Errorf("%s: expected shape %v, got %v", msg, expected, actual)
	}
}

// DType tests

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
	}{
		{Float32, 4},
		{Float64, 8},
	}

	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in      string
		want    DataType
		wantErr bool
	}{
		{"float32", Float32, false},
		{"torch.float32", Float32, false},
		{"float64", Float64, false},
		{"torch.float64", Float64, false},
		{"bfloat16", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDataType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDataType(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDataType(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDataType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Shape tests

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{}, 1},
		{Shape{5}, 5},
		{Shape{2, 3}, 6},
		{Shape{2, 3, 4}, 24},
	}

	for _, tt := range tests {
		if got := tt.shape.NumElements(); got != tt.want {
			t.Errorf("Shape%v.NumElements() = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestShapeValidate(t *testing.T) {
	if err := (Shape{2, 3}).Validate(); err != nil {
		t.Errorf("valid shape rejected: %v", err)
	}
	if err := (Shape{2, -1}).Validate(); err == nil {
		t.Error("negative dimension accepted")
	}
}

func TestComputeStrides(t *testing.T) {
	strides := Shape{2, 3, 4}.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("strides = %v, want %v", strides, want)
			break
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b    Shape
		want    Shape
		needs   bool
		wantErr bool
	}{
		{Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false, false},
		{Shape{2, 3}, Shape{3}, Shape{2, 3}, true, false},
		{Shape{2, 1}, Shape{1, 3}, Shape{2, 3}, true, false},
		{Shape{4, 1, 3}, Shape{2, 1}, Shape{4, 2, 3}, true, false},
		{Shape{2, 3}, Shape{4}, nil, false, true},
	}

	for _, tt := range tests {
		got, needs, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			if err == nil {
				t.Errorf("BroadcastShapes(%v, %v) expected error", tt.a, tt.b)
			}
			continue
		}
		if err != nil {
			t.Errorf("BroadcastShapes(%v, %v) unexpected error: %v", tt.a, tt.b, err)
			continue
		}
		assertEqualShape(t, tt.want, got, "broadcast result")
		if needs != tt.needs {
			t.Errorf("BroadcastShapes(%v, %v) needsBroadcast = %v, want %v", tt.a, tt.b, needs, tt.needs)
		}
	}
}

// RawTensor tests

func TestNewRaw(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}

	assertEqualShape(t, Shape{2, 3}, raw.Shape(), "raw shape")
	if raw.DType() != Float32 {
		t.Errorf("DType = %v, want Float32", raw.DType())
	}
	if raw.ByteSize() != 24 {
		t.Errorf("ByteSize = %d, want 24", raw.ByteSize())
	}

	data := raw.AsFloat32()
	if len(data) != 6 {
		t.Fatalf("AsFloat32 length = %d, want 6", len(data))
	}
	for i, v := range data {
		if v != 0 {
			t.Errorf("data[%d] = %v, want 0 (fresh tensors are zeroed)", i, v)
		}
	}
}

func TestRawClone(t *testing.T) {
	raw, _ := NewRaw(Shape{3}, Float32, CPU)
	raw.AsFloat32()[0] = 7

	clone := raw.Clone()
	clone.AsFloat32()[0] = 9

	if raw.AsFloat32()[0] != 7 {
		t.Error("Clone should not share memory with the original")
	}
}
