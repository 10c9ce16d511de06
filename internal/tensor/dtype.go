package tensor

import "fmt"

// DType is a constraint for supported tensor element types.
type DType interface {
	~float32 | ~float64
}

// DataType is the runtime tag for a tensor's element type.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic(fmt.Sprintf("unknown data type: %d", int(d)))
	}
}

// String returns the canonical dtype name used in checkpoint configs.
func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// ParseDataType resolves a dtype name from a checkpoint config.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "float32", "torch.float32":
		return Float32, nil
	case "float64", "torch.float64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", name)
	}
}

// inferDataType maps a Go element type to its DataType tag.
func inferDataType[T DType](v T) DataType {
	switch any(v).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		panic("unsupported element type")
	}
}
