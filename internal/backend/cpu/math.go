package cpu

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// MulScalar multiplies each element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	s32 := float32(scalar)
	return cpu.unaryOp(x,
		func(v float32) float32 { return v * s32 },
		func(v float64) float64 { return v * scalar })
}

// AddScalar adds a scalar to each element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	s32 := float32(scalar)
	return cpu.unaryOp(x,
		func(v float32) float32 { return v + s32 },
		func(v float64) float64 { return v + scalar })
}

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp(x, math32.Exp, math.Exp)
}

// Sqrt computes the square root element-wise.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp(x, math32.Sqrt, math.Sqrt)
}
