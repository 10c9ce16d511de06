package cpu

import (
	"fmt"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// SumDim sums along a dimension. Negative dims index from the end.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim(x, dim, keepDim, false)
}

// MeanDim averages along a dimension. Negative dims index from the end.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim(x, dim, keepDim, true)
}

func (cpu *CPUBackend) reduceDim(x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("reduce: dimension %d out of range for shape %v", dim, x.Shape()))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for d, size := range shape {
		if d == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, size)
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("reduce: %v", err))
	}

	// outer iterates dims before `dim`, inner iterates dims after it.
	outer, inner := 1, 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	n := shape[dim]

	switch x.DType() {
	case tensor.Float32:
		reduceKernel(result.AsFloat32(), x.AsFloat32(), outer, n, inner, mean)
	case tensor.Float64:
		reduceKernel(result.AsFloat64(), x.AsFloat64(), outer, n, inner, mean)
	}

	return result
}

func reduceKernel[T float32 | float64](out, in []T, outer, n, inner int, mean bool) {
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var sum T
			base := o * n * inner
			for k := 0; k < n; k++ {
				sum += in[base+k*inner+i]
			}
			if mean {
				sum /= T(n)
			}
			out[o*inner+i] = sum
		}
	}
}
