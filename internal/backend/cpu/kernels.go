package cpu

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/parallel"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// binaryVectorized applies op element-wise over same-shape operands.
func binaryVectorized[T float32 | float64](
	par parallel.Config,
	out, a, b []T,
	op func(x, y T) T,
) {
	parallel.For(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = op(a[i], b[i])
		}
	}, par)
}

// binaryBroadcast applies op element-wise with NumPy-style broadcasting.
// Broadcast dimensions are materialized through zeroed strides: a dimension
// of size 1 contributes stride 0, so its single element is reused.
func binaryBroadcast[T float32 | float64](
	out, a, b []T,
	outShape, aShape, bShape tensor.Shape,
	op func(x, y T) T,
) {
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)

	idx := make([]int, len(outShape))
	for i := range out {
		aOff, bOff := 0, 0
		for d := range idx {
			aOff += idx[d] * aStrides[d]
			bOff += idx[d] * bStrides[d]
		}
		out[i] = op(a[aOff], b[bOff])

		// Advance the multi-dimensional index (row-major order).
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

// broadcastStrides returns strides for reading `shape` as if it were expanded
// to `outShape`: missing leading dimensions and size-1 dimensions get stride 0.
func broadcastStrides(shape, outShape tensor.Shape) []int {
	strides := shape.ComputeStrides()
	result := make([]int, len(outShape))
	offset := len(outShape) - len(shape)
	for d := range outShape {
		src := d - offset
		if src < 0 || shape[src] == 1 {
			result[d] = 0
		} else {
			result[d] = strides[src]
		}
	}
	return result
}

// unaryOp applies op element-wise, producing a fresh tensor.
func (cpu *CPUBackend) unaryOp(
	x *tensor.RawTensor,
	f32 func(v float32) float32,
	f64 func(v float64) float64,
) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(err)
	}

	switch x.DType() {
	case tensor.Float32:
		out, in := result.AsFloat32(), x.AsFloat32()
		parallel.For(len(out), func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = f32(in[i])
			}
		}, cpu.par)
	case tensor.Float64:
		out, in := result.AsFloat64(), x.AsFloat64()
		parallel.For(len(out), func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = f64(in[i])
			}
		}, cpu.par)
	}

	return result
}
