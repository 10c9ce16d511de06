package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// KaimingUniform initializes weights from U(-bound, bound) with
// bound = sqrt(6 / fan_in).
//
// This keeps activation variance stable for ReLU-family networks and is the
// default initialization for encoder and decoder weight matrices.
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn))

	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		//nolint:gosec // G404: math/rand for weight initialization (not security-critical)
		data[i] = float32((rand.Float64()*2.0 - 1.0) * bound)
	}

	return t
}

// Orthogonal initializes a 2D weight tensor so that the rows (if rows <= cols)
// or columns (otherwise) are mutually orthonormal.
//
// A random normal matrix is factored with gonum's QR decomposition and the Q
// factor is taken as the weight. For an overcomplete decoder (rows > cols)
// only cols directions can be mutually orthogonal; the rows then form an
// orthonormal-column frame, matching the behavior of the usual orthogonal
// initializers.
func Orthogonal[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	if len(shape) != 2 {
		panic("Orthogonal: expected 2D shape")
	}
	rows, cols := shape[0], shape[1]

	// QR requires a tall (or square) matrix; factor the transpose when wide.
	transposed := rows < cols
	m, n := rows, cols
	if transposed {
		m, n = cols, rows
	}

	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rand.NormFloat64()) //nolint:gosec // G404: weight init
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q) // m x n, orthonormal columns

	t := tensor.Zeros[float32](shape, backend)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if transposed {
				t.Set(float32(q.At(j, i)), i, j)
			} else {
				t.Set(float32(q.At(i, j)), i, j)
			}
		}
	}
	return t
}

// Zeros creates a zero-filled tensor. Commonly used for bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor filled with ones. Used for the scaling factor.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
