package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// ActivationFn is an element-wise activation applied to feature
// pre-activations. Implementations must not mutate their input.
type ActivationFn[B tensor.Backend] func(t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

// GetActivationFn resolves an activation function by name.
// Supported: "relu", "identity", "tanh".
func GetActivationFn[B tensor.Backend](name string) (ActivationFn[B], error) {
	switch name {
	case "relu":
		return ReLU[B], nil
	case "identity":
		return Identity[B], nil
	case "tanh":
		return Tanh[B], nil
	default:
		return nil, fmt.Errorf("unknown activation function %q", name)
	}
}

// ReLU applies f(x) = max(0, x) element-wise.
func ReLU[B tensor.Backend](t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := t.Clone()
	data := out.Data()
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	return out
}

// Identity returns its input unchanged.
func Identity[B tensor.Backend](t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return t
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh[B tensor.Backend](t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := t.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = math32.Tanh(v)
	}
	return out
}
