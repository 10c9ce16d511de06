package nn

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// Parameter represents a trainable parameter.
//
// Parameters are tensors whose gradients are populated by a backward pass and
// consumed by an optimizer.
//
// Example:
//
//	weight := nn.NewParameter("W_enc", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad() // after a backward pass
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
// The tensor should be initialized before creating the Parameter; the
// gradient stays nil until a backward pass sets it.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// SetTensor replaces the parameter tensor.
// Used by initialization routines that re-draw a parameter from scratch.
func (p *Parameter[B]) SetTensor(t *tensor.Tensor[float32, B]) {
	p.tensor = t
}

// Grad returns the gradient tensor, or nil if no backward pass has run.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// AccumGrad adds grad into the stored gradient, allocating it on first use.
func (p *Parameter[B]) AccumGrad(grad *tensor.Tensor[float32, B]) {
	if p.grad == nil {
		p.grad = grad.Clone()
		return
	}
	dst := p.grad.Data()
	src := grad.Data()
	for i := range dst {
		dst[i] += src[i]
	}
}

// ZeroGrad clears the gradient tensor.
// Call before each training iteration to avoid accumulating stale gradients.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}
