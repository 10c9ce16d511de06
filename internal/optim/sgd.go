package optim

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/nn"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule (momentum > 0):
//
//	velocity = momentum * velocity + gradient
//	param    = param - lr * velocity
type SGD[B tensor.Backend] struct {
	params   []*nn.Parameter[B]
	lr       float32
	momentum float32
	velocity map[*nn.Parameter[B]][]float32
}

// SGDConfig holds configuration for the SGD optimizer. A zero LR defaults
// to 0.01; zero momentum means plain gradient descent.
type SGDConfig struct {
	LR       float32
	Momentum float32
}

// NewSGD creates a new SGD optimizer over the given parameters.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:   params,
		lr:       config.LR,
		momentum: config.Momentum,
		velocity: make(map[*nn.Parameter[B]][]float32),
	}
}

// Step applies one SGD update from the parameters' current gradients.
// Parameters with no gradient are skipped.
func (s *SGD[B]) Step() {
	for _, param := range s.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		g := grad.Data()
		w := param.Tensor().Data()

		if s.momentum == 0 {
			for i := range w {
				w[i] -= s.lr * g[i]
			}
			continue
		}

		vel, ok := s.velocity[param]
		if !ok {
			vel = make([]float32, len(w))
			s.velocity[param] = vel
		}
		for i := range w {
			vel[i] = s.momentum*vel[i] + g[i]
			w[i] -= s.lr * vel[i]
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}
