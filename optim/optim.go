// Copyright 2025 The Sparsecoder Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides gradient-based optimizers.
//
// Optimizers consume the gradients a backward pass accumulated into
// parameters and update the parameter tensors in place.
//
// Example:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 3e-4})
//
//	for step := 0; step < steps; step++ {
//	    optimizer.ZeroGrad()
//	    out := model.Forward(batch, deadMask)
//	    model.Backward(batch, out, deadMask)
//	    optimizer.Step()
//	}
package optim

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/optim"
	"github.com/sparsecoder-ml/sparsecoder/nn"
	"github.com/sparsecoder-ml/sparsecoder/tensor"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer = optim.Optimizer

// SGD is stochastic gradient descent with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig contains configuration for the SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	return optim.NewSGD(params, config)
}

// Adam is the Adam optimizer with bias correction.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig contains configuration for the Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	return optim.NewAdam(params, config)
}
