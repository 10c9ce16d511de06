// Copyright 2025 The Sparsecoder Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for model building blocks: trainable
// parameters, hook points, activations, and weight initializers.
package nn

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/nn"
	"github.com/sparsecoder-ml/sparsecoder/tensor"
)

// Parameter represents a trainable parameter: a tensor plus its accumulated
// gradient.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// HookFn observes or replaces a tensor passing through a hook point.
type HookFn[B tensor.Backend] = nn.HookFn[B]

// HookPoint is a named pass-through tap in a model's forward pipeline.
type HookPoint[B tensor.Backend] = nn.HookPoint[B]

// NewHookPoint creates a hook point with the given name.
func NewHookPoint[B tensor.Backend](name string) *HookPoint[B] {
	return nn.NewHookPoint[B](name)
}

// ActivationFn is an element-wise activation function.
type ActivationFn[B tensor.Backend] = nn.ActivationFn[B]

// GetActivationFn resolves an activation function by name.
// Supported: "relu", "identity", "tanh".
func GetActivationFn[B tensor.Backend](name string) (ActivationFn[B], error) {
	return nn.GetActivationFn[B](name)
}

// KaimingUniform initializes weights from U(-bound, bound) with
// bound = sqrt(6 / fan_in).
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.KaimingUniform[B](fanIn, shape, backend)
}

// Orthogonal initializes a 2D weight tensor with orthonormal rows or columns.
func Orthogonal[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return nn.Orthogonal[B](shape, backend)
}
