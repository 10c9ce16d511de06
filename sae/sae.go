// Copyright 2025 The Sparsecoder Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sae provides the public API for sparse autoencoders.
//
// An Autoencoder decomposes neural network activations into a sparse,
// overcomplete feature dictionary and reconstructs them from it. A
// TrainingAutoencoder adds the composite training loss and an analytic
// backward pass that fills parameter gradients for the optim package.
//
// Example:
//
//	backend := cpu.New()
//	model, err := sae.NewTraining(sae.TrainingConfig{
//	    Config: sae.Config{
//	        DIn:              768,
//	        DSae:             768 * 16,
//	        ApplyBDecToInput: true,
//	    },
//	    L1Coefficient: 1e-3,
//	    LpNorm:        1,
//	}, backend)
package sae

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/pretrained"
	"github.com/sparsecoder-ml/sparsecoder/internal/sae"
	"github.com/sparsecoder-ml/sparsecoder/tensor"
)

// Config holds the construction parameters and provenance metadata of a
// sparse autoencoder.
type Config = sae.Config

// TrainingConfig extends Config with training knobs.
type TrainingConfig = sae.TrainingConfig

// Autoencoder is the inference sparse autoencoder.
type Autoencoder[B tensor.Backend] = sae.Autoencoder[B]

// TrainingAutoencoder extends Autoencoder with the composite training loss
// and the analytic backward pass.
type TrainingAutoencoder[B tensor.Backend] = sae.TrainingAutoencoder[B]

// ForwardOutput bundles the tensors and loss components of one training
// forward pass.
type ForwardOutput[B tensor.Backend] = sae.ForwardOutput[B]

// MSE loss normalization modes.
const (
	MSENormNone       = sae.MSENormNone
	MSENormDenseBatch = sae.MSENormDenseBatch
)

// DefaultDecoderNorm is the target row norm for the heuristic decoder
// initialization.
const DefaultDecoderNorm = sae.DefaultDecoderNorm

// New constructs an inference Autoencoder with default weights.
func New[B tensor.Backend](cfg Config, backend B) (*Autoencoder[B], error) {
	return sae.New(cfg, backend)
}

// NewTraining constructs a TrainingAutoencoder in training mode.
func NewTraining[B tensor.Backend](cfg TrainingConfig, backend B) (*TrainingAutoencoder[B], error) {
	return sae.NewTraining(cfg, backend)
}

// LoadFromPretrained reads a checkpoint directory written by SaveModel.
func LoadFromPretrained[B tensor.Backend](dir string, backend B) (*Autoencoder[B], error) {
	return sae.LoadFromPretrained(dir, backend)
}

// LoadSparsity reads the optional sparsity tensor from a checkpoint
// directory. Returns (nil, nil) when the checkpoint has no sparsity file.
func LoadSparsity[B tensor.Backend](dir string, backend B) (*tensor.Tensor[float32, B], error) {
	return sae.LoadSparsity(dir, backend)
}

// FromPretrained loads a released autoencoder through the pretrained
// directory.
func FromPretrained[B tensor.Backend](directory *Directory, release, saeID string, backend B) (*Autoencoder[B], error) {
	return sae.FromPretrained(directory, release, saeID, backend)
}

// Pretrained directory types.

// Directory is a lookup table of pretrained SAE releases.
type Directory = pretrained.Directory

// ReleaseInfo describes one release in the pretrained directory.
type ReleaseInfo = pretrained.ReleaseInfo

// LoadRequest describes a checkpoint for a conversion loader to load.
type LoadRequest = pretrained.LoadRequest

// ConversionLoader turns a release's raw checkpoint files into a config
// mapping and a state dict.
type ConversionLoader = pretrained.ConversionLoader

// NewDirectory builds a Directory from an in-memory release table.
func NewDirectory(releases map[string]ReleaseInfo) *Directory {
	return pretrained.NewDirectory(releases)
}

// LoadDirectory parses a YAML release table from disk.
func LoadDirectory(path string) (*Directory, error) {
	return pretrained.LoadDirectory(path)
}

// RegisterConversionLoader adds a named loader for foreign checkpoint
// formats.
func RegisterConversionLoader(name string, loader ConversionLoader) {
	pretrained.RegisterConversionLoader(name, loader)
}
