// Package sae implements sparse autoencoders for decomposing neural network
// activations into interpretable feature dictionaries.
//
// Autoencoder is the inference core: encode, decode, forward, and checkpoint
// persistence. TrainingAutoencoder extends it with the composite training
// loss (reconstruction, sparsity, ghost gradients), training-time weight
// initialization heuristics, and the analytic backward pass that populates
// parameter gradients for an external optimizer.
//
// The autoencoder never attaches to a host model. It consumes activation
// batches of shape [batch, d_in] and exposes named hook points so external
// tooling can observe or patch intermediate tensors.
package sae
