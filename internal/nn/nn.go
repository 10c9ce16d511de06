// Package nn provides the neural-network building blocks for the sparse
// autoencoder:
//   - Parameter: trainable tensors with gradient storage
//   - HookPoint: pass-through instrumentation taps
//   - Weight initializers: Kaiming-uniform, orthogonal
//   - Activation-function registry
//
// Design inspired by PyTorch's nn module but adapted for Go generics.
package nn
