// Package optim implements gradient-based optimizers over nn.Parameter.
//
// Optimizers read the gradients a backward pass accumulated into parameters
// and update the parameter tensors in place. Parameters with nil gradients
// are skipped.
package optim

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update from the current gradients.
	Step()
	// ZeroGrad clears all parameter gradients.
	ZeroGrad()
}
