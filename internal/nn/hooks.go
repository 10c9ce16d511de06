package nn

import (
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// HookFn observes or replaces a tensor passing through a hook point.
// Returning nil leaves the tensor unchanged; returning a tensor substitutes
// it for the rest of the pipeline (activation patching).
type HookFn[B tensor.Backend] func(t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

// HookPoint is a named pass-through tap in a model's forward pipeline.
// With no registered hooks it is the identity; external tooling can register
// hooks to cache or override intermediate tensors without changing the
// model's control flow.
type HookPoint[B tensor.Backend] struct {
	name string
	fns  []HookFn[B]
}

// NewHookPoint creates a hook point with the given name.
func NewHookPoint[B tensor.Backend](name string) *HookPoint[B] {
	return &HookPoint[B]{name: name}
}

// Name returns the hook point's name.
func (h *HookPoint[B]) Name() string {
	return h.name
}

// Register adds a hook function. Hooks run in registration order.
func (h *HookPoint[B]) Register(fn HookFn[B]) {
	h.fns = append(h.fns, fn)
}

// Clear removes all registered hooks.
func (h *HookPoint[B]) Clear() {
	h.fns = nil
}

// Call passes t through every registered hook and returns the result.
// With no hooks registered this is the identity.
func (h *HookPoint[B]) Call(t *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	for _, fn := range h.fns {
		if out := fn(t); out != nil {
			t = out
		}
	}
	return t
}
