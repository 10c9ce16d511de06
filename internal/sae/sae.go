package sae

import (
	"fmt"

	"github.com/sparsecoder-ml/sparsecoder/internal/nn"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// State dictionary keys. These are the tensor names written to and expected
// from checkpoint files.
const (
	KeyWEnc          = "W_enc"
	KeyBEnc          = "b_enc"
	KeyWDec          = "W_dec"
	KeyBDec          = "b_dec"
	KeyScalingFactor = "scaling_factor"
)

// Hook point names.
const (
	HookNameSAEIn      = "hook_sae_in"
	HookNameHiddenPre  = "hook_hidden_pre"
	HookNameHiddenPost = "hook_hidden_post"
	HookNameSAEOut     = "hook_sae_out"
)

// Autoencoder is a sparse autoencoder over activation vectors.
//
// Given inputs of shape [batch, d_in] it produces a sparse, overcomplete
// feature representation of shape [batch, d_sae] (encode) and reconstructs
// the input from it (decode). Parameters:
//
//	W_enc [d_in, d_sae]    encoder weights
//	b_enc [d_sae]          encoder bias
//	W_dec [d_sae, d_in]    decoder weights (rows are feature directions)
//	b_dec [d_in]           decoder bias, optionally also an input centering term
//
// A per-feature scaling factor is present only when the config enables it
// (fine-tuning); otherwise decode applies no scaling.
type Autoencoder[B tensor.Backend] struct {
	cfg     Config
	backend B

	activation nn.ActivationFn[B]

	WEnc *nn.Parameter[B]
	BEnc *nn.Parameter[B]
	WDec *nn.Parameter[B]
	BDec *nn.Parameter[B]

	// ScalingFactor is nil unless cfg.UsesScalingFactor.
	ScalingFactor *nn.Parameter[B]

	HookSAEIn      *nn.HookPoint[B]
	HookHiddenPre  *nn.HookPoint[B]
	HookHiddenPost *nn.HookPoint[B]
	HookSAEOut     *nn.HookPoint[B]
}

// New constructs an Autoencoder with default (Kaiming uniform) weights.
func New[B tensor.Backend](cfg Config, backend B) (*Autoencoder[B], error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid sae config: %w", err)
	}

	activation, err := nn.GetActivationFn[B](cfg.ActivationFn)
	if err != nil {
		return nil, fmt.Errorf("invalid sae config: %w", err)
	}

	s := &Autoencoder[B]{
		cfg:        cfg,
		backend:    backend,
		activation: activation,

		HookSAEIn:      nn.NewHookPoint[B](HookNameSAEIn),
		HookHiddenPre:  nn.NewHookPoint[B](HookNameHiddenPre),
		HookHiddenPost: nn.NewHookPoint[B](HookNameHiddenPost),
		HookSAEOut:     nn.NewHookPoint[B](HookNameSAEOut),
	}
	s.initializeWeights()

	return s, nil
}

// initializeWeights draws the default parameter values: Kaiming uniform
// weights and zero biases.
func (s *Autoencoder[B]) initializeWeights() {
	dIn, dSae := s.cfg.DIn, s.cfg.DSae

	s.WEnc = nn.NewParameter(KeyWEnc,
		nn.KaimingUniform[B](dIn, tensor.Shape{dIn, dSae}, s.backend))
	s.BEnc = nn.NewParameter(KeyBEnc,
		nn.Zeros[B](tensor.Shape{dSae}, s.backend))
	s.WDec = nn.NewParameter(KeyWDec,
		nn.KaimingUniform[B](dSae, tensor.Shape{dSae, dIn}, s.backend))
	s.BDec = nn.NewParameter(KeyBDec,
		nn.Zeros[B](tensor.Shape{dIn}, s.backend))

	if s.cfg.UsesScalingFactor {
		s.ScalingFactor = nn.NewParameter(KeyScalingFactor,
			nn.Ones[B](tensor.Shape{dSae}, s.backend))
	}
}

// Config returns the autoencoder's configuration.
func (s *Autoencoder[B]) Config() Config {
	return s.cfg
}

// Backend returns the computation backend.
func (s *Autoencoder[B]) Backend() B {
	return s.backend
}

// GetName returns a canonical identifier derived from provenance metadata,
// used to name checkpoint directories.
func (s *Autoencoder[B]) GetName() string {
	return fmt.Sprintf("sparse_autoencoder_%s_%s_%d", s.cfg.ModelName, s.cfg.HookPoint, s.cfg.DSae)
}

// Encode maps activations [batch, d_in] to feature activations
// [batch, d_sae].
//
// The input is optionally centered by b_dec, projected through the encoder,
// and passed through the activation function. The hook_sae_in,
// hook_hidden_pre and hook_hidden_post taps fire in that order.
func (s *Autoencoder[B]) Encode(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	hiddenPre := s.hiddenPre(x)
	return s.HookHiddenPost.Call(s.activation(hiddenPre))
}

// hiddenPre computes the pre-activation features, firing the input-side hooks.
func (s *Autoencoder[B]) hiddenPre(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	saeIn := x
	if s.cfg.ApplyBDecToInput {
		saeIn = x.Sub(s.BDec.Tensor())
	}
	saeIn = s.HookSAEIn.Call(saeIn)

	hiddenPre := saeIn.MatMul(s.WEnc.Tensor()).Add(s.BEnc.Tensor())
	return s.HookHiddenPre.Call(hiddenPre)
}

// Decode reconstructs activations [batch, d_in] from feature activations
// [batch, d_sae], firing the hook_sae_out tap.
func (s *Autoencoder[B]) Decode(featureActs *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	scaled := s.applyScalingFactor(featureActs)
	out := scaled.MatMul(s.WDec.Tensor()).Add(s.BDec.Tensor())
	return s.HookSAEOut.Call(out)
}

// applyScalingFactor multiplies feature activations by the per-feature
// scaling factor. Identity when the scaling factor is absent.
func (s *Autoencoder[B]) applyScalingFactor(featureActs *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if s.ScalingFactor == nil {
		return featureActs
	}
	return featureActs.Mul(s.ScalingFactor.Tensor())
}

// Forward encodes and decodes in one pass, returning the reconstruction.
func (s *Autoencoder[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return s.Decode(s.Encode(x))
}

// Parameters returns all trainable parameters.
func (s *Autoencoder[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{s.WEnc, s.BEnc, s.WDec, s.BDec}
	if s.ScalingFactor != nil {
		params = append(params, s.ScalingFactor)
	}
	return params
}

// StateDict returns the parameter tensors keyed by their checkpoint names.
func (s *Autoencoder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor, 5)
	for _, p := range s.Parameters() {
		sd[p.Name()] = p.Tensor().Raw()
	}
	return sd
}

// LoadStateDict copies checkpoint tensors into the parameters.
//
// The checkpoint's key set must exactly match this autoencoder's parameters;
// a missing or unexpected key is an error naming the offending key, so a
// config/weights mismatch surfaces immediately instead of as silent NaNs.
func (s *Autoencoder[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	params := s.Parameters()

	byName := make(map[string]*nn.Parameter[B], len(params))
	for _, p := range params {
		byName[p.Name()] = p
	}

	for name := range stateDict {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("state dict has unexpected tensor %q", name)
		}
	}

	for _, p := range params {
		raw, ok := stateDict[p.Name()]
		if !ok {
			return fmt.Errorf("state dict is missing tensor %q", p.Name())
		}
		if !raw.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("tensor %q has shape %v, want %v", p.Name(), raw.Shape(), p.Tensor().Shape())
		}
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("tensor %q has dtype %s, want %s", p.Name(), raw.DType(), tensor.Float32)
		}
		copy(p.Tensor().Raw().Data(), raw.Data())
	}

	return nil
}
