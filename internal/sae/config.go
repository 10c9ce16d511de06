package sae

import (
	"fmt"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// Config holds the construction parameters and provenance metadata of a
// sparse autoencoder. It is serialized verbatim as the checkpoint's cfg.json.
type Config struct {
	// Forward pass.
	DIn               int    `json:"d_in"`
	DSae              int    `json:"d_sae"`
	ActivationFn      string `json:"activation_fn"`
	ApplyBDecToInput  bool   `json:"apply_b_dec_to_input"`
	UsesScalingFactor bool   `json:"uses_scaling_factor"`

	// Dataset / host model provenance. The autoencoder never attaches to the
	// host model itself; these fields record where its inputs came from so
	// external tooling can reattach it.
	ModelName          string `json:"model_name"`
	HookPoint          string `json:"hook_point"`
	HookPointLayer     int    `json:"hook_point_layer"`
	HookPointHeadIndex *int   `json:"hook_point_head_index"`
	DatasetPath        string `json:"dataset_path"`
	ContextSize        int    `json:"context_size"`
	PrependBOS         bool   `json:"prepend_bos"`

	// Misc.
	DType           string `json:"dtype"`
	Device          string `json:"device"`
	TrainingVersion string `json:"training_version"`
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.ActivationFn == "" {
		c.ActivationFn = "relu"
	}
	if c.DType == "" {
		c.DType = "float32"
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.DatasetPath == "" {
		c.DatasetPath = "unknown"
	}
	if c.ContextSize == 0 {
		c.ContextSize = 256
	}
	return c
}

// validate checks construction invariants. The dtype and device names go
// through the tensor parsers, so torch-style names from foreign checkpoint
// configs are accepted.
func (c Config) validate() error {
	if c.DIn <= 0 {
		return fmt.Errorf("d_in must be positive, got %d", c.DIn)
	}
	if c.DSae <= 0 {
		return fmt.Errorf("d_sae must be positive, got %d", c.DSae)
	}
	dt, err := tensor.ParseDataType(c.DType)
	if err != nil {
		return err
	}
	if dt != tensor.Float32 {
		return fmt.Errorf("parameters are float32 only, got dtype %q", c.DType)
	}
	if _, err := tensor.ParseDevice(c.Device); err != nil {
		return err
	}
	return nil
}

// MSE loss normalization modes.
const (
	// MSENormNone leaves the element-wise squared error unscaled.
	MSENormNone = ""
	// MSENormDenseBatch divides each item's squared error by the L2 norm of
	// the batch-mean-centered target, stabilizing loss scale across
	// activation norms.
	MSENormDenseBatch = "dense_batch"
)

// DefaultDecoderNorm is the target row norm for the heuristic decoder
// initialization.
const DefaultDecoderNorm = 0.1

// TrainingConfig extends Config with the knobs of the training extension.
type TrainingConfig struct {
	Config

	// Loss.
	L1Coefficient                     float32 `json:"l1_coefficient"`
	LpNorm                            float32 `json:"lp_norm"`
	ScaleSparsityPenaltyByDecoderNorm bool    `json:"scale_sparsity_penalty_by_decoder_norm"`
	MSELossNormalization              string  `json:"mse_loss_normalization"`
	UseGhostGrads                     bool    `json:"use_ghost_grads"`

	// Regularization.
	NoiseScale float32 `json:"noise_scale"`

	// Weight initialization.
	NormalizeSAEDecoder           bool `json:"normalize_sae_decoder"`
	DecoderOrthogonalInit         bool `json:"decoder_orthogonal_init"`
	DecoderHeuristicInit          bool `json:"decoder_heuristic_init"`
	InitEncoderAsDecoderTranspose bool `json:"init_encoder_as_decoder_transpose"`

	// Fine-tuning. A non-empty method enables the per-feature scaling factor.
	FinetuningMethod string `json:"finetuning_method"`
}

// withDefaults fills unset optional fields.
func (c TrainingConfig) withDefaults() TrainingConfig {
	c.Config = c.Config.withDefaults()
	if c.LpNorm == 0 {
		c.LpNorm = 1
	}
	return c
}

// validate checks construction invariants.
func (c TrainingConfig) validate() error {
	if err := c.Config.validate(); err != nil {
		return err
	}
	if c.LpNorm <= 0 {
		return fmt.Errorf("lp_norm must be positive, got %v", c.LpNorm)
	}
	switch c.MSELossNormalization {
	case MSENormNone, MSENormDenseBatch:
	default:
		return fmt.Errorf("unknown mse_loss_normalization %q", c.MSELossNormalization)
	}
	return nil
}
