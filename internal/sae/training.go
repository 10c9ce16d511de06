package sae

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/stat"

	"github.com/sparsecoder-ml/sparsecoder/internal/nn"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// ForwardOutput bundles the tensors and loss components of one training
// forward pass. Loss = MSELoss + SparsityLoss + GhostGradLoss.
type ForwardOutput[B tensor.Backend] struct {
	SAEOut      *tensor.Tensor[float32, B]
	FeatureActs *tensor.Tensor[float32, B]

	Loss          float32
	MSELoss       float32
	SparsityLoss  float32
	GhostGradLoss float32

	// hiddenPre is the pre-noise, pre-activation tensor; Backward needs it
	// for the ghost gradient path.
	hiddenPre *tensor.Tensor[float32, B]
}

// sparsityPenaltyFn computes the per-item sparsity penalty (length batch).
type sparsityPenaltyFn[B tensor.Backend] func(featureActs *tensor.Tensor[float32, B]) []float32

// TrainingAutoencoder extends Autoencoder with the composite training loss,
// training-time weight initialization, and gradient post-processing.
type TrainingAutoencoder[B tensor.Backend] struct {
	*Autoencoder[B]

	tcfg     TrainingConfig
	training bool

	// sparsityPenalty is bound once at construction; the penalty strategy
	// never changes mid-training.
	sparsityPenalty sparsityPenaltyFn[B]
}

// NewTraining constructs a TrainingAutoencoder in training mode.
//
// The per-feature scaling factor is enabled exactly when a fine-tuning method
// is configured; the base config's uses_scaling_factor field is derived from
// that, not read.
func NewTraining[B tensor.Backend](cfg TrainingConfig, backend B) (*TrainingAutoencoder[B], error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid sae config: %w", err)
	}

	baseCfg := cfg.Config
	baseCfg.UsesScalingFactor = cfg.FinetuningMethod != ""

	base, err := New(baseCfg, backend)
	if err != nil {
		return nil, err
	}

	t := &TrainingAutoencoder[B]{
		Autoencoder: base,
		tcfg:        cfg,
		training:    true,
	}
	t.initializeWeights()

	if cfg.ScaleSparsityPenaltyByDecoderNorm {
		t.sparsityPenalty = t.decoderNormWeightedSparsity
	} else {
		t.sparsityPenalty = t.standardSparsity
	}

	return t, nil
}

// TrainingConfig returns the full training configuration.
func (s *TrainingAutoencoder[B]) TrainingConfig() TrainingConfig {
	return s.tcfg
}

// Train puts the autoencoder in training mode (noise and ghost gradients
// active).
func (s *TrainingAutoencoder[B]) Train() {
	s.training = true
}

// Eval puts the autoencoder in evaluation mode.
func (s *TrainingAutoencoder[B]) Eval() {
	s.training = false
}

// IsTraining reports whether the autoencoder is in training mode.
func (s *TrainingAutoencoder[B]) IsTraining() bool {
	return s.training
}

// initializeWeights applies the training-time initialization heuristics on
// top of the base initialization. The decoder scheme is a first-match-wins
// decision: orthogonal beats heuristic constant-norm beats unit-norm beats
// the Kaiming default.
func (s *TrainingAutoencoder[B]) initializeWeights() {
	dIn, dSae := s.cfg.DIn, s.cfg.DSae

	switch {
	case s.tcfg.DecoderOrthogonalInit:
		s.WDec.SetTensor(nn.Orthogonal[B](tensor.Shape{dSae, dIn}, s.backend))
	case s.tcfg.DecoderHeuristicInit:
		s.WDec.SetTensor(tensor.Rand[float32](tensor.Shape{dSae, dIn}, s.backend))
		s.InitializeDecoderNormConstantNorm(DefaultDecoderNorm)
	case s.tcfg.NormalizeSAEDecoder:
		s.SetDecoderNormToUnitNorm()
	}

	if s.tcfg.InitEncoderAsDecoderTranspose {
		s.WEnc.SetTensor(s.WDec.Tensor().T())
	}

	// Unit-norm rows are re-normalized after any encoder tying; the operation
	// is idempotent.
	if s.tcfg.NormalizeSAEDecoder {
		s.SetDecoderNormToUnitNorm()
	}
}

// Encode maps activations to feature activations. In training mode with a
// positive noise scale, Gaussian noise is injected into the pre-activations.
func (s *TrainingAutoencoder[B]) Encode(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	featureActs, _ := s.encodeWithHiddenPre(x)
	return featureActs
}

// encodeWithHiddenPre encodes and also returns the pre-noise hidden
// pre-activation, which the ghost gradient path consumes.
func (s *TrainingAutoencoder[B]) encodeWithHiddenPre(x *tensor.Tensor[float32, B]) (featureActs, hiddenPre *tensor.Tensor[float32, B]) {
	hiddenPre = s.hiddenPre(x)

	noisy := hiddenPre
	if s.training && s.tcfg.NoiseScale > 0 {
		noisy = hiddenPre.Clone()
		data := noisy.Data()
		for i := range data {
			//nolint:gosec // G404: training noise is not security-critical
			data[i] += float32(rand.NormFloat64()) * s.tcfg.NoiseScale
		}
	}

	featureActs = s.HookHiddenPost.Call(s.activation(noisy))
	return featureActs, hiddenPre
}

// Forward runs the full training pass: encode with noise, decode, and the
// composite loss.
//
// deadNeuronMask flags features considered dead (length d_sae); it enables
// the ghost gradient term when ghost grads are configured, the model is in
// training mode, and at least one feature is flagged. Pass nil when no dead
// feature tracking is available.
func (s *TrainingAutoencoder[B]) Forward(x *tensor.Tensor[float32, B], deadNeuronMask []bool) ForwardOutput[B] {
	s.checkDeadNeuronMask(deadNeuronMask)

	featureActs, hiddenPre := s.encodeWithHiddenPre(x)
	saeOut := s.Decode(featureActs)

	perItem := s.perItemMSE(saeOut, x)
	batch := float32(x.Shape()[0])

	var ghostLoss float32
	if s.tcfg.UseGhostGrads && s.training && countTrue(deadNeuronMask) > 0 {
		terms := s.ghostTerms(x, saeOut, perItem, hiddenPre, deadNeuronMask)
		ghostLoss = terms.loss
	}

	// Sum the element-wise error over d_in, then average over the batch.
	mseLoss := sumAll(perItem.Data()) / batch

	penalty := s.sparsityPenalty(featureActs)
	sparsityLoss := s.tcfg.L1Coefficient * sumAll(penalty) / batch

	return ForwardOutput[B]{
		SAEOut:        saeOut,
		FeatureActs:   featureActs,
		Loss:          mseLoss + sparsityLoss + ghostLoss,
		MSELoss:       mseLoss,
		SparsityLoss:  sparsityLoss,
		GhostGradLoss: ghostLoss,
		hiddenPre:     hiddenPre,
	}
}

// SetDecoderNormToUnitNorm rescales every decoder row to unit L2 norm.
// Idempotent.
func (s *TrainingAutoencoder[B]) SetDecoderNormToUnitNorm() {
	normalizeDecoderRows(s.WDec.Tensor(), 1.0)
}

// InitializeDecoderNormConstantNorm rescales every decoder row to the given
// L2 norm.
func (s *TrainingAutoencoder[B]) InitializeDecoderNormConstantNorm(norm float32) {
	normalizeDecoderRows(s.WDec.Tensor(), norm)
}

// normalizeDecoderRows rescales each row of a [d_sae, d_in] matrix to the
// target L2 norm.
func normalizeDecoderRows[B tensor.Backend](w *tensor.Tensor[float32, B], target float32) {
	shape := w.Shape()
	rows, cols := shape[0], shape[1]
	data := w.Data()

	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		var sumSq float32
		for _, v := range row {
			sumSq += v * v
		}
		norm := math32.Sqrt(sumSq)
		if norm == 0 {
			continue
		}
		scale := target / norm
		for j := range row {
			row[j] *= scale
		}
	}
}

// InitializeBDecWithPrecalculated sets b_dec directly from a precomputed
// center of the activation distribution.
func (s *TrainingAutoencoder[B]) InitializeBDecWithPrecalculated(origin []float32) error {
	if len(origin) != s.cfg.DIn {
		return fmt.Errorf("precalculated b_dec has length %d, want %d", len(origin), s.cfg.DIn)
	}
	copy(s.BDec.Tensor().Data(), origin)
	return nil
}

// InitializeBDecWithMean sets b_dec to the mean of an activation sample
// [n, d_in] and logs the median distance from the sample to b_dec before and
// after, as a sanity check that the recentering actually moved b_dec closer.
func (s *TrainingAutoencoder[B]) InitializeBDecWithMean(activations *tensor.Tensor[float32, B]) error {
	shape := activations.Shape()
	if len(shape) != 2 || shape[1] != s.cfg.DIn {
		return fmt.Errorf("activation sample has shape %v, want [n, %d]", shape, s.cfg.DIn)
	}

	previous := medianDistance(activations, s.BDec.Tensor().Data())

	mean := activations.MeanDim(0, false)
	copy(s.BDec.Tensor().Data(), mean.Data())

	current := medianDistance(activations, s.BDec.Tensor().Data())

	log.Printf("reinitializing b_dec with mean of activations")
	log.Printf("median distance to b_dec: previous %.6f, new %.6f", previous, current)
	return nil
}

// medianDistance computes the median L2 distance from each row of acts to
// the point origin.
func medianDistance[B tensor.Backend](acts *tensor.Tensor[float32, B], origin []float32) float64 {
	shape := acts.Shape()
	n, d := shape[0], shape[1]
	data := acts.Data()

	distances := make([]float64, n)
	for i := 0; i < n; i++ {
		row := data[i*d : (i+1)*d]
		var sumSq float64
		for j, v := range row {
			diff := float64(v - origin[j])
			sumSq += diff * diff
		}
		distances[i] = math.Sqrt(sumSq)
	}

	sort.Float64s(distances)
	return stat.Quantile(0.5, stat.Empirical, distances, nil)
}

// RemoveGradientParallelToDecoderDirections projects the component parallel
// to each feature's decoder direction out of the decoder gradient, so the
// optimizer step cannot change row norms that are being held at unit length.
//
// Panics if called before a backward pass has populated the decoder gradient.
func (s *TrainingAutoencoder[B]) RemoveGradientParallelToDecoderDirections() {
	grad := s.WDec.Grad()
	if grad == nil {
		panic("RemoveGradientParallelToDecoderDirections called with no decoder gradient")
	}

	shape := s.WDec.Tensor().Shape()
	rows, cols := shape[0], shape[1]
	w := s.WDec.Tensor().Data()
	g := grad.Data()

	for i := 0; i < rows; i++ {
		wRow := w[i*cols : (i+1)*cols]
		gRow := g[i*cols : (i+1)*cols]
		var parallel float32
		for j := range wRow {
			parallel += gRow[j] * wRow[j]
		}
		for j := range wRow {
			gRow[j] -= parallel * wRow[j]
		}
	}
}

// checkDeadNeuronMask panics on a mask whose length does not match d_sae.
// A nil mask is valid (no dead feature tracking).
func (s *TrainingAutoencoder[B]) checkDeadNeuronMask(mask []bool) {
	if mask != nil && len(mask) != s.cfg.DSae {
		panic(fmt.Sprintf("dead neuron mask has length %d, want %d", len(mask), s.cfg.DSae))
	}
}

// countTrue counts set flags in a mask.
func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// sumAll sums a slice.
func sumAll(xs []float32) float32 {
	var total float32
	for _, v := range xs {
		total += v
	}
	return total
}
