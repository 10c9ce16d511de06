package sae

import (
	"github.com/chewxy/math32"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// normEps guards divisions by near-zero norms in loss normalization.
const normEps = 1e-6

// perItemMSE computes the element-wise squared reconstruction error
// [batch, d_in], scaled per item by the dense-batch weight when that
// normalization is configured.
func (s *TrainingAutoencoder[B]) perItemMSE(pred, target *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := tensor.Zeros[float32](pred.Shape(), s.backend)

	p := pred.Data()
	t := target.Data()
	o := out.Data()

	weights := s.mseItemWeights(target)
	cols := pred.Shape()[1]

	for i := range o {
		diff := p[i] - t[i]
		e := diff * diff
		if weights != nil {
			e *= weights[i/cols]
		}
		o[i] = e
	}
	return out
}

// mseItemWeights returns the per-item dense-batch weights
// 1 / (||target_i - mean(target)|| + eps), or nil when no normalization is
// configured. The weights derive from the target only, so they carry no
// gradient.
func (s *TrainingAutoencoder[B]) mseItemWeights(target *tensor.Tensor[float32, B]) []float32 {
	if s.tcfg.MSELossNormalization != MSENormDenseBatch {
		return nil
	}

	shape := target.Shape()
	rows, cols := shape[0], shape[1]
	data := target.Data()

	colMean := make([]float32, cols)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		for j, v := range row {
			colMean[j] += v
		}
	}
	for j := range colMean {
		colMean[j] /= float32(rows)
	}

	weights := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		var sumSq float32
		for j, v := range row {
			d := v - colMean[j]
			sumSq += d * d
		}
		weights[i] = 1 / (math32.Sqrt(sumSq) + normEps)
	}
	return weights
}

// standardSparsity is the per-item Lp norm of the feature activations.
func (s *TrainingAutoencoder[B]) standardSparsity(featureActs *tensor.Tensor[float32, B]) []float32 {
	return lpRowNorms(featureActs, nil, s.tcfg.LpNorm)
}

// decoderNormWeightedSparsity weights each feature activation by its decoder
// row norm before taking the Lp norm, so the penalty reflects each feature's
// actual contribution to the reconstruction.
func (s *TrainingAutoencoder[B]) decoderNormWeightedSparsity(featureActs *tensor.Tensor[float32, B]) []float32 {
	return lpRowNorms(featureActs, s.decoderRowNorms(), s.tcfg.LpNorm)
}

// decoderRowNorms returns the L2 norm of each decoder row (length d_sae).
func (s *TrainingAutoencoder[B]) decoderRowNorms() []float32 {
	shape := s.WDec.Tensor().Shape()
	rows, cols := shape[0], shape[1]
	data := s.WDec.Tensor().Data()

	norms := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		var sumSq float32
		for _, v := range row {
			sumSq += v * v
		}
		norms[i] = math32.Sqrt(sumSq)
	}
	return norms
}

// lpRowNorms computes (sum_j |t_ij * w_j|^p)^(1/p) per row, with w omitted
// when nil. p=1 takes the fast path.
func lpRowNorms[B tensor.Backend](t *tensor.Tensor[float32, B], colWeights []float32, p float32) []float32 {
	shape := t.Shape()
	rows, cols := shape[0], shape[1]
	data := t.Data()

	out := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		var total float32
		for j, v := range row {
			if colWeights != nil {
				v *= colWeights[j]
			}
			v = math32.Abs(v)
			if p == 1 {
				total += v
			} else {
				total += math32.Pow(v, p)
			}
		}
		if p == 1 {
			out[i] = total
		} else {
			out[i] = math32.Pow(total, 1/p)
		}
	}
	return out
}

// ghostTermsResult carries the intermediates of the ghost gradient term.
// Everything except expDead and wDecDead is treated as detached by the
// backward pass; gradients flow only through exp(hidden_pre) and the dead
// decoder rows.
type ghostTermsResult[B tensor.Backend] struct {
	deadIdx  []int
	expDead  *tensor.Tensor[float32, B] // [batch, nDead]
	wDecDead *tensor.Tensor[float32, B] // [nDead, d_in]
	nsf      []float32                  // per-item norm scaling, detached
	residual *tensor.Tensor[float32, B] // [batch, d_in], detached target
	ghostOut *tensor.Tensor[float32, B] // [batch, d_in], rescaled
	weights  []float32                  // dense-batch weights of the residual target, nil if unused
	rescale  []float32                  // [batch*d_in] MSE rescaling, detached
	loss     float32
}

// ghostTerms computes the ghost gradient loss and its intermediates.
//
// Dead features get a resurrection signal: their exponentiated
// pre-activations are decoded through their own decoder rows, the result is
// rescaled to half the residual's norm, and its squared error against the
// (detached) residual is rescaled to the magnitude of the real
// reconstruction error. Only exp(hidden_pre) and the dead decoder rows carry
// gradient.
func (s *TrainingAutoencoder[B]) ghostTerms(
	x, saeOut, perItem, hiddenPre *tensor.Tensor[float32, B],
	deadNeuronMask []bool,
) *ghostTermsResult[B] {
	batch := x.Shape()[0]
	dIn := s.cfg.DIn

	deadIdx := make([]int, 0, countTrue(deadNeuronMask))
	for j, dead := range deadNeuronMask {
		if dead {
			deadIdx = append(deadIdx, j)
		}
	}
	nDead := len(deadIdx)

	// Residual is a constant target; no gradient flows back into sae_out.
	residual := x.Sub(saeOut).Detach()
	residNorm := l2RowNorms(residual)

	// Gather exp(hidden_pre) over dead features and their decoder rows.
	expDead := tensor.Zeros[float32](tensor.Shape{batch, nDead}, s.backend)
	hp := hiddenPre.Data()
	ed := expDead.Data()
	dSae := s.cfg.DSae
	for i := 0; i < batch; i++ {
		for k, j := range deadIdx {
			ed[i*nDead+k] = math32.Exp(hp[i*dSae+j])
		}
	}

	wDecDead := tensor.Zeros[float32](tensor.Shape{nDead, dIn}, s.backend)
	wd := s.WDec.Tensor().Data()
	wdd := wDecDead.Data()
	for k, j := range deadIdx {
		copy(wdd[k*dIn:(k+1)*dIn], wd[j*dIn:(j+1)*dIn])
	}

	ghostOut := expDead.MatMul(wDecDead)
	ghostNorm := l2RowNorms(ghostOut)

	// Rescale each item's ghost reconstruction to half the residual norm.
	// The scaling factor is detached.
	nsf := make([]float32, batch)
	gd := ghostOut.Data()
	for i := 0; i < batch; i++ {
		nsf[i] = residNorm[i] / (normEps + ghostNorm[i]*2)
		row := gd[i*dIn : (i+1)*dIn]
		for j := range row {
			row[j] *= nsf[i]
		}
	}

	weights := s.mseItemWeights(residual)

	// Element-wise ghost error, then rescale it (detached) to match the real
	// reconstruction error's magnitude.
	res := residual.Data()
	pi := perItem.Data()
	n := batch * dIn
	rescale := make([]float32, n)
	var total float32
	for i := 0; i < n; i++ {
		diff := gd[i] - res[i]
		e := diff * diff
		if weights != nil {
			e *= weights[i/dIn]
		}
		rescale[i] = pi[i] / (e + normEps)
		total += rescale[i] * e
	}

	return &ghostTermsResult[B]{
		deadIdx:  deadIdx,
		expDead:  expDead,
		wDecDead: wDecDead,
		nsf:      nsf,
		residual: residual,
		ghostOut: ghostOut,
		weights:  weights,
		rescale:  rescale,
		loss:     total / float32(n),
	}
}

// l2RowNorms computes the L2 norm of each row of a 2D tensor.
func l2RowNorms[B tensor.Backend](t *tensor.Tensor[float32, B]) []float32 {
	shape := t.Shape()
	rows, cols := shape[0], shape[1]
	data := t.Data()

	out := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		var sumSq float32
		for _, v := range row {
			sumSq += v * v
		}
		out[i] = math32.Sqrt(sumSq)
	}
	return out
}
