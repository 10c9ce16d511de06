package sae

import (
	"github.com/chewxy/math32"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// Backward computes the gradient of out.Loss with respect to every parameter
// and accumulates it into the parameter gradients.
//
// out must come from a Forward call on the same inputs, and x and
// deadNeuronMask must be the arguments that produced it. The derivatives are
// analytic: the MSE term, the configured sparsity penalty, and (when active)
// the ghost gradient term, with the detached quantities of the forward pass
// treated as constants.
//
// Call ZeroGrad before each iteration; gradients accumulate otherwise.
func (s *TrainingAutoencoder[B]) Backward(x *tensor.Tensor[float32, B], out ForwardOutput[B], deadNeuronMask []bool) {
	if out.hiddenPre == nil {
		panic("Backward requires a ForwardOutput produced by Forward")
	}
	s.checkDeadNeuronMask(deadNeuronMask)

	batch := x.Shape()[0]
	dIn := s.cfg.DIn

	// dLoss/dSAEOut from the MSE term:
	// mse = sum_ie(w_i * (out - x)_ie^2) / batch.
	gOut := tensor.Zeros[float32](tensor.Shape{batch, dIn}, s.backend)
	{
		weights := s.mseItemWeights(x)
		so := out.SAEOut.Data()
		xd := x.Data()
		g := gOut.Data()
		for i := range g {
			e := 2 * (so[i] - xd[i]) / float32(batch)
			if weights != nil {
				e *= weights[i/dIn]
			}
			g[i] = e
		}
	}

	// Decode: sae_out = (f * scale) @ W_dec + b_dec.
	scaled := s.applyScalingFactor(out.FeatureActs)
	s.WDec.AccumGrad(scaled.T().MatMul(gOut))
	s.BDec.AccumGrad(gOut.SumDim(0, false))

	gScaled := gOut.MatMul(s.WDec.Tensor().T())
	gFeature := gScaled
	if s.ScalingFactor != nil {
		s.ScalingFactor.AccumGrad(out.FeatureActs.Mul(gScaled).SumDim(0, false))
		gFeature = gScaled.Mul(s.ScalingFactor.Tensor())
	}

	s.accumSparsityGrad(out.FeatureActs, gFeature)

	// dLoss/dhidden_pre through the activation (the injected noise is an
	// additive constant, so the derivative passes straight through it).
	gHiddenPre := s.activationGrad(out.FeatureActs, gFeature)

	if s.tcfg.UseGhostGrads && s.training && countTrue(deadNeuronMask) > 0 {
		perItem := s.perItemMSE(out.SAEOut, x)
		terms := s.ghostTerms(x, out.SAEOut, perItem, out.hiddenPre, deadNeuronMask)
		s.accumGhostGrad(terms, gHiddenPre, batch)
	}

	// Encode: hidden_pre = sae_in @ W_enc + b_enc.
	saeIn := x
	if s.cfg.ApplyBDecToInput {
		saeIn = x.Sub(s.BDec.Tensor())
	}
	s.WEnc.AccumGrad(saeIn.T().MatMul(gHiddenPre))
	s.BEnc.AccumGrad(gHiddenPre.SumDim(0, false))

	if s.cfg.ApplyBDecToInput {
		// b_dec also enters as the input centering term, negated.
		gSaeIn := gHiddenPre.MatMul(s.WEnc.Tensor().T())
		s.BDec.AccumGrad(gSaeIn.SumDim(0, false).MulScalar(-1))
	}
}

// ZeroGrad clears the gradients of all parameters.
func (s *TrainingAutoencoder[B]) ZeroGrad() {
	for _, p := range s.Parameters() {
		p.ZeroGrad()
	}
}

// accumSparsityGrad adds the sparsity penalty's gradient into gFeature
// (in place) and, for the decoder-norm-weighted strategy, into the decoder
// gradient.
//
// The penalty is c/batch * sum_i (sum_j |f_ij * w_j|^p)^(1/p) with w_j the
// decoder row norms (or 1 for the standard strategy).
func (s *TrainingAutoencoder[B]) accumSparsityGrad(featureActs, gFeature *tensor.Tensor[float32, B]) {
	c := s.tcfg.L1Coefficient
	if c == 0 {
		return
	}
	p := s.tcfg.LpNorm

	shape := featureActs.Shape()
	batch, dSae := shape[0], shape[1]
	f := featureActs.Data()
	gf := gFeature.Data()

	var rowNorms []float32
	weighted := s.tcfg.ScaleSparsityPenaltyByDecoderNorm
	if weighted {
		rowNorms = s.decoderRowNorms()
	}

	scale := c / float32(batch)

	// For the weighted strategy, accumulate d penalty / d w_j per feature and
	// chain through w_j = ||W_dec[j]|| afterwards.
	var gRowNorm []float32
	if weighted {
		gRowNorm = make([]float32, dSae)
	}

	for i := 0; i < batch; i++ {
		row := f[i*dSae : (i+1)*dSae]

		// d norm_p(v)/dv_j = norm^(1-p) * |v_j|^(p-1) * sign(v_j).
		var norm float32
		for j, v := range row {
			if weighted {
				v *= rowNorms[j]
			}
			v = math32.Abs(v)
			if p == 1 {
				norm += v
			} else {
				norm += math32.Pow(v, p)
			}
		}
		if p != 1 {
			norm = math32.Pow(norm, 1/p)
		}
		if norm == 0 {
			continue
		}

		for j, v := range row {
			w := float32(1)
			if weighted {
				w = rowNorms[j]
			}
			vw := v * w
			if vw == 0 {
				continue
			}
			sign := float32(1)
			if vw < 0 {
				sign = -1
			}
			var dPen float32
			if p == 1 {
				dPen = sign
			} else {
				dPen = math32.Pow(norm, 1-p) * math32.Pow(math32.Abs(vw), p-1) * sign
			}
			gf[i*dSae+j] += scale * dPen * w
			if weighted {
				gRowNorm[j] += scale * dPen * v
			}
		}
	}

	if weighted {
		// d w_j / d W_dec[j,k] = W_dec[j,k] / w_j.
		dIn := s.cfg.DIn
		gWDec := tensor.Zeros[float32](tensor.Shape{dSae, dIn}, s.backend)
		wd := s.WDec.Tensor().Data()
		g := gWDec.Data()
		for j := 0; j < dSae; j++ {
			if gRowNorm[j] == 0 || rowNorms[j] == 0 {
				continue
			}
			k0 := j * dIn
			for k := 0; k < dIn; k++ {
				g[k0+k] = gRowNorm[j] * wd[k0+k] / rowNorms[j]
			}
		}
		s.WDec.AccumGrad(gWDec)
	}
}

// activationGrad maps dLoss/dfeatureActs to dLoss/dhidden_pre through the
// activation function. The derivative is expressed in terms of the
// activation's output value.
func (s *TrainingAutoencoder[B]) activationGrad(featureActs, gFeature *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := gFeature.Clone()

	switch s.cfg.ActivationFn {
	case "identity":
		return out
	case "relu":
		f := featureActs.Data()
		g := out.Data()
		for i := range g {
			if f[i] <= 0 {
				g[i] = 0
			}
		}
	case "tanh":
		f := featureActs.Data()
		g := out.Data()
		for i := range g {
			g[i] *= 1 - f[i]*f[i]
		}
	default:
		// GetActivationFn validated the name at construction.
		panic("no gradient for activation " + s.cfg.ActivationFn)
	}
	return out
}

// accumGhostGrad adds the ghost gradient term's contributions: into the dead
// decoder rows and, via exp(hidden_pre), into gHiddenPre (in place).
//
// ghost loss = mean_ie(rescale_ie * w_i * (nsf_i * raw_ie - resid_ie)^2)
// with raw = expDead @ wDecDead; rescale, w, nsf and resid are detached.
func (s *TrainingAutoencoder[B]) accumGhostGrad(terms *ghostTermsResult[B], gHiddenPre *tensor.Tensor[float32, B], batch int) {
	dIn, dSae := s.cfg.DIn, s.cfg.DSae
	nDead := len(terms.deadIdx)
	n := float32(batch * dIn)

	// dLoss/draw_ie.
	dRaw := tensor.Zeros[float32](tensor.Shape{batch, dIn}, s.backend)
	{
		g := dRaw.Data()
		gd := terms.ghostOut.Data()
		res := terms.residual.Data()
		for i := range g {
			e := terms.rescale[i] * 2 * (gd[i] - res[i]) / n
			if terms.weights != nil {
				e *= terms.weights[i/dIn]
			}
			g[i] = e * terms.nsf[i/dIn]
		}
	}

	// Scatter expDead^T @ dRaw into the dead decoder rows.
	gWDecDead := terms.expDead.T().MatMul(dRaw) // [nDead, dIn]
	gWDec := tensor.Zeros[float32](tensor.Shape{dSae, dIn}, s.backend)
	src := gWDecDead.Data()
	dst := gWDec.Data()
	for k, j := range terms.deadIdx {
		copy(dst[j*dIn:(j+1)*dIn], src[k*dIn:(k+1)*dIn])
	}
	s.WDec.AccumGrad(gWDec)

	// Through exp: d exp(h)/dh = exp(h).
	gExpDead := dRaw.MatMul(terms.wDecDead.T()) // [batch, nDead]
	ge := gExpDead.Data()
	ed := terms.expDead.Data()
	gh := gHiddenPre.Data()
	for i := 0; i < batch; i++ {
		for k, j := range terms.deadIdx {
			gh[i*dSae+j] += ge[i*nDead+k] * ed[i*nDead+k]
		}
	}
}
