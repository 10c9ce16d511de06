package sae_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsecoder-ml/sparsecoder/internal/backend/cpu"
	"github.com/sparsecoder-ml/sparsecoder/internal/sae"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

func newTestSAE(t *testing.T, cfg sae.Config) *sae.Autoencoder[*cpu.CPUBackend] {
	t.Helper()
	s, err := sae.New(cfg, cpu.New())
	require.NoError(t, err)
	return s
}

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.Tensor[float32, *cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, cpu.New())
	require.NoError(t, err)
	return x
}

// setWeights gives the SAE known parameter values for hand-checked math.
func setWeights(s *sae.Autoencoder[*cpu.CPUBackend], wEnc, bEnc, wDec, bDec []float32) {
	copy(s.WEnc.Tensor().Data(), wEnc)
	copy(s.BEnc.Tensor().Data(), bEnc)
	copy(s.WDec.Tensor().Data(), wDec)
	copy(s.BDec.Tensor().Data(), bDec)
}

func TestNewValidation(t *testing.T) {
	backend := cpu.New()

	_, err := sae.New(sae.Config{DIn: 0, DSae: 4}, backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d_in")

	_, err = sae.New(sae.Config{DIn: 4, DSae: -1}, backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d_sae")

	_, err = sae.New(sae.Config{DIn: 4, DSae: 8, DType: "bfloat16"}, backend)
	require.Error(t, err)

	_, err = sae.New(sae.Config{DIn: 4, DSae: 8, ActivationFn: "swish"}, backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swish")
}

func TestNewAcceptsTorchStyleDTypeName(t *testing.T) {
	// Conversion loaders hand through configs written by other tooling, which
	// names the dtype torch-style. The name is kept verbatim in the config.
	s := newTestSAE(t, sae.Config{DIn: 4, DSae: 8, DType: "torch.float32"})
	assert.Equal(t, "torch.float32", s.Config().DType)

	_, err := sae.New(sae.Config{DIn: 4, DSae: 8, Device: "cuda"}, cpu.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cuda")
}

func TestNewDefaults(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 4, DSae: 8})
	cfg := s.Config()

	assert.Equal(t, "relu", cfg.ActivationFn)
	assert.Equal(t, "float32", cfg.DType)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, "unknown", cfg.DatasetPath)
	assert.Equal(t, 256, cfg.ContextSize)
}

func TestParameterShapes(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 3, DSae: 7})

	assert.True(t, s.WEnc.Tensor().Shape().Equal(tensor.Shape{3, 7}))
	assert.True(t, s.BEnc.Tensor().Shape().Equal(tensor.Shape{7}))
	assert.True(t, s.WDec.Tensor().Shape().Equal(tensor.Shape{7, 3}))
	assert.True(t, s.BDec.Tensor().Shape().Equal(tensor.Shape{3}))
	assert.Nil(t, s.ScalingFactor)

	// Biases start at zero.
	for _, v := range s.BEnc.Tensor().Data() {
		assert.Zero(t, v)
	}
}

func TestEncodeDecodeShapes(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 4, DSae: 16})
	x := tensor.Randn[float32](tensor.Shape{5, 4}, cpu.New())

	feats := s.Encode(x)
	assert.True(t, feats.Shape().Equal(tensor.Shape{5, 16}))

	out := s.Decode(feats)
	assert.True(t, out.Shape().Equal(tensor.Shape{5, 4}))
}

func TestEncodeMath(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 2})
	// Identity encoder, bias 1 on the second feature.
	setWeights(s,
		[]float32{1, 0, 0, 1},
		[]float32{0, 1},
		[]float32{1, 0, 0, 1},
		[]float32{0, 0},
	)

	x := fromSlice(t, []float32{2, -3}, tensor.Shape{1, 2})
	feats := s.Encode(x)

	// relu([2, -3] @ I + [0, 1]) = relu([2, -2]) = [2, 0].
	assert.InDelta(t, 2, feats.At(0, 0), 1e-6)
	assert.InDelta(t, 0, feats.At(0, 1), 1e-6)
}

func TestEncodeAppliesBDecToInput(t *testing.T) {
	mk := func(apply bool) *sae.Autoencoder[*cpu.CPUBackend] {
		s := newTestSAE(t, sae.Config{DIn: 2, DSae: 2, ApplyBDecToInput: apply})
		setWeights(s,
			[]float32{1, 0, 0, 1},
			[]float32{0, 0},
			[]float32{1, 0, 0, 1},
			[]float32{1, 1},
		)
		return s
	}

	x := fromSlice(t, []float32{3, 2}, tensor.Shape{1, 2})

	withCenter := mk(true).Encode(x)
	assert.InDelta(t, 2, withCenter.At(0, 0), 1e-6) // 3 - 1
	assert.InDelta(t, 1, withCenter.At(0, 1), 1e-6) // 2 - 1

	without := mk(false).Encode(x)
	assert.InDelta(t, 3, without.At(0, 0), 1e-6)
	assert.InDelta(t, 2, without.At(0, 1), 1e-6)
}

func TestDecodeMath(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 2})
	setWeights(s,
		[]float32{1, 0, 0, 1},
		[]float32{0, 0},
		[]float32{2, 0, 0, 3},
		[]float32{10, 20},
	)

	f := fromSlice(t, []float32{1, 1}, tensor.Shape{1, 2})
	out := s.Decode(f)

	assert.InDelta(t, 12, out.At(0, 0), 1e-6) // 1*2 + 10
	assert.InDelta(t, 23, out.At(0, 1), 1e-6) // 1*3 + 20
}

func TestScalingFactor(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 2, UsesScalingFactor: true})
	require.NotNil(t, s.ScalingFactor)

	setWeights(s,
		[]float32{1, 0, 0, 1},
		[]float32{0, 0},
		[]float32{1, 0, 0, 1},
		[]float32{0, 0},
	)

	f := fromSlice(t, []float32{1, 2}, tensor.Shape{1, 2})

	// Scaling factor initializes to ones: decode is unaffected.
	out := s.Decode(f)
	assert.InDelta(t, 1, out.At(0, 0), 1e-6)
	assert.InDelta(t, 2, out.At(0, 1), 1e-6)

	copy(s.ScalingFactor.Tensor().Data(), []float32{10, 0.5})
	out = s.Decode(f)
	assert.InDelta(t, 10, out.At(0, 0), 1e-6)
	assert.InDelta(t, 1, out.At(0, 1), 1e-6)
}

func TestForwardIsDecodeOfEncode(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 4, DSae: 8, ApplyBDecToInput: true})
	x := tensor.Randn[float32](tensor.Shape{3, 4}, cpu.New())

	want := s.Decode(s.Encode(x))
	got := s.Forward(x)
	assert.Equal(t, want.Data(), got.Data())
}

func TestHooksFireInOrder(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})

	var order []string
	record := func(name string) func(v *tensor.Tensor[float32, *cpu.CPUBackend]) *tensor.Tensor[float32, *cpu.CPUBackend] {
		return func(v *tensor.Tensor[float32, *cpu.CPUBackend]) *tensor.Tensor[float32, *cpu.CPUBackend] {
			order = append(order, name)
			return nil
		}
	}
	s.HookSAEIn.Register(record(sae.HookNameSAEIn))
	s.HookHiddenPre.Register(record(sae.HookNameHiddenPre))
	s.HookHiddenPost.Register(record(sae.HookNameHiddenPost))
	s.HookSAEOut.Register(record(sae.HookNameSAEOut))

	x := tensor.Randn[float32](tensor.Shape{1, 2}, cpu.New())
	_ = s.Forward(x)

	assert.Equal(t, []string{
		sae.HookNameSAEIn,
		sae.HookNameHiddenPre,
		sae.HookNameHiddenPost,
		sae.HookNameSAEOut,
	}, order)
}

func TestHookSubstitutionPatchesForward(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})
	copy(s.BDec.Tensor().Data(), []float32{5, 6})

	// Zero the features: the reconstruction collapses to b_dec.
	s.HookHiddenPost.Register(func(v *tensor.Tensor[float32, *cpu.CPUBackend]) *tensor.Tensor[float32, *cpu.CPUBackend] {
		return tensor.Zeros[float32](v.Shape(), cpu.New())
	})

	x := tensor.Randn[float32](tensor.Shape{1, 2}, cpu.New())
	out := s.Forward(x)
	assert.InDelta(t, 5, out.At(0, 0), 1e-6)
	assert.InDelta(t, 6, out.At(0, 1), 1e-6)
}

func TestGetName(t *testing.T) {
	s := newTestSAE(t, sae.Config{
		DIn:       4,
		DSae:      32,
		ModelName: "gpt2",
		HookPoint: "blocks.3.hook_resid_pre",
	})
	assert.Equal(t, "sparse_autoencoder_gpt2_blocks.3.hook_resid_pre_32", s.GetName())
}

func TestStateDictKeys(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})
	sd := s.StateDict()
	assert.Len(t, sd, 4)
	for _, key := range []string{sae.KeyWEnc, sae.KeyBEnc, sae.KeyWDec, sae.KeyBDec} {
		assert.Contains(t, sd, key)
	}

	scaled := newTestSAE(t, sae.Config{DIn: 2, DSae: 4, UsesScalingFactor: true})
	assert.Contains(t, scaled.StateDict(), sae.KeyScalingFactor)
}

func TestLoadStateDictMismatch(t *testing.T) {
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})

	// Missing key.
	sd := s.StateDict()
	partial := map[string]*tensor.RawTensor{}
	for k, v := range sd {
		if k != sae.KeyBDec {
			partial[k] = v
		}
	}
	err := s.LoadStateDict(partial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), sae.KeyBDec)

	// Unexpected key.
	extra := map[string]*tensor.RawTensor{}
	for k, v := range sd {
		extra[k] = v
	}
	bogus, _ := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	extra["W_bogus"] = bogus
	err = s.LoadStateDict(extra)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "W_bogus")

	// Shape mismatch.
	wrong := map[string]*tensor.RawTensor{}
	for k, v := range sd {
		wrong[k] = v
	}
	bad, _ := tensor.NewRaw(tensor.Shape{2, 5}, tensor.Float32, tensor.CPU)
	wrong[sae.KeyWEnc] = bad
	err = s.LoadStateDict(wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), sae.KeyWEnc)
}
