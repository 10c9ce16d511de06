package sae_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsecoder-ml/sparsecoder/internal/backend/cpu"
	"github.com/sparsecoder-ml/sparsecoder/internal/pretrained"
	"github.com/sparsecoder-ml/sparsecoder/internal/sae"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	backend := cpu.New()
	dir := filepath.Join(t.TempDir(), "ckpt")

	s := newTestSAE(t, sae.Config{
		DIn:              3,
		DSae:             6,
		ModelName:        "gpt2",
		HookPoint:        "blocks.0.hook_resid_pre",
		HookPointLayer:   0,
		ApplyBDecToInput: true,
		DatasetPath:      "openwebtext",
		ContextSize:      128,
	})
	require.NoError(t, s.SaveModel(dir, nil))

	// Checkpoint layout.
	_, err := os.Stat(filepath.Join(dir, pretrained.WeightsFilename))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, pretrained.ConfigFilename))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, pretrained.SparsityFilename))
	assert.True(t, os.IsNotExist(err), "no sparsity file should be written when sparsity is nil")

	loaded, err := sae.LoadFromPretrained(dir, backend)
	require.NoError(t, err)

	assert.Equal(t, s.Config(), loaded.Config())
	assert.Equal(t, s.WEnc.Tensor().Data(), loaded.WEnc.Tensor().Data())
	assert.Equal(t, s.BEnc.Tensor().Data(), loaded.BEnc.Tensor().Data())
	assert.Equal(t, s.WDec.Tensor().Data(), loaded.WDec.Tensor().Data())
	assert.Equal(t, s.BDec.Tensor().Data(), loaded.BDec.Tensor().Data())

	// Loaded model reconstructs identically.
	x := tensor.Randn[float32](tensor.Shape{2, 3}, backend)
	assert.Equal(t, s.Forward(x).Data(), loaded.Forward(x).Data())
}

func TestSaveModelWithSparsity(t *testing.T) {
	backend := cpu.New()
	dir := filepath.Join(t.TempDir(), "ckpt")

	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})
	sparsity, err := tensor.FromSlice([]float32{0.5, 0, 0.25, 0.125}, tensor.Shape{4}, backend)
	require.NoError(t, err)

	require.NoError(t, s.SaveModel(dir, sparsity))

	loaded, err := sae.LoadSparsity(dir, backend)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sparsity.Data(), loaded.Data())
}

func TestLoadSparsityAbsent(t *testing.T) {
	backend := cpu.New()
	dir := filepath.Join(t.TempDir(), "ckpt")

	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4})
	require.NoError(t, s.SaveModel(dir, nil))

	loaded, err := sae.LoadSparsity(dir, backend)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestConfigJSONKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4, ModelName: "pythia-70m"})
	require.NoError(t, s.SaveModel(dir, nil))

	data, err := os.ReadFile(filepath.Join(dir, pretrained.ConfigFilename))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"d_in", "d_sae", "dtype", "device", "model_name", "hook_point",
		"hook_point_layer", "hook_point_head_index", "activation_fn",
		"apply_b_dec_to_input", "uses_scaling_factor", "prepend_bos",
		"dataset_path", "context_size", "training_version",
	} {
		assert.Contains(t, raw, key)
	}
	assert.EqualValues(t, 2, raw["d_in"])
	assert.Equal(t, "pythia-70m", raw["model_name"])
}

func TestLoadFromPretrainedMissingDir(t *testing.T) {
	_, err := sae.LoadFromPretrained(filepath.Join(t.TempDir(), "nope"), cpu.New())
	require.Error(t, err)
}

func TestFromPretrained(t *testing.T) {
	backend := cpu.New()
	repo := t.TempDir()

	s := newTestSAE(t, sae.Config{DIn: 2, DSae: 4, ModelName: "gpt2", HookPoint: "blocks.0.hook_resid_pre"})
	require.NoError(t, s.SaveModel(filepath.Join(repo, "blocks.0.hook_resid_pre"), nil))

	directory := pretrained.NewDirectory(map[string]pretrained.ReleaseInfo{
		"gpt2-small-res": {
			RepoID:         repo,
			ConversionFunc: "sparsecoder",
			SAEs:           map[string]string{"blocks.0.hook_resid_pre": "blocks.0.hook_resid_pre"},
		},
	})

	loaded, err := sae.FromPretrained(directory, "gpt2-small-res", "blocks.0.hook_resid_pre", backend)
	require.NoError(t, err)
	assert.Equal(t, s.WEnc.Tensor().Data(), loaded.WEnc.Tensor().Data())
	assert.Equal(t, "gpt2", loaded.Config().ModelName)
}

func TestFromPretrainedErrors(t *testing.T) {
	backend := cpu.New()
	directory := pretrained.NewDirectory(map[string]pretrained.ReleaseInfo{
		"known-release": {
			RepoID:         t.TempDir(),
			ConversionFunc: "no_such_loader",
			SAEs:           map[string]string{"layer0": "l0"},
		},
	})

	_, err := sae.FromPretrained(directory, "unknown-release", "layer0", backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-release")

	_, err = sae.FromPretrained(directory, "known-release", "unknown-sae", backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-sae")

	_, err = sae.FromPretrained(directory, "known-release", "layer0", backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_loader")
}
