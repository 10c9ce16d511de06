package pretrained_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsecoder-ml/sparsecoder/internal/pretrained"
	"github.com/sparsecoder-ml/sparsecoder/internal/serialization"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

const directoryYAML = `
gpt2-small-res:
  repo_id: ./checkpoints/gpt2-small
  conversion_func: sparsecoder
  saes:
    blocks.0.hook_resid_pre: blocks.0.hook_resid_pre
    blocks.1.hook_resid_pre: blocks.1.hook_resid_pre
legacy-release:
  repo_id: ./checkpoints/legacy
  conversion_func: legacy_v1
  saes:
    layer0: l0
`

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o644))

	dir, err := pretrained.LoadDirectory(path)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"gpt2-small-res", "legacy-release"}, dir.Releases())

	info, err := dir.Lookup("gpt2-small-res")
	require.NoError(t, err)
	assert.Equal(t, "./checkpoints/gpt2-small", info.RepoID)
	assert.Equal(t, "sparsecoder", info.ConversionFunc)

	folder, err := info.SAEPath("blocks.0.hook_resid_pre")
	require.NoError(t, err)
	assert.Equal(t, "blocks.0.hook_resid_pre", folder)
}

func TestLookupUnknownRelease(t *testing.T) {
	dir := pretrained.NewDirectory(map[string]pretrained.ReleaseInfo{})

	_, err := dir.Lookup("does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestSAEPathUnknownID(t *testing.T) {
	info := pretrained.ReleaseInfo{SAEs: map[string]string{"layer0": "l0"}}

	_, err := info.SAEPath("layer99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layer99")
}

func TestGetConversionLoader(t *testing.T) {
	// Empty name falls back to the native loader.
	loader, err := pretrained.GetConversionLoader("")
	require.NoError(t, err)
	require.NotNil(t, loader)

	_, err = pretrained.GetConversionLoader("unregistered_format")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered_format")
}

func TestRegisterConversionLoader(t *testing.T) {
	called := false
	pretrained.RegisterConversionLoader("test_format", func(req pretrained.LoadRequest) (map[string]any, map[string]*tensor.RawTensor, error) {
		called = true
		return map[string]any{"d_in": 4}, nil, nil
	})

	loader, err := pretrained.GetConversionLoader("test_format")
	require.NoError(t, err)

	cfg, _, err := loader(pretrained.LoadRequest{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 4, cfg["d_in"])
}

func TestNativeLoaderReadsCheckpointDir(t *testing.T) {
	repo := t.TempDir()
	folder := "blocks.0.hook_resid_pre"
	dir := filepath.Join(repo, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	cfgJSON := `{"d_in": 2, "d_sae": 4, "dtype": "float32", "device": "cpu"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, pretrained.ConfigFilename), []byte(cfgJSON), 0o644))

	raw, err := tensor.NewRaw(tensor.Shape{2, 4}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	stateDict := map[string]*tensor.RawTensor{"W_enc": raw}
	require.NoError(t, serialization.WriteSafeTensors(
		filepath.Join(dir, pretrained.WeightsFilename), stateDict, nil))

	loader, err := pretrained.GetConversionLoader(pretrained.DefaultConversionFunc)
	require.NoError(t, err)

	cfg, loaded, err := loader(pretrained.LoadRequest{RepoID: repo, FolderName: folder, Device: tensor.CPU})
	require.NoError(t, err)
	assert.EqualValues(t, 2, cfg["d_in"])
	require.Contains(t, loaded, "W_enc")
	assert.True(t, loaded["W_enc"].Shape().Equal(tensor.Shape{2, 4}))
}

func TestNativeLoaderMissingConfig(t *testing.T) {
	loader, err := pretrained.GetConversionLoader(pretrained.DefaultConversionFunc)
	require.NoError(t, err)

	_, _, err = loader(pretrained.LoadRequest{RepoID: t.TempDir(), FolderName: "missing"})
	require.Error(t, err)
}
