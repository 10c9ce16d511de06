package serialization_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsecoder-ml/sparsecoder/internal/serialization"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

func makeRaw(t *testing.T, shape tensor.Shape, values []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), values)
	return raw
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")

	stateDict := map[string]*tensor.RawTensor{
		"W_enc": makeRaw(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		"b_enc": makeRaw(t, tensor.Shape{3}, []float32{7, 8, 9}),
	}

	require.NoError(t, serialization.WriteSafeTensors(path, stateDict, map[string]string{"format": "pt"}))

	reader, err := serialization.NewReader(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	assert.Equal(t, "pt", reader.Metadata()["format"])
	assert.ElementsMatch(t, []string{"W_enc", "b_enc"}, reader.TensorNames())

	loaded, err := reader.LoadStateDict(tensor.CPU)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	wEnc := loaded["W_enc"]
	assert.True(t, wEnc.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, wEnc.AsFloat32())

	bEnc := loaded["b_enc"]
	assert.Equal(t, []float32{7, 8, 9}, bEnc.AsFloat32())
}

func TestTensorsWrittenInAlphabeticalOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")

	stateDict := map[string]*tensor.RawTensor{
		"b": makeRaw(t, tensor.Shape{1}, []float32{2}),
		"a": makeRaw(t, tensor.Shape{1}, []float32{1}),
		"c": makeRaw(t, tensor.Shape{1}, []float32{3}),
	}
	require.NoError(t, serialization.WriteSafeTensors(path, stateDict, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The payload after the header is the tensor data in name order.
	payload := data[len(data)-12:]
	reader, err := serialization.NewReader(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	a, err := reader.LoadTensor("a", tensor.CPU)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, a.AsFloat32())

	// "a" occupies the first four payload bytes.
	first, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(first.Data(), payload[:4])
	assert.Equal(t, []float32{1}, first.AsFloat32())
}

func TestLoadTensorMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	stateDict := map[string]*tensor.RawTensor{
		"W_dec": makeRaw(t, tensor.Shape{1}, []float32{1}),
	}
	require.NoError(t, serialization.WriteSafeTensors(path, stateDict, nil))

	reader, err := serialization.NewReader(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	_, err = reader.LoadTensor("W_enc", tensor.CPU)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "W_enc")
}

func TestReaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 0o644))

	_, err := serialization.NewReader(path)
	require.ErrorIs(t, err, serialization.ErrHeaderTooLarge)
}

func TestReaderMissingFile(t *testing.T) {
	_, err := serialization.NewReader(filepath.Join(t.TempDir(), "nope.safetensors"))
	require.Error(t, err)
}
