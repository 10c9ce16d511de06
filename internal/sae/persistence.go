package sae

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sparsecoder-ml/sparsecoder/internal/pretrained"
	"github.com/sparsecoder-ml/sparsecoder/internal/serialization"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// SparsityKey is the tensor name inside sparsity.safetensors.
const SparsityKey = "sparsity"

// SaveModel writes a checkpoint directory:
//
//	sae_weights.safetensors   parameter state dict
//	cfg.json                  construction config
//	sparsity.safetensors      optional per-feature firing statistics
//
// sparsity may be nil, in which case no sparsity file is written.
func (s *Autoencoder[B]) SaveModel(dir string, sparsity *tensor.Tensor[float32, B]) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	weightsPath := filepath.Join(dir, pretrained.WeightsFilename)
	if err := serialization.WriteSafeTensors(weightsPath, s.StateDict(), nil); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}

	cfgJSON, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfgPath := filepath.Join(dir, pretrained.ConfigFilename)
	if err := os.WriteFile(cfgPath, cfgJSON, 0o644); err != nil { //nolint:gosec // G306: checkpoints are world-readable
		return fmt.Errorf("failed to write config: %w", err)
	}

	if sparsity != nil {
		sparsityPath := filepath.Join(dir, pretrained.SparsityFilename)
		sd := map[string]*tensor.RawTensor{SparsityKey: sparsity.Raw()}
		if err := serialization.WriteSafeTensors(sparsityPath, sd, nil); err != nil {
			return fmt.Errorf("failed to write sparsity: %w", err)
		}
	}

	return nil
}

// LoadFromPretrained reads a native checkpoint directory written by SaveModel.
func LoadFromPretrained[B tensor.Backend](dir string, backend B) (*Autoencoder[B], error) {
	cfgPath := filepath.Join(dir, pretrained.ConfigFilename)
	//nolint:gosec // G304: path comes from trusted caller, not user input.
	cfgBytes, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	s, err := New(cfg, backend)
	if err != nil {
		return nil, err
	}

	reader, err := serialization.NewReader(filepath.Join(dir, pretrained.WeightsFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to open weights: %w", err)
	}
	defer func() {
		_ = reader.Close() // Best effort close
	}()

	stateDict, err := reader.LoadStateDict(backend.Device())
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	if err := s.LoadStateDict(stateDict); err != nil {
		return nil, err
	}

	return s, nil
}

// LoadSparsity reads the optional sparsity tensor from a checkpoint
// directory. Returns (nil, nil) when the checkpoint has no sparsity file.
func LoadSparsity[B tensor.Backend](dir string, backend B) (*tensor.Tensor[float32, B], error) {
	path := filepath.Join(dir, pretrained.SparsityFilename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	reader, err := serialization.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sparsity: %w", err)
	}
	defer func() {
		_ = reader.Close() // Best effort close
	}()

	raw, err := reader.LoadTensor(SparsityKey, backend.Device())
	if err != nil {
		return nil, fmt.Errorf("failed to load sparsity: %w", err)
	}
	return tensor.New[float32, B](raw, backend), nil
}

// FromPretrained loads a released autoencoder through the pretrained
// directory: the release is looked up, its conversion loader produces a
// config mapping and state dict, and both are validated into an Autoencoder.
func FromPretrained[B tensor.Backend](directory *pretrained.Directory, release, saeID string, backend B) (*Autoencoder[B], error) {
	info, err := directory.Lookup(release)
	if err != nil {
		return nil, err
	}
	folder, err := info.SAEPath(saeID)
	if err != nil {
		return nil, fmt.Errorf("release %q: %w", release, err)
	}

	loader, err := pretrained.GetConversionLoader(info.ConversionFunc)
	if err != nil {
		return nil, fmt.Errorf("release %q: %w", release, err)
	}

	cfgMap, stateDict, err := loader(pretrained.LoadRequest{
		RepoID:     info.RepoID,
		FolderName: folder,
		Device:     backend.Device(),
	})
	if err != nil {
		return nil, fmt.Errorf("release %q, sae %q: %w", release, saeID, err)
	}

	cfg, err := configFromMap(cfgMap)
	if err != nil {
		return nil, fmt.Errorf("release %q, sae %q: %w", release, saeID, err)
	}

	s, err := New(cfg, backend)
	if err != nil {
		return nil, err
	}
	if err := s.LoadStateDict(stateDict); err != nil {
		return nil, fmt.Errorf("release %q, sae %q: %w", release, saeID, err)
	}

	return s, nil
}

// configFromMap converts a loader's config mapping into a Config through a
// JSON round trip, so foreign loaders only need to emit the native keys.
func configFromMap(m map[string]any) (Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode config mapping: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config mapping: %w", err)
	}
	return cfg, nil
}
