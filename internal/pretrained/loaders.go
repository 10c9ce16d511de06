package pretrained

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sparsecoder-ml/sparsecoder/internal/serialization"
	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// Checkpoint file names shared by the native format.
const (
	ConfigFilename   = "cfg.json"
	WeightsFilename  = "sae_weights.safetensors"
	SparsityFilename = "sparsity.safetensors"
)

// LoadRequest describes a checkpoint to load.
type LoadRequest struct {
	// RepoID is the release's repository, resolved as a local directory.
	RepoID string
	// FolderName is the checkpoint folder inside the repository.
	FolderName string
	// Device is the target device for loaded tensors.
	Device tensor.Device
	// ForceDownload requests a re-fetch for loaders backed by remote storage.
	// The native loader reads local directories and ignores it.
	ForceDownload bool
}

// ConversionLoader turns a release's raw checkpoint files into a config
// mapping and a state dict. Loaders for foreign formats rename tensors and
// translate config keys into the native schema.
type ConversionLoader func(req LoadRequest) (map[string]any, map[string]*tensor.RawTensor, error)

// conversionLoaders is the registry of named loaders. A release with an empty
// conversion_func uses "sparsecoder".
var conversionLoaders = map[string]ConversionLoader{
	"sparsecoder": loadSparsecoderCheckpoint,
}

// DefaultConversionFunc is the loader used when a release names none.
const DefaultConversionFunc = "sparsecoder"

// RegisterConversionLoader adds a named loader. Registering an existing name
// replaces the previous loader.
func RegisterConversionLoader(name string, loader ConversionLoader) {
	conversionLoaders[name] = loader
}

// GetConversionLoader resolves a loader by name.
func GetConversionLoader(name string) (ConversionLoader, error) {
	if name == "" {
		name = DefaultConversionFunc
	}
	loader, ok := conversionLoaders[name]
	if !ok {
		return nil, fmt.Errorf("conversion loader %q is not registered", name)
	}
	return loader, nil
}

// loadSparsecoderCheckpoint reads the native checkpoint layout: cfg.json plus
// sae_weights.safetensors in a single directory.
func loadSparsecoderCheckpoint(req LoadRequest) (map[string]any, map[string]*tensor.RawTensor, error) {
	dir := filepath.Join(req.RepoID, req.FolderName)

	cfgPath := filepath.Join(dir, ConfigFilename)
	//nolint:gosec // G304: path comes from trusted caller, not user input.
	cfgBytes, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", ConfigFilename, err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", ConfigFilename, err)
	}

	reader, err := serialization.NewReader(filepath.Join(dir, WeightsFilename))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", WeightsFilename, err)
	}
	defer func() {
		_ = reader.Close() // Best effort close
	}()

	stateDict, err := reader.LoadStateDict(req.Device)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", WeightsFilename, err)
	}

	return cfg, stateDict, nil
}
