// Package pretrained resolves released sparse autoencoder checkpoints.
//
// A YAML directory maps release names to checkpoint sources. Each release
// names a repository, a conversion loader, and the checkpoint folders of its
// individual autoencoders keyed by SAE id.
package pretrained

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReleaseInfo describes one release in the pretrained directory.
type ReleaseInfo struct {
	// RepoID locates the release's checkpoint repository.
	RepoID string `yaml:"repo_id"`
	// ConversionFunc names the loader that converts the release's raw files
	// into a config mapping and state dict. Empty means the native format.
	ConversionFunc string `yaml:"conversion_func"`
	// SAEs maps SAE ids to checkpoint folder names inside the repository.
	SAEs map[string]string `yaml:"saes"`
}

// Directory is a lookup table of pretrained SAE releases.
type Directory struct {
	releases map[string]ReleaseInfo
}

// NewDirectory builds a Directory from an in-memory release table.
func NewDirectory(releases map[string]ReleaseInfo) *Directory {
	return &Directory{releases: releases}
}

// LoadDirectory parses a YAML release table from disk.
func LoadDirectory(path string) (*Directory, error) {
	//nolint:gosec // G304: path comes from trusted caller, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pretrained directory: %w", err)
	}

	var releases map[string]ReleaseInfo
	if err := yaml.Unmarshal(data, &releases); err != nil {
		return nil, fmt.Errorf("failed to parse pretrained directory: %w", err)
	}

	return &Directory{releases: releases}, nil
}

// Releases returns the names of all known releases.
func (d *Directory) Releases() []string {
	names := make([]string, 0, len(d.releases))
	for name := range d.releases {
		names = append(names, name)
	}
	return names
}

// Lookup returns the release info for a release name.
func (d *Directory) Lookup(release string) (ReleaseInfo, error) {
	info, ok := d.releases[release]
	if !ok {
		return ReleaseInfo{}, fmt.Errorf("release %q not found in pretrained SAE directory", release)
	}
	return info, nil
}

// SAEPath returns the checkpoint folder name for an SAE id within a release.
func (r ReleaseInfo) SAEPath(saeID string) (string, error) {
	folder, ok := r.SAEs[saeID]
	if !ok {
		return "", fmt.Errorf("sae id %q not found in release (known ids: %d)", saeID, len(r.SAEs))
	}
	return folder, nil
}
