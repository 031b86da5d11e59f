// Package assets manages the ONNX model bundles the linking pipeline runs on:
// a versioned manifest of downloadable models and an installer that fetches,
// verifies and unpacks them.
package assets

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var embeddedManifest []byte

// Manifest lists the model bundles a release knows how to install.
type Manifest struct {
	Version string      `yaml:"version"`
	Models  []ModelSpec `yaml:"models"`
}

// ModelSpec describes one downloadable model bundle.
type ModelSpec struct {
	Name         string   `yaml:"name"`
	DisplayName  string   `yaml:"display_name"`
	Version      string   `yaml:"version"`
	Language     string   `yaml:"language"`
	URL          string   `yaml:"url"`
	Checksum     string   `yaml:"checksum"`
	SizeBytes    int64    `yaml:"size_bytes"`
	Architecture string   `yaml:"architecture"`
	Description  string   `yaml:"description"`
	Files        []string `yaml:"files"`
	Recommended  bool     `yaml:"recommended"`
}

// LoadEmbeddedManifest parses the manifest compiled into the binary.
func LoadEmbeddedManifest() (Manifest, error) {
	return parseManifest(embeddedManifest)
}

func parseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse model manifest: %w", err)
	}
	sort.Slice(m.Models, func(i, j int) bool { return m.Models[i].Name < m.Models[j].Name })
	return m, nil
}

// Find returns the spec with the given name.
func (m Manifest) Find(name string) (ModelSpec, bool) {
	for _, spec := range m.Models {
		if spec.Name == name {
			return spec, true
		}
	}
	return ModelSpec{}, false
}

// DefaultModelsRoot is where model bundles install unless overridden.
func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".convel", "models"), nil
}

// InstallPath returns the directory a model installs into.
func InstallPath(root, name string) string {
	return filepath.Join(root, name)
}

// IsInstalled reports whether every file the spec requires is present.
func IsInstalled(root string, model ModelSpec) bool {
	base := InstallPath(root, model.Name)
	for _, f := range model.Files {
		if _, err := os.Stat(filepath.Join(base, f)); err != nil {
			return false
		}
	}
	return len(model.Files) > 0
}
