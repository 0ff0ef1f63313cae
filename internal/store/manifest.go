package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFile = "manifest.yaml"

// Manifest describes how an index was built. Queries must use the same
// embedding model the index was built with.
type Manifest struct {
	BuildID    string    `yaml:"buildId"`
	Provider   string    `yaml:"provider"`
	EmbedModel string    `yaml:"embedModel"`
	Dim        int       `yaml:"dim"`
	Collection string    `yaml:"collection"`
	Chunks     int       `yaml:"chunks"`
	BuiltAt    time.Time `yaml:"builtAt"`
}

// CheckModel returns ErrModelMismatch when model differs from the build model.
func (m Manifest) CheckModel(model string) error {
	if m.EmbedModel != model {
		return fmt.Errorf("%w: index built with %q, querying with %q", ErrModelMismatch, m.EmbedModel, model)
	}
	return nil
}

func writeManifest(dir string, m Manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), b, 0o644)
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	return m, nil
}
