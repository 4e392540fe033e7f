package extension

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional extensions.yaml file.
type Manifest struct {
	Extensions []ManifestEntry `yaml:"extensions"`
}

type ManifestEntry struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// LoadManifest reads path. A missing file yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return &Manifest{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("read extension manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("parse extension manifest %s: %w", path, err)
	}
	for i, entry := range manifest.Extensions {
		if strings.TrimSpace(entry.Name) == "" {
			return nil, fmt.Errorf("extension manifest %s: entry %d has no name", path, i)
		}
	}
	return &manifest, nil
}

// Enabled returns entry names not explicitly disabled.
func (m *Manifest) Enabled() []string {
	var out []string
	for _, entry := range m.Extensions {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		out = append(out, strings.TrimSpace(entry.Name))
	}
	return out
}

// Disabled returns entry names explicitly disabled.
func (m *Manifest) Disabled() []string {
	var out []string
	for _, entry := range m.Extensions {
		if entry.Enabled != nil && !*entry.Enabled {
			out = append(out, strings.TrimSpace(entry.Name))
		}
	}
	return out
}

// Resolve merges the configured names with the manifest: configured names
// first, manifest additions after, manifest-disabled names removed,
// duplicates dropped.
func Resolve(configured []string, manifest *Manifest) []string {
	disabled := map[string]bool{}
	var extra []string
	if manifest != nil {
		for _, name := range manifest.Disabled() {
			disabled[name] = true
		}
		extra = manifest.Enabled()
	}

	seen := map[string]bool{}
	var out []string
	for _, name := range append(append([]string(nil), configured...), extra...) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] || disabled[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
