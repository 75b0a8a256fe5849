package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Parse decodes a YAML or JSON artifact.
func Parse(data []byte) (Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("parse catalog: %w", err)
	}
	return a, nil
}

// LoadFile reads and parses the artifact at path without compiling it.
func LoadFile(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	return Parse(data)
}

// DefaultArtifact returns the built-in questionnaire, already passed through Build.
func DefaultArtifact() (Artifact, error) {
	a, err := Parse(defaultCatalogYAML)
	if err != nil {
		return Artifact{}, err
	}
	return Build(a)
}

// Default compiles the built-in questionnaire.
func Default() (*Catalog, error) {
	a, err := DefaultArtifact()
	if err != nil {
		return nil, err
	}
	return Compile(a)
}
