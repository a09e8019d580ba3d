package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed schemas.yaml
var defaultSchemas []byte

type schemaFile struct {
	Schemas []model.SchemaDefinition `yaml:"schemas"`
}

// LoadYAML decodes a list of definitions from r.
func LoadYAML(r io.Reader) ([]model.SchemaDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f schemaFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode schemas: %w", err)
	}
	return f.Schemas, nil
}

// FromDefinitions registers defs in order and builds the registry.
func FromDefinitions(defs []model.SchemaDefinition) (*Registry, error) {
	b := NewBuilder()
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Default builds the registry of the built-in entity tables.
func Default() (*Registry, error) {
	defs, err := LoadYAML(bytes.NewReader(defaultSchemas))
	if err != nil {
		return nil, err
	}
	return FromDefinitions(defs)
}

// Load builds the registry from path, or the built-in one when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()

	defs, err := LoadYAML(f)
	if err != nil {
		return nil, err
	}
	return FromDefinitions(defs)
}
