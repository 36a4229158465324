package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed buildlink.schema.json
var schemaData []byte

var (
	compiled   *jsonschema.Schema
	compileErr error
	compileMu  sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compileMu.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal config schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("buildlink.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add config schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("buildlink.schema.json")
	})
	return compiled, compileErr
}

// Load reads path, expands environment variables, validates the result
// against the config schema and decodes it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(path, []byte(ExpandEnv(string(data))))
}

// Parse validates and decodes already expanded YAML. name labels errors.
func Parse(name string, data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	if doc != nil {
		if err := Validate(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	return &cfg, nil
}

// Validate checks a decoded YAML document against the config schema.
// The document goes through JSON first so numbers take the schema's form.
func Validate(doc any) error {
	s, err := schema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Discover returns the config file in dir, or "" when there is none.
func Discover(dir string) string {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
