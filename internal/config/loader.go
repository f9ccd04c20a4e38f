package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/modelport/internal/envvar"
	"github.com/ekisa-team/modelport/internal/xfs"
)

const schemaURL = "https://ekisa-team.github.io/modelport/modelport.v1.schema.json"

//go:embed schema/modelport.v1.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	errSchema      error
)

// Schema returns the compiled configuration schema.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			errSchema = fmt.Errorf("config: failed to add schema: %w", err)
			return
		}
		compiledSchema, errSchema = compiler.Compile(schemaURL)
	})

	return compiledSchema, errSchema
}

// LoadAndValidate loads and validates the configuration.
func LoadAndValidate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data)
}

// Load reads path when it exists and falls back to Default otherwise.
func Load(path string) (*Config, error) {
	cfg, err := LoadAndValidate(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Parse validates raw YAML against the schema and decodes it.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid YAML: %w", err)
	}

	schema, err := Schema()
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}
	config.ApplyDefaults()

	return &config, nil
}

// ResolveModelsPath returns the path to the checkpoint cache.
// Precedence:
// 1. MODELPORT_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func ResolveModelsPath(cfg *Config) string {
	if p := os.Getenv(envvar.ModelportModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(DefaultModelsPath())
}

// ResolveHistoryPath returns the path to the export ledger, with the same
// precedence as ResolveModelsPath.
func ResolveHistoryPath(cfg *Config) string {
	if p := os.Getenv(envvar.ModelportHistoryPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.History.Path != "" {
		return xfs.ExpandTilde(cfg.History.Path)
	}
	return DefaultHistoryPath()
}

// ResolveRuntimeLibrary returns the onnxruntime library path, or "" when the probe is disabled.
func ResolveRuntimeLibrary(cfg *Config) string {
	if p := os.Getenv(envvar.ModelportOrtLibrary); p != "" {
		return xfs.ExpandTilde(p)
	}
	return xfs.ExpandTilde(cfg.Runtime.Library)
}

// ResolveBinary returns the collaborator executable.
func ResolveBinary(cfg *Config) string {
	if p := os.Getenv(envvar.ModelportYoloBin); p != "" {
		return xfs.ExpandTilde(p)
	}
	return xfs.ExpandTilde(cfg.Collaborator.Binary)
}
