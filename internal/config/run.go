// Package config loads the run configuration of an experiment: where the
// shot data lives, how shots are identified, which diagnostics to set up and
// where results go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no configuration file is given.
const DefaultConfigPath = "postexperiment.yaml"

// EnvPrefix prefixes the environment variables overriding file values,
// e.g. POSTEXP_WORKERS or POSTEXP_LABBOOK_URL.
const EnvPrefix = "POSTEXP"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Value types understood by FieldConfig and IDFieldConfig.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
)

// RunConfig is the root configuration.
type RunConfig struct {
	// DataDir is searched recursively for files matching FilePattern.
	DataDir     string `json:"data_dir" yaml:"data_dir" envconfig:"DATA_DIR"`
	FilePattern string `json:"file_pattern" yaml:"file_pattern" envconfig:"FILE_PATTERN"`
	// FileKey names the value holding the matched file. When FileKeyGroup is
	// positive the name comes from that group of FilePattern instead.
	FileKey      string `json:"file_key" yaml:"file_key" envconfig:"FILE_KEY"`
	FileKeyGroup int    `json:"file_key_group,omitempty" yaml:"file_key_group,omitempty" envconfig:"FILE_KEY_GROUP"`

	Fields   []FieldConfig           `json:"fields" yaml:"fields" ignored:"true"`
	Readers  map[string]ReaderConfig `json:"readers,omitempty" yaml:"readers,omitempty" ignored:"true"`
	IDFields []IDFieldConfig         `json:"id_fields" yaml:"id_fields" ignored:"true"`

	LabBook LabBookConfig `json:"labbook" yaml:"labbook" envconfig:"LABBOOK"`

	CachePath    string `json:"cache_path" yaml:"cache_path" envconfig:"CACHE_PATH"`
	CacheMaxSize int    `json:"cache_max_size,omitempty" yaml:"cache_max_size,omitempty" envconfig:"CACHE_MAX_SIZE"`
	// Workers bounds parallel evaluation; 0 and 1 evaluate serially.
	Workers int `json:"workers" yaml:"workers" envconfig:"WORKERS"`

	Focus     []FocusConfig `json:"focus,omitempty" yaml:"focus,omitempty" ignored:"true"`
	OutputDir string        `json:"output_dir" yaml:"output_dir" envconfig:"OUTPUT_DIR"`
}

// FieldConfig takes a value from a group of FilePattern.
type FieldConfig struct {
	Group int    `json:"group" yaml:"group"`
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// IDFieldConfig is one component of the shot ID, most significant first.
type IDFieldConfig struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ReaderConfig selects how files stored under one key are decoded. Kind is
// "image" (the default) or "raw".
type ReaderConfig struct {
	Kind      string `json:"kind" yaml:"kind"`
	Width     int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int    `json:"height,omitempty" yaml:"height,omitempty"`
	Bands     int    `json:"bands,omitempty" yaml:"bands,omitempty"`
	BigEndian bool   `json:"big_endian,omitempty" yaml:"big_endian,omitempty"`
}

// LabBookConfig describes a shot log spreadsheet exported as CSV. It is
// disabled when URL is empty.
type LabBookConfig struct {
	URL      string `json:"url" yaml:"url" envconfig:"URL"`
	IDField  string `json:"id_field" yaml:"id_field" envconfig:"ID_FIELD"`
	Header   int    `json:"header" yaml:"header" envconfig:"HEADER"`
	RowStart int    `json:"row_start" yaml:"row_start" envconfig:"ROW_START"`
	RowEnd   int    `json:"row_end,omitempty" yaml:"row_end,omitempty" envconfig:"ROW_END"`
	Attempts uint   `json:"attempts,omitempty" yaml:"attempts,omitempty" envconfig:"ATTEMPTS"`
}

// FocusConfig sets up the focal spot diagnostics for one camera.
type FocusConfig struct {
	Key   string `json:"key" yaml:"key"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// EmptyRunConfig returns a configuration with the lab book defaults applied.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{
		LabBook: LabBookConfig{Header: 1, RowStart: 2},
	}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file, applies
// environment overrides and validates the result.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	// Relative paths are relative to the config file.
	base := filepath.Dir(cleanPath)
	cfg.DataDir = resolve(base, cfg.DataDir)
	cfg.CachePath = resolve(base, cfg.CachePath)
	cfg.OutputDir = resolve(base, cfg.OutputDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ApplyEnv overrides values from POSTEXP_* environment variables. Unset
// variables leave the current values alone.
func (c *RunConfig) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to process environment config: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.FilePattern != "" {
		if _, err := regexp.Compile(c.FilePattern); err != nil {
			return fmt.Errorf("%w: file_pattern: %v", ErrInvalid, err)
		}
	}
	if c.FilePattern == "" && c.LabBook.URL == "" {
		return fmt.Errorf("%w: neither file_pattern nor labbook.url is set", ErrInvalid)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalid, c.Workers)
	}
	if c.CacheMaxSize < 0 {
		return fmt.Errorf("%w: cache_max_size must be non-negative, got %d", ErrInvalid, c.CacheMaxSize)
	}

	if len(c.IDFields) == 0 {
		return fmt.Errorf("%w: id_fields must not be empty", ErrInvalid)
	}
	for i, f := range c.IDFields {
		if f.Name == "" {
			return fmt.Errorf("%w: id_fields[%d] has no name", ErrInvalid, i)
		}
		if err := checkType(f.Type); err != nil {
			return fmt.Errorf("%w: id_fields[%d]: %v", ErrInvalid, i, err)
		}
	}

	for i, f := range c.Fields {
		if f.Group <= 0 || f.Name == "" {
			return fmt.Errorf("%w: fields[%d] needs a positive group and a name", ErrInvalid, i)
		}
		if err := checkType(f.Type); err != nil {
			return fmt.Errorf("%w: fields[%d]: %v", ErrInvalid, i, err)
		}
	}
	if c.FilePattern != "" && c.FileKey == "" && c.FileKeyGroup <= 0 {
		return fmt.Errorf("%w: file_key or file_key_group is required with file_pattern", ErrInvalid)
	}

	for key, r := range c.Readers {
		switch r.Kind {
		case "", "image":
		case "raw":
			if r.Width <= 0 || r.Height <= 0 {
				return fmt.Errorf("%w: raw reader %q needs width and height", ErrInvalid, key)
			}
		default:
			return fmt.Errorf("%w: reader %q has unknown kind %q", ErrInvalid, key, r.Kind)
		}
	}

	if c.LabBook.URL != "" {
		if c.LabBook.IDField == "" {
			return fmt.Errorf("%w: labbook.id_field is required with labbook.url", ErrInvalid)
		}
		if c.LabBook.Header < 0 {
			return fmt.Errorf("%w: labbook.header must be non-negative, got %d", ErrInvalid, c.LabBook.Header)
		}
	}

	for i, f := range c.Focus {
		if f.Key == "" {
			return fmt.Errorf("%w: focus[%d] has no key", ErrInvalid, i)
		}
	}
	return nil
}

func checkType(t string) error {
	switch t {
	case "", TypeInt, TypeFloat, TypeString:
		return nil
	}
	return fmt.Errorf("unknown type %q", t)
}
