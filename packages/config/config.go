// Package config loads the YAML configuration of the recalc tool.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the complete configuration
type Config struct {
	Workbook Workbook `yaml:"workbook"`
	Store    Store    `yaml:"store"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
	Tracing  Tracing  `yaml:"tracing"`
}

// Workbook locates the sheet files
type Workbook struct {
	// Dir holds one file per sheet
	Dir string `yaml:"dir" validate:"required"`

	// DefaultSheet receives unqualified addresses
	DefaultSheet string `yaml:"default_sheet" validate:"required"`

	// Extension of sheet files, with its leading dot
	Extension string `yaml:"extension" validate:"required,startswith=."`
}

// Store configures the snapshot database
type Store struct {
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// Logging configures the slog handler
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Metrics configures the prometheus endpoint
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required,hostname_port"`
}

// Tracing selects the span exporter
type Tracing struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout"`
}

// Default returns a configuration that works without a config file
func Default() Config {
	return Config{
		Workbook: Workbook{Dir: ".", DefaultSheet: "Sheet1", Extension: ".sheet"},
		Store:    Store{Path: ".recalc", SyncWrites: true},
		Logging:  Logging{Level: "info", Format: "text"},
		Metrics:  Metrics{Addr: ":9090"},
		Tracing:  Tracing{Exporter: "none"},
	}
}

// Load reads the file at path over the defaults and validates the result
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes YAML from r over the defaults. unknown keys are errors.
func Read(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel returns the configured slog level
func (l Logging) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to w in the configured format
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
