// Package config loads the settings used to assemble repositories: the
// backing store, the read-through cache and logging.
//
// Configuration is read from YAML. Keys missing from the file keep the
// values of Default; unknown keys are rejected.
//
//	store:
//	  driver: sqlite
//	  dsn: file:library.db
//	  max_open_conns: 4
//	cache:
//	  enabled: true
//	  ttl: 2m
//	log:
//	  level: debug
//	  format: json
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/store/bunstore"
)

// DriverMemory selects the in-memory store.
const DriverMemory = "memory"

// Config is the root configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects and connects the backing store.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	// CreateTables creates missing tables for registered models on startup.
	CreateTables bool `yaml:"create_tables"`
}

// CacheConfig wraps repositories in a read-through cache when enabled.
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// MetricsConfig turns on Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given: an
// in-memory store, no cache, text logs at info level.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: DriverMemory},
		Cache: CacheConfig{Config: cache.DefaultConfig()},
		Log:   LogConfig{Level: LevelInfo, Format: FormatText},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "config: parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Store),
		validation.Field(&c.Cache),
		validation.Field(&c.Log),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "config: invalid configuration")
	}
	return nil
}

// Drivers lists every accepted store driver.
func Drivers() []string {
	return append([]string{DriverMemory}, bunstore.Drivers()...)
}

// Validate implements validation.Validatable.
func (s StoreConfig) Validate() error {
	drivers := make([]any, 0, len(Drivers()))
	for _, d := range Drivers() {
		drivers = append(drivers, d)
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(drivers...)),
		validation.Field(&s.DSN, validation.When(s.Driver != DriverMemory, validation.Required)),
		validation.Field(&s.MaxOpenConns, validation.Min(0)),
	)
}

// Validate implements validation.Validatable. A disabled cache is not
// checked.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.Config.Validate()
}
