// Package config carries the runtime configuration of the sync
// service. Files may be JSON or YAML; missing fields keep their
// defaults.
package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultMaxCollectPasses bounds the change-collection loop of a single
// flush. A cycle of callbacks that keeps dirtying the tree would
// otherwise spin forever; hitting the bound is reported, never fatal.
const DefaultMaxCollectPasses = 100

type Config struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr" yaml:"addr"`
	// StaticDir is served under /static/ when set.
	StaticDir string `json:"staticDir" yaml:"staticDir"`
	// StorePath enables the session checkpoint database when set.
	StorePath string `json:"storePath" yaml:"storePath"`
	// CatalogPath names a component catalog loaded at startup.
	CatalogPath string `json:"catalogPath" yaml:"catalogPath"`

	// RootTag and RootComponent describe the root node of new UIs.
	RootTag       string `json:"rootTag" yaml:"rootTag"`
	RootComponent string `json:"rootComponent" yaml:"rootComponent"`

	// ProductionMode switches dependency chunking from per-type
	// development chunks to inheritance-chain bundles.
	ProductionMode   bool `json:"productionMode" yaml:"productionMode"`
	MaxCollectPasses int  `json:"maxCollectPasses" yaml:"maxCollectPasses"`

	LogLevel string `json:"logLevel" yaml:"logLevel"`

	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		RootTag:           "body",
		MaxCollectPasses:  DefaultMaxCollectPasses,
		LogLevel:          "info",
		HeartbeatInterval: 25 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// LoadJSON reads a JSON config on top of the defaults.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	dec := json.NewDecoder(r)
	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrap(err, "decode json config")
	}
	return c, c.Validate()
}

// LoadYAML reads a YAML config on top of the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrap(err, "decode yaml config")
	}
	return c, c.Validate()
}

// LoadFile loads a config file, picking the format by extension.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer func() { _ = f.Close() }()

	switch filepath.Ext(path) {
	case ".json":
		return LoadJSON(f)
	default:
		return LoadYAML(f)
	}
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	if c.MaxCollectPasses <= 0 {
		return errors.New("config: maxCollectPasses must be positive")
	}
	return nil
}
