// Package config handles quoll.toml host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/quoll-lang/quoll/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Config represents a quoll.toml file.
type Config struct {
	Engine Engine `toml:"engine"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the quoll.toml file (set at load time).
	Dir string `toml:"-"`
}

// Engine tunes the virtual machine. Zero fields fall back to the VM's
// built-in defaults.
type Engine struct {
	Registers int  `toml:"registers"`
	Objects   int  `toml:"objects"`
	Upvalues  int  `toml:"upvalues"`
	CallDepth int  `toml:"call-depth"`
	Trace     bool `toml:"trace"`
}

// Log configures the logging backend.
type Log struct {
	// Verbosity maps to commonlog levels: 0 errors and warnings only,
	// 1 adds notices, 2 info, 3 and up debug.
	Verbosity int `toml:"verbosity"`
}

// Load parses a quoll.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "quoll.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a quoll.toml file, then loads
// and returns it. Returns nil if no configuration is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "quoll.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Limits translates the engine section into VM limits.
func (c *Config) Limits() vm.Limits {
	return vm.Limits{
		Registers: c.Engine.Registers,
		Objects:   c.Engine.Objects,
		Upvalues:  c.Engine.Upvalues,
		CallDepth: c.Engine.CallDepth,
		Trace:     c.Engine.Trace,
	}
}

// NewVM builds a VM tuned by this configuration.
func (c *Config) NewVM() *vm.VM {
	return vm.NewWithLimits(c.Limits())
}

// Apply configures the logging backend from the log section.
func (c *Config) Apply() {
	commonlog.Configure(c.Log.Verbosity, nil)
}
