// Package config handles lox.toml interpreter configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/lox/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "lox.toml"

// Config represents a lox.toml configuration.
type Config struct {
	VM    VMSection    `toml:"vm"`
	GC    GCSection    `toml:"gc"`
	Debug DebugSection `toml:"debug"`
	REPL  REPLSection  `toml:"repl"`
	Cache CacheSection `toml:"cache"`
	Log   LogSection   `toml:"log"`

	// Dir is the directory containing the lox.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// VMSection configures the interpreter.
type VMSection struct {
	FramesMax int `toml:"frames_max"`
}

// GCSection configures the collector.
type GCSection struct {
	GrowthFactor     int  `toml:"growth_factor"`
	InitialThreshold int  `toml:"initial_threshold"`
	Stress           bool `toml:"stress"`
}

// DebugSection enables tracing and listings.
type DebugSection struct {
	TraceExecution bool `toml:"trace_execution"`
	PrintCode      bool `toml:"print_code"`
}

// REPLSection configures the interactive prompt.
type REPLSection struct {
	Prompt      string `toml:"prompt"`
	HistoryFile string `toml:"history_file"`
}

// CacheSection configures the compiled image cache.
type CacheSection struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogSection configures commonlog output.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no lox.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.VM.FramesMax <= 0 {
		c.VM.FramesMax = vm.DefaultFramesMax
	}
	if c.GC.GrowthFactor <= 1 {
		c.GC.GrowthFactor = vm.DefaultGCGrowthFactor
	}
	if c.GC.InitialThreshold <= 0 {
		c.GC.InitialThreshold = vm.DefaultInitialGCThreshold
	}
	if c.REPL.Prompt == "" {
		c.REPL.Prompt = "> "
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(".lox", "cache.db")
	}
}

// Load parses a lox.toml file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a lox.toml file, then loads
// and returns it. Returns Default() if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// VMConfig converts the [vm], [gc] and [debug] sections into a vm.Config.
func (c *Config) VMConfig() vm.Config {
	return vm.Config{
		FramesMax:          c.VM.FramesMax,
		GCGrowthFactor:     c.GC.GrowthFactor,
		InitialGCThreshold: c.GC.InitialThreshold,
		StressGC:           c.GC.Stress,
		TraceExecution:     c.Debug.TraceExecution,
	}
}

// CachePath returns the cache database path, resolved against Dir.
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}

// HistoryPath returns the REPL history file, resolved against Dir, or ""
// when history is disabled.
func (c *Config) HistoryPath() string {
	h := c.REPL.HistoryFile
	if h == "" || filepath.IsAbs(h) || c.Dir == "" {
		return h
	}
	return filepath.Join(c.Dir, h)
}
