// Package config handles jfe.toml configuration and its environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "jfe.toml"

// Config represents a jfe.toml configuration.
type Config struct {
	Engine   Engine   `toml:"engine"`
	Protocol Protocol `toml:"protocol"`
	Server   Server   `toml:"server"`
	History  History  `toml:"history"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the jfe.toml file (set at load time).
	// Relative paths in the file are resolved against it.
	Dir string `toml:"-"`
}

// Engine configures how the engine library is found and started.
type Engine struct {
	LibDir      string `toml:"lib-dir"`
	LibName     string `toml:"lib-name"`
	SessionKind string `toml:"session-kind"`
	// Profile is a J script run in every new session.
	Profile string `toml:"profile"`
}

// Protocol configures the command protocol.
type Protocol struct {
	Scratch string `toml:"scratch"`
}

// Server configures the Connect server.
type Server struct {
	Addr          string        `toml:"addr"`
	SnapshotTTL   time.Duration `toml:"snapshot-ttl"`
	SweepInterval time.Duration `toml:"sweep-interval"`
	EvalTimeout   time.Duration `toml:"eval-timeout"`
}

// History configures the sentence transcript.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// environment holds the variables that override the file.
type environment struct {
	LibDir  string `env:"JFE_LIB_DIR"`
	LibName string `env:"JFE_LIB_NAME"`
	Scratch string `env:"JFE_SCRATCH"`
	Addr    string `env:"JFE_ADDR"`
	History string `env:"JFE_HISTORY"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Engine:   Engine{SessionKind: "console"},
		Protocol: Protocol{Scratch: command.DefaultScratch},
		Server: Server{
			Addr:          "localhost:8975",
			SnapshotTTL:   10 * time.Minute,
			SweepInterval: time.Minute,
			EvalTimeout:   30 * time.Second,
		},
		History: History{Path: filepath.Join(".jfe", "history.db")},
	}
}

// Load parses the jfe.toml file in dir over the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a jfe.toml file and loads it,
// then applies the environment. Without a file it returns the defaults,
// with the environment applied and Dir set to startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	c, err := find(dir)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = Default()
		c.Dir = dir
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func find(dir string) (*Config, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ApplyEnv overrides settings from JFE_* environment variables.
func (c *Config) ApplyEnv() error {
	var env environment
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Engine.LibDir, env.LibDir)
	set(&c.Engine.LibName, env.LibName)
	set(&c.Protocol.Scratch, env.Scratch)
	set(&c.Server.Addr, env.Addr)
	if env.History != "" {
		c.History.Path = env.History
		c.History.Enabled = true
	}
	return nil
}

// Validate checks settings that would otherwise fail later.
func (c *Config) Validate() error {
	if _, err := engine.ParseSessionKind(c.Engine.SessionKind); err != nil {
		return err
	}
	if !command.ValidName(c.Protocol.Scratch) {
		return fmt.Errorf("config: invalid scratch name %q", c.Protocol.Scratch)
	}
	if c.Server.SnapshotTTL <= 0 || c.Server.SweepInterval <= 0 {
		return errors.New("config: snapshot-ttl and sweep-interval must be positive")
	}
	if c.Server.EvalTimeout < 0 {
		return errors.New("config: eval-timeout must not be negative")
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// LibraryPath returns the engine library to load. An unset lib-dir means
// the current working directory, not the config directory.
func (c *Config) LibraryPath() string {
	dir := c.Engine.LibDir
	if dir != "" {
		dir = c.resolve(dir)
	}
	return engine.LibraryPath(dir, c.Engine.LibName)
}

// SessionKind returns the parsed session kind.
func (c *Config) SessionKind() engine.SessionKind {
	k, err := engine.ParseSessionKind(c.Engine.SessionKind)
	if err != nil {
		return engine.KindConsole
	}
	return k
}

// ProfilePath returns the absolute profile script path, or "" if none.
func (c *Config) ProfilePath() string {
	return c.resolve(c.Engine.Profile)
}

// HistoryPath returns the transcript database path.
func (c *Config) HistoryPath() string {
	return c.resolve(c.History.Path)
}

// LogPath returns the log file path, or "" for stderr.
func (c *Config) LogPath() string {
	return c.resolve(c.Log.File)
}
