package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

type Config struct {
	CodexRoot      string   `toml:"codex_root"`
	ClaudeRoot     string   `toml:"claude_root"`
	GeminiRoot     string   `toml:"gemini_root"`
	DBPath         string   `toml:"db_path"`
	Workers        int      `toml:"workers"`
	FastParseLines int      `toml:"fast_parse_lines"`
	TailBytes      int64    `toml:"tail_bytes"`
	LRUSize        int      `toml:"lru_size"`
	LogLevel       string   `toml:"log_level"`
	GeminiProjects []string `toml:"gemini_projects"`
}

// Default returns the configuration used when no file overrides it.
func Default(home string) *Config {
	return &Config{
		CodexRoot:      filepath.Join(home, ".codex", "sessions"),
		ClaudeRoot:     filepath.Join(home, ".claude", "projects"),
		GeminiRoot:     filepath.Join(home, ".gemini", "tmp"),
		DBPath:         filepath.Join(home, ".config", "codmate", "index.db"),
		FastParseLines: 64,
		TailBytes:      256 << 10,
		LRUSize:        2048,
		LogLevel:       "warn",
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath(home string) string {
	return filepath.Join(home, ".config", "codmate", "config.toml")
}

// Load reads the config file at path, or the default location when path is
// empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	cfg := Default(home)

	explicit := path != ""
	if !explicit {
		path = DefaultPath(home)
	}
	path = expandHome(path, home)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.normalize(home)
	return cfg, nil
}

func (c *Config) normalize(home string) {
	// expand ~ in paths
	c.CodexRoot = expandHome(c.CodexRoot, home)
	c.ClaudeRoot = expandHome(c.ClaudeRoot, home)
	c.GeminiRoot = expandHome(c.GeminiRoot, home)
	c.DBPath = expandHome(c.DBPath, home)
	for i, p := range c.GeminiProjects {
		c.GeminiProjects[i] = expandHome(p, home)
	}
	if c.FastParseLines <= 0 {
		c.FastParseLines = 64
	}
	if c.TailBytes <= 0 {
		c.TailBytes = 256 << 10
	}
	if c.LRUSize <= 0 {
		c.LRUSize = 2048
	}
}

// WorkerCount resolves the refresh pool size: the configured value, or half
// the logical CPUs.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return max(1, runtime.NumCPU()/2)
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
