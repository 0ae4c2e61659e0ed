package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
	home string
}

func (s *ConfigSuite) SetupTest() {
	s.home = s.T().TempDir()
	s.T().Setenv("HOME", s.home)
}

func (s *ConfigSuite) write(name, body string) string {
	path := filepath.Join(s.home, name)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (s *ConfigSuite) TestDefaultsWithoutFile() {
	cfg, err := Load("")
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.home, ".codex", "sessions"), cfg.CodexRoot)
	s.Equal(filepath.Join(s.home, ".gemini", "tmp"), cfg.GeminiRoot)
	s.Equal(64, cfg.FastParseLines)
	s.Equal(int64(256<<10), cfg.TailBytes)
	s.GreaterOrEqual(cfg.WorkerCount(), 1)
}

func (s *ConfigSuite) TestFileOverridesAndExpandsHome() {
	s.write(".config/codmate/config.toml", `
claude_root = "~/logs/claude"
db_path = "~/idx.db"
workers = 3
fast_parse_lines = 16
gemini_projects = ["~/src/app"]
`)
	cfg, err := Load("")
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.home, "logs", "claude"), cfg.ClaudeRoot)
	s.Equal(filepath.Join(s.home, "idx.db"), cfg.DBPath)
	s.Equal(3, cfg.WorkerCount())
	s.Equal(16, cfg.FastParseLines)
	s.Equal([]string{filepath.Join(s.home, "src", "app")}, cfg.GeminiProjects)
	s.Equal(2048, cfg.LRUSize, "unset keys keep defaults")
}

func (s *ConfigSuite) TestExplicitPath() {
	path := s.write("custom.toml", `log_level = "debug"`)
	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal("debug", cfg.LogLevel)

	_, err = Load(filepath.Join(s.home, "missing.toml"))
	s.Error(err)
}

func (s *ConfigSuite) TestMalformedFile() {
	path := s.write("bad.toml", `workers = "many"`)
	_, err := Load(path)
	s.ErrorContains(err, "parse config")
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}
