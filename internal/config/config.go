// Package config loads bundle-blame settings from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/bundle-blame/internal/build"
	"github.com/thiagokokada/bundle-blame/internal/cache"
	gitbackend "github.com/thiagokokada/bundle-blame/internal/git/backend"
)

// FileName is looked up at the repository root when no file is given.
const FileName = ".bundle-blame.yaml"

type Config struct {
	Build BuildConfig `yaml:"build"`
	Cache CacheConfig `yaml:"cache"`
	Git   GitConfig   `yaml:"git"`
}

type BuildConfig struct {
	// Command replaces "<package manager> build" when set.
	Command    []string `yaml:"command"`
	OutputDir  string   `yaml:"output_dir"`
	Manifest   string   `yaml:"manifest"`
	Extensions []string `yaml:"extensions"`
	// Workers bounds concurrent page measurement; 0 means automatic.
	Workers int `yaml:"workers"`
}

type CacheConfig struct {
	// Dir defaults to the user cache directory.
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"`
}

type GitConfig struct {
	Backend string `yaml:"backend"`
}

func Default() Config {
	return Config{
		Build: BuildConfig{
			OutputDir:  build.DefaultOutputDir,
			Manifest:   build.DefaultManifest,
			Extensions: append([]string(nil), build.DefaultExtensions...),
		},
		Cache: CacheConfig{Backend: cache.KindFile},
		Git:   GitConfig{Backend: gitbackend.KindNative},
	}
}

// Load reads path over the defaults. A missing file is fine unless required
// is set, which is the case for a file named explicitly on the command line.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Cache.Backend {
	case cache.KindFile, cache.KindBolt:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", cache.KindFile, cache.KindBolt, c.Cache.Backend)
	}
	switch c.Git.Backend {
	case gitbackend.KindNative, gitbackend.KindCLI:
	default:
		return fmt.Errorf("git.backend must be %q or %q, got %q", gitbackend.KindNative, gitbackend.KindCLI, c.Git.Backend)
	}
	if c.Build.Workers < 0 {
		return fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers)
	}
	if c.Build.OutputDir == "" || c.Build.Manifest == "" {
		return errors.New("build.output_dir and build.manifest must not be empty")
	}
	for _, ext := range c.Build.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("build.extensions entries must start with a dot, got %q", ext)
		}
	}
	return nil
}

// CacheDir returns Cache.Dir with a leading ~ expanded. Empty stays empty.
func (c Config) CacheDir() (string, error) {
	dir := c.Cache.Dir
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand cache.dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}
