package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by LoadLocal and LoadGlobal when no file exists.
var ErrNoConfig = errors.New("no config file")

// LocalNames are the repo-local config file names, in lookup order.
var LocalNames = []string{".entropyscan.yml", ".entropyscan.yaml", "entropyscan.yml", "entropyscan.yaml"}

// FileConfig is the on-disk YAML configuration shape for entropyscan. Nil
// fields are unset and fall through to the next layer.
type FileConfig struct {
	Include         *string `yaml:"include,omitempty"`
	Exclude         *string `yaml:"exclude,omitempty"`
	MaxBytes        *int64  `yaml:"max_bytes,omitempty"`
	Threads         *int    `yaml:"threads,omitempty"`
	NoColor         *bool   `yaml:"no_color,omitempty"`
	DefaultExcludes *bool   `yaml:"default_excludes,omitempty"`
	Tracked         *bool   `yaml:"tracked,omitempty"`
	Fail            *bool   `yaml:"fail,omitempty"`
	LogLevel        *string `yaml:"log_level,omitempty"`

	// ExclusionsFile overrides tartufo.toml/pyproject.toml discovery. Relative
	// paths are resolved against the workspace root.
	ExclusionsFile *string `yaml:"exclusions_file,omitempty"`
}

// LoadFile reads a YAML config file from the provided path.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadLocal searches repoRoot for the first of LocalNames.
func LoadLocal(repoRoot string) (FileConfig, error) {
	for _, name := range LocalNames {
		p := filepath.Join(repoRoot, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return FileConfig{}, ErrNoConfig
}

// GlobalPath returns $XDG_CONFIG_HOME/entropyscan/config.yml, falling back to
// ~/.config. It returns "" when neither is known.
func GlobalPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, _ := homedir.Dir(); home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, "entropyscan", "config.yml")
}

// LoadGlobal loads the global config file.
func LoadGlobal() (FileConfig, error) {
	p := GlobalPath()
	if p == "" {
		return FileConfig{}, ErrNoConfig
	}
	if _, err := os.Stat(p); err != nil {
		return FileConfig{}, ErrNoConfig
	}
	return LoadFile(p)
}
