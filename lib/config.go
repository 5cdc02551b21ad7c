package lib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Values act as defaults
// for the corresponding CLI flags; flags set explicitly on the command line
// win.
type FileConfig struct {
	Root            string `yaml:"root"`
	Concurrency     int    `yaml:"concurrency"`
	FileConcurrency int    `yaml:"file_concurrency"`
	Retries         *int   `yaml:"retries"`
	ManifestDir     string `yaml:"manifest_dir"`
	UserAgent       string `yaml:"user_agent"`
	Proxy           string `yaml:"proxy"`
}

// LoadFileConfig reads and parses a YAML configuration file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
