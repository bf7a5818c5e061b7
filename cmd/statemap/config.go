package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the statemap configuration file
// (~/.config/statemap/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Workers      *int   `yaml:"workers"`
	MaxShardSize string `yaml:"max_shard_size"`
	Family       string `yaml:"family"`
	OutDir       string `yaml:"out_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
}

// configPathFn is a seam for tests.
var configPathFn = configPath

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "statemap", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPathFn()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyRecipeConfig(c *cli.Command, cfg Config, o *recipeOptions) {
	if cfg.Family != "" && !c.IsSet("family") {
		o.family = cfg.Family
	}
}

// applyConvertConfig applies config file defaults to convert command
// variables when the corresponding CLI flag was not explicitly set.
func applyConvertConfig(c *cli.Command, cfg Config, workers *int, maxShard *string) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		*workers = *cfg.Workers
	}
	if cfg.MaxShardSize != "" && !c.IsSet("max-shard-size") {
		*maxShard = cfg.MaxShardSize
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
}
