package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"imagedup/internal/app"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Index  IndexConfig  `mapstructure:"index"`
	Search SearchConfig `mapstructure:"search"`
	Rename RenameConfig `mapstructure:"rename"`
}

// IndexConfig controls scanning and hashing of the image collection.
type IndexConfig struct {
	SnapshotName string   `mapstructure:"snapshotName"`
	Workers      int      `mapstructure:"workers"`
	Extensions   []string `mapstructure:"extensions"`
}

// SearchConfig controls duplicate grouping and point queries.
type SearchConfig struct {
	Threshold int `mapstructure:"threshold"`
	// ClosestCount is how many near-misses beyond the threshold a point
	// query reports for context.
	ClosestCount int `mapstructure:"closestCount"`
}

// RenameConfig controls the datetime-based rename subcommand.
type RenameConfig struct {
	// DateFormat is a Go reference-time layout for generated names.
	DateFormat string `mapstructure:"dateFormat"`
}

var AppConfig Config

// DefaultExtensions are the image extensions indexed when the config does
// not override them. HEIC/HEIF are intentionally absent: no decoder is
// registered for them.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tiff", ".tif"}

// LoadConfig reads configuration from file or environment variables.
// Each call works on a fresh viper instance so an explicit config path
// never bleeds into a later default-path load.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", app.DefaultAppName))
		v.AddConfigPath(app.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("index.snapshotName", app.DefaultSnapshotName)
	v.SetDefault("index.workers", 5)
	v.SetDefault("index.extensions", DefaultExtensions)
	v.SetDefault("search.threshold", 5)
	v.SetDefault("search.closestCount", 10)
	v.SetDefault("rename.dateFormat", "20060102_150405")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
