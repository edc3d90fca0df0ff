// Package config provides a reusable loader for weftd's node configuration
// file and environment variable overrides. It is versioned so that other
// tooling can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/weftfs/weft/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is one weftd node's local configuration: where its identity and
// blobs live, what address it listens on, and how it logs.
type Config struct {
	Addr       string `mapstructure:"addr" json:"addr"`
	KeyPath    string `mapstructure:"key_path" json:"key_path"`
	BlobsDir   string `mapstructure:"blobs_dir" json:"blobs_dir"`
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path"`
	LogLevel   string `mapstructure:"log_level" json:"log_level"`
}

func defaults() Config {
	return Config{
		Addr:     "/ip4/0.0.0.0/tcp/4001",
		KeyPath:  "key.pem",
		BlobsDir: "blobs",
		LogLevel: "info",
	}
}

// AppConfig holds the configuration loaded by the most recent Load call.
var AppConfig Config

// Load reads a TOML config file at path (if non-empty) over the built-in
// defaults, then lets WEFT_-prefixed environment variables (WEFT_ADDR,
// WEFT_KEY_PATH, WEFT_BLOBS_DIR, WEFT_SQLITE_PATH, WEFT_LOG_LEVEL)
// override individual fields. The result is stored in AppConfig and
// returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	def := defaults()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("key_path", def.KeyPath)
	v.SetDefault("blobs_dir", def.BlobsDir)
	v.SetDefault("sqlite_path", def.SQLitePath)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("read config %s", path))
		}
	}

	v.SetEnvPrefix("WEFT")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the WEFT_CONFIG environment
// variable as the config file path (empty means defaults-plus-env only).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("WEFT_CONFIG", ""))
}
