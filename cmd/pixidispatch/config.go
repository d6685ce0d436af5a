package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// configName is the config file name without extension, searched for in
// the current directory and the user's home directory when --config is
// not given.
const configName = ".pixidispatch"

const configType = "yaml"

const envPrefix = "PIXIDISPATCH"

// config holds the settings shared by every subcommand: where the cache
// lives and which channels and platform to solve against when a command
// doesn't override them. TOML manifest parsing is out of scope (§B.3); this
// is the CLI's own flat settings file, not a pixi.toml.
type config struct {
	CacheDir string   `mapstructure:"cache_dir"`
	Channels []string `mapstructure:"channels"`
	Platform string   `mapstructure:"platform"`
}

func defaultConfig() config {
	home, err := os.UserHomeDir()
	cacheDir := ".pixidispatch-cache"
	if err == nil {
		cacheDir = home + "/.cache/pixidispatch"
	}
	return config{
		CacheDir: cacheDir,
		Channels: []string{"conda-forge"},
		Platform: "linux-64",
	}
}

// loadConfig reads settings from configPath (or the default search
// locations, if empty) on fs, layering file values and PIXIDISPATCH_*
// environment variables over the built-in defaults. A missing config file
// is not an error. fs is injected (rather than using viper's own OS-backed
// default) so tests can exercise this against an in-memory filesystem.
func loadConfig(fs afero.Fs, configPath string) (config, error) {
	v := viper.New()
	v.SetFs(fs)

	defaults := defaultConfig()
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("channels", defaults.Channels)
	v.SetDefault("platform", defaults.Platform)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("reading pixidispatch config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decoding pixidispatch config: %w", err)
	}
	return cfg, nil
}
