package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// rootFlags holds the persistent flags every subcommand can read, layered
// over whatever loadConfig produced from the config file and environment.
type rootFlags struct {
	configPath string
	cacheDir   string
	channels   []string
	platform   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "pixidispatch",
		Short: "Drive the pixi command dispatcher from the command line",
		Long: "pixidispatch exercises the dispatcher's solve and install task kinds " +
			"against a local cache, a build-backend pool, and a terminal progress reporter.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a pixidispatch config file (default: .pixidispatch.yaml in . or $HOME)")
	cmd.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "override the configured cache directory")
	cmd.PersistentFlags().StringArrayVar(&flags.channels, "channel", nil, "override the configured channel list (repeatable)")
	cmd.PersistentFlags().StringVar(&flags.platform, "platform", "", "override the configured host platform")

	cmd.AddCommand(newInstallCmd(flags))
	cmd.AddCommand(newTreeCmd(flags))
	cmd.AddCommand(newShellHookCmd(flags))

	return cmd
}

// resolveConfig loads config from disk and layers any non-empty persistent
// flag values on top, so a one-off --cache-dir or --channel never requires
// editing the config file.
func resolveConfig(flags *rootFlags) (config, error) {
	cfg, err := loadConfig(afero.NewOsFs(), flags.configPath)
	if err != nil {
		return config{}, err
	}
	if flags.cacheDir != "" {
		cfg.CacheDir = flags.cacheDir
	}
	if len(flags.channels) > 0 {
		cfg.Channels = flags.channels
	}
	if flags.platform != "" {
		cfg.Platform = flags.platform
	}
	return cfg, nil
}
