package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/solve"
)

func newInstallCmd(flags *rootFlags) *cobra.Command {
	var prefix string
	var envName string

	cmd := &cobra.Command{
		Use:   "install <requirement>...",
		Short: "Solve and install a conda environment satisfying the given requirements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			if prefix == "" {
				return fmt.Errorf("--prefix is required")
			}

			h, rep, err := buildHandle(cfg)
			if err != nil {
				return err
			}

			var reqs []model.PackageDependency
			for _, arg := range args {
				reqs = append(reqs, parsePackageArg(arg))
			}

			name := envName
			if name == "" {
				name = "default"
			}

			req := solve.Request{
				Spec: model.PixiEnvironmentSpec{
					Name:         name,
					Requirements: reqs,
					Channels:     cfg.Channels,
					Env:          model.BuildEnvironment{HostPlatform: cfg.Platform},
				},
			}

			records, err := h.Install(context.Background(), model.RootContext(), prefix, req)
			rep.Wait()
			if err != nil {
				return fmt.Errorf("installing %s: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "installed %d package(s) into %s\n", len(records), prefix)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "destination environment prefix")
	cmd.Flags().StringVar(&envName, "name", "", "environment name (default: \"default\")")
	return cmd
}
