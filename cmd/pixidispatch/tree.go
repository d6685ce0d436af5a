package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/solve"
)

func newTreeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree <requirement>...",
		Short: "Solve the given requirements and print the resulting dependency tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}

			h, rep, err := buildHandle(cfg)
			if err != nil {
				return err
			}

			var reqs []model.PackageDependency
			for _, arg := range args {
				reqs = append(reqs, parsePackageArg(arg))
			}

			req := solve.Request{
				Spec: model.PixiEnvironmentSpec{
					Name:         "tree",
					Requirements: reqs,
					Channels:     cfg.Channels,
					Env:          model.BuildEnvironment{HostPlatform: cfg.Platform},
				},
			}

			records, err := h.Solve(context.Background(), model.RootContext(), req)
			rep.Wait()
			if err != nil {
				return fmt.Errorf("solving tree: %w", err)
			}

			printTree(cmd.OutOrStdout(), records)
			return nil
		},
	}
	return cmd
}

// printTree renders each solved record and its match-spec dependency names,
// one level deep. The solve pipeline already flattened transitive
// dependencies into the solved set; this only shows each record's own
// declared Depends, not a recursively expanded tree.
func printTree(w io.Writer, records []model.SolvedRecord) {
	for _, r := range records {
		switch r.Kind {
		case model.SolvedRecordBinary:
			fmt.Fprintf(w, "%s %s (%s)\n", r.Binary.Name, r.Binary.Version, r.Binary.BuildString)
			for _, dep := range r.Binary.Depends {
				fmt.Fprintf(w, "  %s\n", dep)
			}
		case model.SolvedRecordSource:
			fmt.Fprintf(w, "%s %s (source)\n", r.Output.Name, r.Output.Version)
			for _, dep := range r.Output.RunDeps() {
				fmt.Fprintf(w, "  %s\n", dep.Spec)
			}
		}
	}
}
