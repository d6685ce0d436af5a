package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newShellHookCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell-hook <prefix>",
		Short: "Print the shell exports needed to activate an installed prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "export CONDA_PREFIX=%q\n", prefix)
			fmt.Fprintf(out, "export PATH=%q:\"$PATH\"\n", filepath.Join(prefix, "bin"))
			return nil
		},
	}
	return cmd
}
