package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/silwalsubin/guras-sub000/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				dir, err := os.UserConfigDir()
				if err != nil {
					return WrapExitError(ExitCommandError, "no config path given", err)
				}
				path = filepath.Join(dir, "guras", "config.yaml")
			}
			if err := config.WriteDefault(path); err != nil {
				return WrapExitError(ExitFailure, "failed to write config", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "Wrote %s\n", path)
			})
		},
	}

	cmd.AddCommand(initCmd)
	return cmd
}
