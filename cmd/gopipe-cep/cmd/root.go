// Package cmd implements the gopipe-cep commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// NewRootCommand returns the gopipe-cep command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gopipe-cep",
		Short:         "Runs continuous queries over event streams and publishes their results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (YAML, TOML or JSON)")

	root.AddCommand(newRunCommand(), newValidateCommand(), newVersionCommand())
	return root
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
