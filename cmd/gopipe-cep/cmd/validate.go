package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/internal/app"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and compile every endpoint expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			if err := app.Check(cfg, logger); err != nil {
				for _, e := range multierr.Errors(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), "-", e)
				}
				return fmt.Errorf("%d problem(s) found", len(multierr.Errors(err)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d endpoint(s)\n", len(cfg.Endpoints))
			return nil
		},
	}
}
