package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fxsml/gopipe-cep/internal/app"
	"github.com/fxsml/gopipe-cep/message"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured endpoints until the input ends or a signal arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			zl, err := app.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()
			logger := message.NewZapLogger(zl)

			a, err := app.New(cfg, logger, app.WithStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(withContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil {
				logger.Error("Run failed", "component", "app", "error", err)
				return err
			}
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return app.Load(path)
}

func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
