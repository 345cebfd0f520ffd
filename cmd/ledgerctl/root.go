package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"caisse/backend/internal/app"
	"caisse/backend/internal/config"
)

const openTimeout = 10 * time.Second

type cli struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd(cfg config.Config, logger *zap.Logger) *cobra.Command {
	c := &cli{cfg: cfg, logger: logger}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the revenue ledger from the command line",
		Long: `ledgerctl works directly against the configured ledger backend.
It can ingest invoice files, print vendor totals, export revenue reports,
reconcile stored totals and mint admin tokens for the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfg.Backend, "backend", cfg.Backend, "ledger backend: auto, memory, sqlite, postgres, redis")
	root.PersistentFlags().StringVar(&c.cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database file")

	root.AddCommand(
		c.ingestCmd(),
		c.totalsCmd(),
		c.exportCmd(),
		c.reconcileCmd(),
		c.tokenCmd(),
	)
	return root
}

// withApp opens the ledger for one command and closes it afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	openCtx, cancel := context.WithTimeout(cmd.Context(), openTimeout)
	a, err := app.New(openCtx, c.cfg, c.logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("close ledger", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), a)
}
