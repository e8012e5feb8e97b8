package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ncog-id/ncog/pkg/config"
	"github.com/ncog-id/ncog/pkg/db"
	"github.com/ncog-id/ncog/pkg/logger"
	"github.com/ncog-id/ncog/pkg/metrics"
	"github.com/ncog-id/ncog/pkg/pubsub"
	"github.com/ncog-id/ncog/pkg/registry"
	"github.com/ncog-id/ncog/pkg/server"
	gormstore "github.com/ncog-id/ncog/pkg/server/store/gorm"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the ncog application server",
	Long: `Run the ncog application server.

Requires the DATABASE_URL (or NCOG_DATABASE_URL) environment variable.

By default, database migrations are run on startup. Use --no-migrate to skip.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Get()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		if cfg.DatabaseURL == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL environment variable is required")
			os.Exit(1)
		}

		logger.Setup(cfg.LogLevel, cfg.LogFormat)
		log := logger.Get("server")
		metrics.Init()

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			log.Info().Msg("running database migrations")
			if err := runMigrations(); err != nil {
				fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
				os.Exit(1)
			}
		}

		database, err := db.Connect(db.Config{URL: cfg.DatabaseURL})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}

		st := gormstore.NewStore(database)
		accounts := registry.NewAccounts(st, logger.Get("accounts"))
		clients := registry.NewClients(accounts, logger.Get("registry"))
		s := server.NewServer(cfg, database, st, clients, log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		listener := pubsub.NewListener(cfg.DatabaseURL, clients, logger.Get("pubsub"))
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub listener stopped")
			}
		}()
		go s.RunPingLoop(ctx)
		go func() {
			if err := config.Watch(ctx, logger.Get("config")); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("config watch stopped")
			}
		}()

		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			log.Info().Msg("shutting down")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = s.Shutdown(shutdownCtx)
		}()

		log.Info().Str("addr", cfg.ListenAddr()).Msg("running server")
		if err := s.Start(); err != nil {
			log.Info().Err(err).Msg("server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().Bool("no-migrate", false, "skip running database migrations on start")
}
