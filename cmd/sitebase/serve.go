package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/config"
	"github.com/juehai/sitebase/internal/node"
	"github.com/juehai/sitebase/internal/schema"
	"github.com/juehai/sitebase/internal/store"
	"github.com/juehai/sitebase/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Load the schema declarations, connect to the database and serve the node API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		registry, err := schema.Load(
			cfg.Schema.FieldFile, cfg.Schema.ManifestFile, cfg.Schema.CacheFile)
		if err != nil {
			return fmt.Errorf("load schema declarations: %w", err)
		}

		st, err := store.Open(store.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}

		engine := node.New(registry, st, logger)
		handler := web.NewHandler(engine, registry, logger)
		server := web.NewServer(cfg.Server, web.NewRouter(handler, logger), logger)

		logger.Info("starting sitebase",
			zap.String("addr", cfg.Server.Addr()),
			zap.Int("fields", len(registry.Fields())),
			zap.Int("manifests", len(registry.Manifests())))

		ctx, stop := signal.NotifyContext(
			context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return server.Run(ctx)
	},
}
