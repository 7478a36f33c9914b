package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/juehai/sitebase/internal/config"
	"github.com/juehai/sitebase/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the node tables",
	Long:  "Create the nodes and node_cache tables and their indexes if they do not exist",
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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}

		fmt.Println("Tables are up to date.")
		return nil
	},
}
