package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/juehai/sitebase/internal/config"
	"github.com/juehai/sitebase/internal/node"
	"github.com/juehai/sitebase/internal/schema"
	"github.com/juehai/sitebase/internal/store"
)

var rebuildID int64

func init() {
	rebuildCmd.Flags().Int64Var(&rebuildID, "id", 0,
		"rebuild only the cache entry of this node")
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-cache",
	Short: "Rebuild cache entries",
	Long:  "Recompute the denormalized cache entry of one node, or of every node",
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

		engine := node.New(registry, st, logger)
		ctx := context.Background()

		var result *node.CacheResult
		if rebuildID != 0 {
			result, err = engine.BuildCache(ctx, rebuildID)
		} else {
			result, err = engine.RebuildAll(ctx)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Rebuilt %d cache entries.\n", result.Affected)
		return nil
	},
}
