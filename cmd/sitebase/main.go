package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sitebase",
		Short: "Schema-driven node store over PostgreSQL",
		Long: `sitebase stores typed nodes validated against a declarative schema,
maintains denormalized cache entries per node and serves them over an
HTTP API with a small search query language.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the configuration file (default: sitebase.yml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
