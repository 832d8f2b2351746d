// jobmate-ingestion-service
//
// Pulls job postings from external providers (Indeed via a hosted scraper
// actor, Adzuna), normalizes them into external_jobs and upserts them by
// (source, external_id).
//
// Commands:
//   - serve    HTTP triggers, optional in-process scheduler
//   - run      one ingestion run, JSON summary on stdout
//   - migrate  apply Postgres migrations
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ingestion-service",
	Short: "JobMate external job ingestion service",
	Long: `ingestion-service pulls postings from external job sources, normalizes
them into a canonical schema and idempotently stores them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml when present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
