package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobmate/ingestion-service/internal/ingest"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/source"
)

var runFlags struct {
	source string
	limit  int
	client string
	params source.Params
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ingestion run and print its summary as JSON",
	Example: `  ingestion-service run --source indeed --query "golang" --location Paris --country FR --limit 20
  ingestion-service run --source adzuna --query backend --country gb`,
	RunE: runOnce,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.source, "source", string(model.ProviderIndeed), "job source: indeed or adzuna")
	f.IntVar(&runFlags.limit, "limit", 0, "maximum records to fetch (0 uses ingest.default_limit)")
	f.StringVar(&runFlags.client, "client", "cli", "rate-limit identity of this run")
	f.StringVar(&runFlags.params.Query, "query", "", "search keywords")
	f.StringVar(&runFlags.params.Location, "location", "", "search location")
	f.StringVar(&runFlags.params.Country, "country", "", "country code")
	f.IntVar(&runFlags.params.FromDays, "from-days", 0, "only postings newer than this many days")
	f.StringSliceVar(&runFlags.params.URLs, "url", nil, "seed search URL (indeed, repeatable)")
	f.IntVar(&runFlags.params.MaxRowsPerURL, "max-rows-per-url", 0, "cap per seed URL (indeed)")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := model.ParseProvider(runFlags.source)
	if err != nil {
		return err
	}
	q, err := source.NewQuery(p, runFlags.params)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.runner.Run(ctx, ingest.Trigger{
		Source:    p,
		Query:     q,
		Limit:     runFlags.limit,
		ClientKey: runFlags.client,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return runErr
}
