package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"jobmate/ingestion-service/internal/model"
)

const (
	apifyBaseURL       = "https://api.apify.com/v2"
	defaultIndeedActor = "misceres~indeed-scraper"
	indeedSeedWorkers  = 4
)

// IndeedQuery filters an Indeed scrape. When URLs is set every seed URL is
// scraped independently and capped at MaxRowsPerURL.
type IndeedQuery struct {
	Country       string   `json:"country,omitempty"`
	Query         string   `json:"query,omitempty"`
	Location      string   `json:"location,omitempty"`
	FromDays      int      `json:"fromDays,omitempty"`
	URLs          []string `json:"urls,omitempty"`
	MaxRowsPerURL int      `json:"maxRowsPerUrl,omitempty"`
}

// Provider implements Query.
func (IndeedQuery) Provider() model.Provider { return model.ProviderIndeed }

// IndeedConfig configures an IndeedAdapter.
type IndeedConfig struct {
	Token   string
	Actor   string
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// IndeedAdapter runs a hosted Indeed scraper actor synchronously and returns
// its dataset items.
type IndeedAdapter struct {
	token   string
	actor   string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewIndeedAdapter constructs an adapter, filling unset fields with defaults.
func NewIndeedAdapter(cfg IndeedConfig) *IndeedAdapter {
	a := &IndeedAdapter{
		token:   cfg.Token,
		actor:   cfg.Actor,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
	if a.actor == "" {
		a.actor = defaultIndeedActor
	}
	if a.baseURL == "" {
		a.baseURL = apifyBaseURL
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	return a
}

// Provider implements Adapter.
func (a *IndeedAdapter) Provider() model.Provider { return model.ProviderIndeed }

// Validate implements Adapter.
func (a *IndeedAdapter) Validate() error {
	if a.token == "" {
		return fmt.Errorf("indeed: %w", ErrMissingCredential)
	}
	return nil
}

// indeedActorInput is the actor's input document.
type indeedActorInput struct {
	Country       string   `json:"country,omitempty"`
	Query         string   `json:"query,omitempty"`
	Location      string   `json:"location,omitempty"`
	FromDays      int      `json:"fromDays,omitempty"`
	MaxRows       int      `json:"maxRows"`
	URLs          []string `json:"urls,omitempty"`
	MaxRowsPerURL int      `json:"maxRowsPerUrl,omitempty"`
}

// Fetch implements Adapter. Seed URLs are scraped concurrently and merged in
// the order they were given before the overall limit is applied.
func (a *IndeedAdapter) Fetch(ctx context.Context, q Query, limit int) ([]RawRecord, error) {
	iq, ok := q.(IndeedQuery)
	if !ok {
		return nil, fmt.Errorf("indeed: %w (got %T)", ErrQueryMismatch, q)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []RawRecord{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	seeds := make([]string, 0, len(iq.URLs))
	for _, u := range iq.URLs {
		if u = strings.TrimSpace(u); u != "" {
			seeds = append(seeds, u)
		}
	}

	base := indeedActorInput{
		Country:  strings.ToUpper(iq.Country),
		Query:    iq.Query,
		Location: iq.Location,
		FromDays: iq.FromDays,
	}

	if len(seeds) == 0 {
		base.MaxRows = limit
		records, err := a.runActor(ctx, base)
		if err != nil {
			return nil, err
		}
		return capRecords(records, limit), nil
	}

	perSeed := limit
	if iq.MaxRowsPerURL > 0 && iq.MaxRowsPerURL < limit {
		perSeed = iq.MaxRowsPerURL
	}

	batches := make([][]RawRecord, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indeedSeedWorkers)
	for i, seed := range seeds {
		g.Go(func() error {
			in := base
			in.URLs = []string{seed}
			in.MaxRows = perSeed
			in.MaxRowsPerURL = perSeed
			records, err := a.runActor(gctx, in)
			if err != nil {
				return err
			}
			batches[i] = capRecords(records, perSeed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]RawRecord, 0, limit)
	for _, batch := range batches {
		merged = append(merged, batch...)
	}
	return capRecords(merged, limit), nil
}

func (a *IndeedAdapter) runActor(ctx context.Context, in indeedActorInput) ([]RawRecord, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("indeed: encode actor input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?%s",
		a.baseURL, url.PathEscape(a.actor), url.Values{"format": {"json"}, "clean": {"true"}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: model.ProviderIndeed, Err: fmt.Errorf("http POST: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: model.ProviderIndeed, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Provider:   model.ProviderIndeed,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncateBody(respBody)),
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, &UpstreamError{Provider: model.ProviderIndeed, StatusCode: resp.StatusCode, Err: fmt.Errorf("json unmarshal: %w", err)}
	}

	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		if len(item) == 0 || string(item) == "null" {
			continue
		}
		records = append(records, RawRecord{Source: model.ProviderIndeed, Payload: item})
	}
	return records, nil
}

func capRecords(records []RawRecord, limit int) []RawRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
