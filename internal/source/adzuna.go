package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 10
)

// AdzunaQuery filters an Adzuna search.
type AdzunaQuery struct {
	Country    string `json:"country,omitempty"` // "fr", "gb", "us", …
	What       string `json:"what,omitempty"`
	Where      string `json:"where,omitempty"`
	MaxDaysOld int    `json:"maxDaysOld,omitempty"`
}

// Provider implements Query.
func (AdzunaQuery) Provider() model.Provider { return model.ProviderAdzuna }

// AdzunaConfig configures an AdzunaAdapter.
type AdzunaConfig struct {
	AppID   string
	AppKey  string
	Country string // used when the query leaves Country empty
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// AdzunaAdapter fetches postings from the Adzuna public search API.
type AdzunaAdapter struct {
	appID   string
	appKey  string
	country string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewAdzunaAdapter constructs an adapter with a shared HTTP client.
func NewAdzunaAdapter(cfg AdzunaConfig) *AdzunaAdapter {
	a := &AdzunaAdapter{
		appID:   cfg.AppID,
		appKey:  cfg.AppKey,
		country: cfg.Country,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
	if a.country == "" {
		a.country = "fr"
	}
	if a.baseURL == "" {
		a.baseURL = adzunaBaseURL
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
func (a *AdzunaAdapter) Provider() model.Provider { return model.ProviderAdzuna }

// Validate implements Adapter.
func (a *AdzunaAdapter) Validate() error {
	if a.appID == "" || a.appKey == "" {
		return fmt.Errorf("adzuna: %w", ErrMissingCredential)
	}
	return nil
}

// adzunaResponse mirrors the top-level Adzuna JSON response. Results stay
// raw; the normalizer owns the listing shape.
type adzunaResponse struct {
	Results []json.RawMessage `json:"results"`
	Count   int               `json:"count"`
}

// Fetch implements Adapter. Pages are requested until a short page, limit,
// or adzunaMaxPages is reached.
func (a *AdzunaAdapter) Fetch(ctx context.Context, q Query, limit int) ([]RawRecord, error) {
	aq, ok := q.(AdzunaQuery)
	if !ok {
		return nil, fmt.Errorf("adzuna: %w (got %T)", ErrQueryMismatch, q)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []RawRecord{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pageSize := adzunaPageSize
	if limit < pageSize {
		pageSize = limit
	}

	records := make([]RawRecord, 0, limit)
	for page := 1; page <= adzunaMaxPages && len(records) < limit; page++ {
		batch, served, err := a.fetchPage(ctx, aq, page, pageSize)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if served < pageSize {
			break // last page
		}
	}

	return capRecords(records, limit), nil
}

// fetchPage returns the page's non-null results and the number of results
// the API served, which decides whether another page exists.
func (a *AdzunaAdapter) fetchPage(ctx context.Context, q AdzunaQuery, page, pageSize int) ([]RawRecord, int, error) {
	country := strings.ToLower(q.Country)
	if country == "" {
		country = a.country
	}
	endpoint := fmt.Sprintf("%s/%s/search/%d", a.baseURL, url.PathEscape(country), page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(pageSize))
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")
	if q.What != "" {
		params.Set("what", q.What)
	}
	if q.Where != "" {
		params.Set("where", q.Where)
	}
	if q.MaxDaysOld > 0 {
		params.Set("max_days_old", strconv.Itoa(q.MaxDaysOld))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, &UpstreamError{Provider: model.ProviderAdzuna, Err: fmt.Errorf("page %d: http GET: %w", page, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &UpstreamError{Provider: model.ProviderAdzuna, StatusCode: resp.StatusCode, Err: fmt.Errorf("page %d: read body: %w", page, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, &UpstreamError{
			Provider:   model.ProviderAdzuna,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncateBody(body)),
		}
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, 0, &UpstreamError{Provider: model.ProviderAdzuna, StatusCode: resp.StatusCode, Err: fmt.Errorf("page %d: json unmarshal: %w", page, err)}
	}

	records := make([]RawRecord, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if len(r) == 0 || string(r) == "null" {
			continue
		}
		records = append(records, RawRecord{Source: model.ProviderAdzuna, Payload: r})
	}
	return records, len(apiResp.Results), nil
}
