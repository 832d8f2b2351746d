// Package source implements the adapters that pull raw job postings from
// third-party providers. One Adapter exists per provider; each accepts its
// own Query variant and returns opaque JSON records for the normalizer.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"jobmate/ingestion-service/internal/model"
)

// DefaultTimeout bounds a single Fetch, including every page or seed call.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrMissingCredential is returned when the provider token is not configured.
	ErrMissingCredential = errors.New("upstream credential not configured")

	// ErrQueryMismatch is returned when an adapter receives another provider's query.
	ErrQueryMismatch = errors.New("query does not match adapter provider")

	// ErrUnknownSource is returned by Registry.Get for providers without an adapter.
	ErrUnknownSource = errors.New("no adapter registered for source")
)

// RawRecord is one provider payload, kept as raw JSON.
type RawRecord struct {
	Source  model.Provider
	Payload json.RawMessage
}

// Query is a provider-specific set of search filters.
type Query interface {
	Provider() model.Provider
}

// Params are the provider-neutral search filters accepted by the triggers.
type Params struct {
	Country       string   `json:"country,omitempty"`
	Query         string   `json:"query,omitempty"`
	Location      string   `json:"location,omitempty"`
	FromDays      int      `json:"fromDays,omitempty"`
	URLs          []string `json:"urls,omitempty"`
	MaxRowsPerURL int      `json:"maxRowsPerUrl,omitempty"`
}

// NewQuery maps params onto p's query variant. Filters the provider has no
// equivalent for are ignored.
func NewQuery(p model.Provider, params Params) (Query, error) {
	switch p {
	case model.ProviderIndeed:
		return IndeedQuery{
			Country:       params.Country,
			Query:         params.Query,
			Location:      params.Location,
			FromDays:      params.FromDays,
			URLs:          params.URLs,
			MaxRowsPerURL: params.MaxRowsPerURL,
		}, nil
	case model.ProviderAdzuna:
		return AdzunaQuery{
			Country:    strings.ToLower(params.Country),
			What:       params.Query,
			Where:      params.Location,
			MaxDaysOld: params.FromDays,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, p)
}

// Adapter fetches raw postings from one provider.
type Adapter interface {
	Provider() model.Provider

	// Validate reports ErrMissingCredential when the adapter cannot call
	// its provider. It performs no I/O.
	Validate() error

	// Fetch returns at most limit records. An empty result is not an error.
	// Upstream failures are returned as *UpstreamError and never retried.
	Fetch(ctx context.Context, q Query, limit int) ([]RawRecord, error)
}

// UpstreamError reports a failed provider call: transport error, non-2xx
// status, or an undecodable payload.
type UpstreamError struct {
	Provider   model.Provider
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream returned %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Registry maps providers to their adapters.
type Registry struct {
	adapters map[model.Provider]Adapter
}

// NewRegistry builds a registry from adapters. A later adapter for the same
// provider replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p model.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, p)
	}
	return a, nil
}

// truncateBody keeps upstream error bodies readable in logs. The cut backs
// off to a rune boundary so the result stays valid UTF-8.
func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "…"
}
