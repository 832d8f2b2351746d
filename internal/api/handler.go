// Package api implements the HTTP triggers of the ingestion service.
//
// Routes:
//
//	POST     /api/ingest        → on-demand run, X-Ingest-Secret
//	GET|POST /api/cron/ingest   → maintenance + scheduled query, cron secret
//	GET      /health            → liveness
//	GET      /metrics           → Prometheus
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"jobmate/ingestion-service/internal/ingest"
	"jobmate/ingestion-service/internal/logging"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/scheduler"
	"jobmate/ingestion-service/internal/source"
)

const maxBodyBytes = 1 << 20

var (
	errUnauthorized        = errors.New("unauthorized")
	errSecretNotConfigured = errors.New("trigger secret not configured")
)

// Runner executes one on-demand ingestion run.
type Runner interface {
	Run(ctx context.Context, t ingest.Trigger) (*ingest.RunResult, error)
}

// CronRunner executes maintenance followed by the scheduled run.
type CronRunner interface {
	Run(ctx context.Context) (*scheduler.Report, error)
}

// Auth holds the trigger secrets. An empty secret rejects every request
// with 503 unless AllowOpen is set.
type Auth struct {
	IngestSecret string
	CronSecret   string
	AllowOpen    bool
}

// ─── Request / response types ────────────────────────────────────────────────

// IngestRequest is the body of POST /api/ingest. Every field is optional.
type IngestRequest struct {
	Source string `json:"source"`
	Limit  int    `json:"limit"`
	source.Params
}

// RunResponse is returned by both triggers on success.
type RunResponse struct {
	Fetched       int    `json:"fetched"`
	CreatedPosts  int    `json:"createdPosts"`
	ExistingPosts int    `json:"existingPosts"`
	FailedPosts   int    `json:"failedPosts"`
	RunID         string `json:"runId"`
}

// CronResponse adds the maintenance counts to RunResponse.
type CronResponse struct {
	RunResponse
	Maintenance      map[string]int `json:"maintenance"`
	MaintenanceError string         `json:"maintenanceError,omitempty"`
}

func newRunResponse(res *ingest.RunResult) RunResponse {
	return RunResponse{
		Fetched:       res.FetchedCount,
		CreatedPosts:  res.CreatedCount,
		ExistingPosts: res.ExistingCount,
		FailedPosts:   res.FailedCount,
		RunID:         res.RunID,
	}
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	runner Runner
	cron   CronRunner
	auth   Auth
	logger *logging.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(runner Runner, cron CronRunner, auth Auth, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	return &Handler{runner: runner, cron: cron, auth: auth, logger: logger}
}

// RegisterRoutes mounts the trigger routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ingest", h.handleIngest)
	mux.HandleFunc("/api/cron/ingest", h.handleCron)
	mux.HandleFunc("/health", h.health)
}

// handleIngest handles POST /api/ingest
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := h.logger.WithContext(r.Context())

	if err := checkSecret(h.auth.IngestSecret, r.Header.Get("X-Ingest-Secret"), h.auth.AllowOpen); err != nil {
		writeRunError(w, log, err)
		return
	}

	var req IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	provider := model.ProviderIndeed
	if req.Source != "" {
		p, err := model.ParseProvider(req.Source)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		provider = p
	}
	q, err := source.NewQuery(provider, req.Params)
	if err != nil {
		writeRunError(w, log, err)
		return
	}

	res, err := h.runner.Run(r.Context(), ingest.Trigger{
		Source:    provider,
		Query:     q,
		Limit:     req.Limit,
		ClientKey: ClientIP(r.Header),
	})
	if err != nil {
		writeRunError(w, log, err)
		return
	}
	jsonOK(w, newRunResponse(res))
}

// handleCron handles GET|POST /api/cron/ingest
func (h *Handler) handleCron(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := h.logger.WithContext(r.Context())

	if err := checkSecret(h.auth.CronSecret, cronSecret(r), h.auth.AllowOpen); err != nil {
		writeRunError(w, log, err)
		return
	}

	report, err := h.cron.Run(r.Context())
	if err != nil {
		writeRunError(w, log, err)
		return
	}
	jsonOK(w, CronResponse{
		RunResponse:      newRunResponse(report.Result),
		Maintenance:      report.Maintenance,
		MaintenanceError: report.MaintenanceError,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]string{"status": "ok", "service": "ingestion-service"})
}

// ─── Identity & auth ─────────────────────────────────────────────────────────

// ClientIP returns the rate-limit identity of a caller: the first
// X-Forwarded-For entry, else X-Real-IP, else ingest.UnknownClient.
func ClientIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(h.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return ingest.UnknownClient
}

// cronSecret reads the secret from Authorization: Bearer, X-Cron-Secret or
// the secret query parameter, in that order.
func cronSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if s := r.Header.Get("X-Cron-Secret"); s != "" {
		return s
	}
	return r.URL.Query().Get("secret")
}

func checkSecret(expected, presented string, allowOpen bool) error {
	if expected == "" {
		if allowOpen {
			return nil
		}
		return errSecretNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return errUnauthorized
	}
	return nil
}

// ─── Error mapping ───────────────────────────────────────────────────────────

// writeRunError maps trigger and pipeline errors to HTTP responses.
func writeRunError(w http.ResponseWriter, log *slog.Logger, err error) {
	var admission *ingest.AdmissionError
	var upstream *source.UpstreamError

	switch {
	case errors.Is(err, errUnauthorized):
		jsonError(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, errSecretNotConfigured):
		log.Error("trigger rejected: secret not configured")
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &admission):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(admission.RetryAfter.Seconds()))))
		jsonError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, source.ErrUnknownSource), errors.Is(err, source.ErrQueryMismatch):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, source.ErrMissingCredential):
		log.Error("ingestion misconfigured", slog.Any("err", err))
		jsonError(w, err.Error(), http.StatusInternalServerError)
	case errors.As(err, &upstream):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		log.Error("ingestion run failed", slog.Any("err", err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
