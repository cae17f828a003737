package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"plantops.org/internal/auth"
	"plantops.org/internal/metrics"
	"plantops.org/internal/obs"
	"plantops.org/internal/plant"
	"plantops.org/internal/stream"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the identity service, the plant service and
// the metrics aggregator.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authSvc  *auth.Service
	plantSvc plant.Service
	agg      *metrics.Aggregator
	events   *stream.Stream

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(rp ReadyProbe, version string, authSvc *auth.Service, plantSvc plant.Service, events *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		authSvc:    authSvc,
		plantSvc:   plantSvc,
		agg:        metrics.NewAggregator(plantSvc, metrics.WithOEECache()),
		events:     events,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/token", a.handleToken)
	a.mux.HandleFunc("/users/me", a.handleCurrentUser)
	a.mux.HandleFunc("/users/", a.handleUsers)

	// plant collections
	a.mux.HandleFunc("/machines/", a.handleMachines)
	a.mux.HandleFunc("/orders/", a.handleOrders)
	a.mux.HandleFunc("/events/bulk", a.handleEventsBulk)
	a.mux.HandleFunc("/events/stream", a.handleEventsStream)

	// reports and dashboard
	a.mux.HandleFunc("/reports/oee", a.handleOEE)
	a.mux.HandleFunc("/reports/oee/window", a.handleOEEWindow)
	a.mux.HandleFunc("/reports/production_trend", a.handleProductionTrend)
	a.mux.HandleFunc("/reports/orders_status", a.handleOrdersStatus)
	a.mux.HandleFunc("/reports/metrics/production", a.handleProductionMetrics)
	a.mux.HandleFunc("/reports/machine_status", a.handleMachineStatus)
	a.mux.HandleFunc("/dashboard/summary", a.handleDashboardSummary)
	a.mux.HandleFunc("/dashboard/production", a.handleProductionBar)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-IP limits (tests raise them).
func (a *API) SetRateLimit(burst, perSec int) {
	a.rateBurst = burst
	a.ratePerSec = perSec
}

// SetMaxBody overrides the default request body cap.
func (a *API) SetMaxBody(limit int64) {
	if limit > 0 {
		a.maxBody = limit
	}
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "plantops-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "plantops-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps plant and metrics sentinels onto HTTP codes.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plant.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, plant.ErrInvalidInput), errors.Is(err, metrics.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, plant.ErrInvalidRange), errors.Is(err, metrics.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "end must be after start")
	case errors.Is(err, metrics.ErrDivisionByZero):
		writeError(w, http.StatusUnprocessableEntity, "insufficient data for the selected window")
	case errors.Is(err, metrics.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, metrics.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, metrics.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
