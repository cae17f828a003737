package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"plantops.org/internal/metrics"
)

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	summary, err := a.agg.DashboardSummary(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleProductionBar returns the per-machine bar chart data. A window
// with no samples answers no_data=true instead of an all-zero chart.
func (a *API) handleProductionBar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	bar, err := a.agg.ProductionBar(r.Context())
	if errors.Is(err, metrics.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]any{"no_data": true})
		return
	}
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"no_data": false, "bar": bar})
}

func (a *API) handleOEE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	machineID := r.URL.Query().Get("machine_id")
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := a.agg.OEE(r.Context(), machineID, start, end)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleOEEWindow returns the raw window figures so remote consumers can
// run the OEE computation themselves.
func (a *API) handleOEEWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := a.plantSvc.WindowStats(r.Context(), machineID, start, end)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleProductionTrend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	hours := 12
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	points, err := a.agg.ProductionTrend(r.Context(), hours)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *API) handleOrdersStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	counts, err := a.agg.OrdersByStatusReport(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) handleProductionMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	var start, end *time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		start = &t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
		end = &t
	}
	samples, err := a.plantSvc.ProductionByMachine(r.Context(), start, end)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (a *API) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	hist, err := a.agg.MachineStatuses(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, &paramError{name: name, reason: "is required"}
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, &paramError{name: name, reason: "must be RFC3339 or YYYY-MM-DD"}
	}
	return t, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

type paramError struct {
	name   string
	reason string
}

func (e *paramError) Error() string {
	return e.name + " " + e.reason
}
