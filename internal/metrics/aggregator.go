package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"plantops.org/internal/auth"
	"plantops.org/internal/obs"
	"plantops.org/internal/plant"
)

// Source is the subset of upstream operations the aggregator consumes.
// plant.InMemory, the Postgres store and the upstream HTTP client satisfy it.
type Source interface {
	ListOrders(ctx context.Context) ([]plant.Order, error)
	ListMachines(ctx context.Context) ([]plant.Machine, error)
	ProductionByMachine(ctx context.Context, start, end *time.Time) ([]plant.ProductionSample, error)
	ProductionTrend(ctx context.Context, hours int) ([]plant.TrendPoint, error)
	OrdersByStatus(ctx context.Context) ([]plant.StatusCount, error)
	WindowStats(ctx context.Context, machineID string, start, end time.Time) (plant.WindowStats, error)
}

// SessionState is what the aggregator needs from the session guard.
type SessionState interface {
	Identity() (auth.Identity, bool)
}

// Aggregator fetches and derives dashboard statistics from upstream sources.
// All operations require an authenticated caller; reads are not role-gated.
type Aggregator struct {
	src   Source
	guard SessionState

	cacheMu  sync.RWMutex
	oeeCache map[oeeKey]OEEReport
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithSessionGuard makes the aggregator consult an explicit session guard
// instead of the request context for the caller's identity.
func WithSessionGuard(guard SessionState) Option {
	return func(a *Aggregator) { a.guard = guard }
}

// WithOEECache enables the exact-window OEE report cache.
func WithOEECache() Option {
	return func(a *Aggregator) { a.oeeCache = make(map[oeeKey]OEEReport) }
}

// NewAggregator constructs an Aggregator over the given source.
func NewAggregator(src Source, opts ...Option) *Aggregator {
	a := &Aggregator{src: src}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// caller resolves the requesting identity from the guard when one is
// configured, otherwise from the context (server-side use, where the HTTP
// layer authenticated the request).
func (a *Aggregator) caller(ctx context.Context) (auth.Identity, error) {
	if a.guard != nil {
		identity, ok := a.guard.Identity()
		if !ok {
			return auth.Identity{}, ErrNotAuthenticated
		}
		return identity, nil
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.Identity{}, ErrNotAuthenticated
	}
	return identity, nil
}

// DashboardSummary fans out to the order, machine and production sources
// concurrently. A failing branch is logged and contributes its zero value;
// a degraded summary is preferred over a hard failure.
func (a *Aggregator) DashboardSummary(ctx context.Context) (Summary, error) {
	if _, err := a.caller(ctx); err != nil {
		return Summary{}, err
	}

	var (
		wg       sync.WaitGroup
		orders   []plant.Order
		machines []plant.Machine
		samples  []plant.ProductionSample

		ordersErr, machinesErr, samplesErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		orders, ordersErr = a.src.ListOrders(ctx)
	}()
	go func() {
		defer wg.Done()
		machines, machinesErr = a.src.ListMachines(ctx)
	}()
	go func() {
		defer wg.Done()
		samples, samplesErr = a.src.ProductionByMachine(ctx, nil, nil)
	}()
	wg.Wait()

	for branch, err := range map[string]error{
		"orders":     ordersErr,
		"machines":   machinesErr,
		"production": samplesErr,
	} {
		if err != nil {
			logBranchFailure(branch, err)
		}
	}

	summary := Summary{MachineCount: len(machines)}
	if len(orders) > 0 {
		var prioritySum, quantitySum int
		for _, o := range orders {
			if !isClosedStatus(o.Status) {
				summary.ActiveOrderCount++
			}
			prioritySum += o.Priority
			quantitySum += o.Quantity
		}
		summary.AvgPriority = round2(float64(prioritySum) / float64(len(orders)))
		summary.TotalQuantity = quantitySum
	}
	for _, sample := range samples {
		summary.TotalProduced += sample.Produced
	}
	return summary, nil
}

// MachineStatusHistogram counts machines per literal status string.
// Pure; a nil collection yields an empty histogram.
func MachineStatusHistogram(machines []plant.Machine) map[string]int {
	out := make(map[string]int, len(machines))
	for _, m := range machines {
		out[m.Status]++
	}
	return out
}

// ProductionBarFromSamples builds the per-machine bar breakdown. An empty
// collection yields ErrNoData so callers can distinguish "no data
// available" from "zero production".
func ProductionBarFromSamples(samples []plant.ProductionSample) (ProductionBar, error) {
	if len(samples) == 0 {
		return ProductionBar{}, ErrNoData
	}
	bar := ProductionBar{
		Labels: make([]string, 0, len(samples)),
		Values: make([]int, 0, len(samples)),
		Good:   make([]int, 0, len(samples)),
		Bad:    make([]int, 0, len(samples)),
	}
	for _, s := range samples {
		bar.Labels = append(bar.Labels, s.Machine)
		bar.Values = append(bar.Values, s.Produced)
		bar.Good = append(bar.Good, s.Good)
		bar.Bad = append(bar.Bad, s.Produced-s.Good)
	}
	return bar, nil
}

// OrdersByStatus groups a given order collection by its literal status
// string in first-seen order. Unknown statuses keep their own bucket.
func OrdersByStatus(orders []plant.Order) []plant.StatusCount {
	counts := make(map[string]int, len(orders))
	var order []string
	for _, o := range orders {
		if _, seen := counts[o.Status]; !seen {
			order = append(order, o.Status)
		}
		counts[o.Status]++
	}
	out := make([]plant.StatusCount, 0, len(order))
	for _, status := range order {
		out = append(out, plant.StatusCount{Status: status, Count: counts[status]})
	}
	return out
}

// ProductionBar fetches the current per-machine production breakdown.
func (a *Aggregator) ProductionBar(ctx context.Context) (ProductionBar, error) {
	if _, err := a.caller(ctx); err != nil {
		return ProductionBar{}, err
	}
	samples, err := a.src.ProductionByMachine(ctx, nil, nil)
	if err != nil {
		return ProductionBar{}, upstreamError(err)
	}
	return ProductionBarFromSamples(samples)
}

// ProductionTrend fetches the hourly production series for the trailing
// window. A trend fetch failure is surfaced, never papered over with
// synthetic data; demo fallbacks are a presentation concern.
func (a *Aggregator) ProductionTrend(ctx context.Context, hours int) ([]plant.TrendPoint, error) {
	if _, err := a.caller(ctx); err != nil {
		return nil, err
	}
	points, err := a.src.ProductionTrend(ctx, hours)
	if err != nil {
		return nil, upstreamError(err)
	}
	return points, nil
}

// OrdersByStatusReport fetches the upstream grouped counts.
func (a *Aggregator) OrdersByStatusReport(ctx context.Context) ([]plant.StatusCount, error) {
	if _, err := a.caller(ctx); err != nil {
		return nil, err
	}
	counts, err := a.src.OrdersByStatus(ctx)
	if err != nil {
		return nil, upstreamError(err)
	}
	return counts, nil
}

// MachineStatuses fetches machines and folds them into a status histogram.
func (a *Aggregator) MachineStatuses(ctx context.Context) (map[string]int, error) {
	if _, err := a.caller(ctx); err != nil {
		return nil, err
	}
	machines, err := a.src.ListMachines(ctx)
	if err != nil {
		return nil, upstreamError(err)
	}
	return MachineStatusHistogram(machines), nil
}

// OEE computes the effectiveness report for one machine over [start, end].
// All-or-nothing: any upstream or arithmetic failure aborts the whole
// computation, since a partial OEE number is misleading.
func (a *Aggregator) OEE(ctx context.Context, machineID string, start, end time.Time) (OEEReport, error) {
	if _, err := a.caller(ctx); err != nil {
		return OEEReport{}, err
	}
	if strings.TrimSpace(machineID) == "" {
		return OEEReport{}, ErrInvalidInput
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return OEEReport{}, ErrInvalidRange
	}

	if report, ok := a.cachedOEE(machineID, start, end); ok {
		return report, nil
	}

	stats, err := a.src.WindowStats(ctx, machineID, start, end)
	if err != nil {
		obs.CountOEEReport("error")
		if errors.Is(err, plant.ErrInvalidRange) {
			return OEEReport{}, ErrInvalidRange
		}
		return OEEReport{}, upstreamError(err)
	}

	report, err := computeOEE(machineID, start, end, stats)
	if err != nil {
		obs.CountOEEReport("error")
		return OEEReport{}, err
	}
	obs.CountOEEReport("ok")
	a.storeOEE(report)
	return report, nil
}

// computeOEE applies the OEE formulas to raw window figures. Denominators
// of zero fail with ErrDivisionByZero instead of producing NaN or Inf.
func computeOEE(machineID string, start, end time.Time, stats plant.WindowStats) (OEEReport, error) {
	planned := stats.PlannedSeconds
	run := planned - stats.DowntimeSeconds
	if run < 0 {
		run = 0
	}
	if planned <= 0 || run <= 0 || stats.Produced <= 0 {
		return OEEReport{}, ErrDivisionByZero
	}

	availability := run / planned
	// Windows whose production events never reported a cycle time rate as
	// nominal throughput rather than failing the whole report.
	performance := 1.0
	if stats.IdealCycleSeconds > 0 {
		performance = float64(stats.Produced) * stats.IdealCycleSeconds / run
	}
	quality := float64(stats.Good) / float64(stats.Produced)
	oee := availability * performance * quality

	for _, v := range []float64{availability, performance, quality, oee} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return OEEReport{}, ErrDivisionByZero
		}
	}

	return OEEReport{
		MachineID:       machineID,
		Start:           start,
		End:             end,
		PlannedSeconds:  planned,
		DowntimeSeconds: stats.DowntimeSeconds,
		RunSeconds:      run,
		Availability:    availability,
		Performance:     performance,
		Quality:         quality,
		OEE:             oee,
	}, nil
}

type oeeKey struct {
	machineID  string
	start, end int64
}

// cachedOEE returns a prior report only on an exact window match; a cache
// must never answer a different window with a stale report.
func (a *Aggregator) cachedOEE(machineID string, start, end time.Time) (OEEReport, bool) {
	if a.oeeCache == nil {
		return OEEReport{}, false
	}
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	report, ok := a.oeeCache[oeeKey{machineID, start.UnixNano(), end.UnixNano()}]
	return report, ok
}

func (a *Aggregator) storeOEE(report OEEReport) {
	if a.oeeCache == nil {
		return
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.oeeCache[oeeKey{report.MachineID, report.Start.UnixNano(), report.End.UnixNano()}] = report
}

// isClosedStatus reports whether the order no longer counts as active.
func isClosedStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "cancelled":
		return true
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// upstreamError folds a source failure into the taxonomy, keeping
// sentinels that already belong to it.
func upstreamError(err error) error {
	switch {
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrNotAuthorized):
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func logBranchFailure(branch string, err error) {
	obs.LogEvent(map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"level":  "warn",
		"msg":    "dashboard branch degraded",
		"branch": branch,
		"error":  err.Error(),
	})
}
