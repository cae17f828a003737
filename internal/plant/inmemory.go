package plant

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"plantops.org/internal/ids"
)

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	orders   map[string]*Order
	events   []Event
	now      func() time.Time
}

// InMemoryOption configures InMemory.
type InMemoryOption func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty plant service.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		machines: make(map[string]*Machine),
		orders:   make(map[string]*Order),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) CreateMachine(ctx context.Context, m Machine) (Machine, error) {
	if strings.TrimSpace(m.Name) == "" {
		return Machine{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.Status == "" {
		m.Status = "idle"
	}
	stored := m
	s.machines[m.ID] = &stored
	return m, nil
}

func (s *InMemory) ListMachines(ctx context.Context) ([]Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) GetMachine(ctx context.Context, id string) (Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return Machine{}, ErrNotFound
	}
	return *m, nil
}

func (s *InMemory) UpdateMachine(ctx context.Context, id string, upd MachineUpdate) (Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return Machine{}, ErrNotFound
	}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return Machine{}, ErrInvalidInput
		}
		m.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Code != nil {
		m.Code = strings.TrimSpace(*upd.Code)
	}
	if upd.Status != nil {
		m.Status = strings.TrimSpace(*upd.Status)
	}
	return *m, nil
}

func (s *InMemory) DeleteMachine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[id]; !ok {
		return ErrNotFound
	}
	delete(s.machines, id)
	return nil
}

func (s *InMemory) CreateOrder(ctx context.Context, o Order) (Order, error) {
	if strings.TrimSpace(o.OrderNumber) == "" || strings.TrimSpace(o.Product) == "" {
		return Order{}, ErrInvalidInput
	}
	if o.Priority == 0 {
		o.Priority = 1
	}
	if o.Priority < 1 || o.Priority > 5 {
		return Order{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.Status == "" {
		o.Status = "pending"
	}
	o.CreatedAt = s.now().UTC()
	stored := o
	s.orders[o.ID] = &stored
	return o, nil
}

func (s *InMemory) ListOrders(ctx context.Context) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordersSorted(), nil
}

// ordersSorted returns orders by creation time; caller holds the lock.
func (s *InMemory) ordersSorted() []Order {
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) GetOrder(ctx context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return *o, nil
}

func (s *InMemory) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if upd.OrderNumber != nil {
		if strings.TrimSpace(*upd.OrderNumber) == "" {
			return Order{}, ErrInvalidInput
		}
		o.OrderNumber = strings.TrimSpace(*upd.OrderNumber)
	}
	if upd.Product != nil {
		o.Product = strings.TrimSpace(*upd.Product)
	}
	if upd.Quantity != nil {
		if *upd.Quantity < 0 {
			return Order{}, ErrInvalidInput
		}
		o.Quantity = *upd.Quantity
	}
	if upd.Priority != nil {
		if *upd.Priority < 1 || *upd.Priority > 5 {
			return Order{}, ErrInvalidInput
		}
		o.Priority = *upd.Priority
	}
	if upd.Status != nil {
		o.Status = strings.TrimSpace(*upd.Status)
	}
	return *o, nil
}

func (s *InMemory) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

// IngestEvents stores a batch of events. Source and type are required;
// a missing timestamp defaults to ingestion time so historical seeds can
// carry their own.
func (s *InMemory) IngestEvents(ctx context.Context, events []Event) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if strings.TrimSpace(ev.Source) == "" || strings.TrimSpace(ev.Type) == "" {
			return nil, ErrInvalidInput
		}
		if ev.ID == "" {
			ev.ID = ids.New()
		}
		if ev.TS.IsZero() {
			ev.TS = s.now().UTC()
		} else {
			ev.TS = ev.TS.UTC()
		}
		s.events = append(s.events, ev)
		out = append(out, ev)
	}
	return out, nil
}

// ProductionByMachine aggregates production events per machine, optionally
// restricted to a time window.
func (s *InMemory) ProductionByMachine(ctx context.Context, start, end *time.Time) ([]ProductionSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*ProductionSample)
	for _, ev := range s.events {
		if ev.Type != EventTypeProduction {
			continue
		}
		if start != nil && ev.TS.Before(start.UTC()) {
			continue
		}
		if end != nil && ev.TS.After(end.UTC()) {
			continue
		}
		var payload ProductionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		sample, ok := agg[ev.Source]
		if !ok {
			sample = &ProductionSample{Machine: ev.Source}
			agg[ev.Source] = sample
		}
		sample.Produced += payload.Produced
		sample.Good += payload.Good
		if ev.TS.After(sample.LastTS) {
			sample.LastTS = ev.TS
		}
	}

	out := make([]ProductionSample, 0, len(agg))
	for _, sample := range agg {
		out = append(out, *sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Machine < out[j].Machine })
	return out, nil
}

// ProductionTrend buckets production events hourly over the trailing window.
// Every hour of the window is present, zero-filled where nothing happened.
func (s *InMemory) ProductionTrend(ctx context.Context, hours int) ([]TrendPoint, error) {
	if hours <= 0 {
		hours = 12
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	start := now.Add(-time.Duration(hours) * time.Hour)

	buckets := make(map[time.Time]*TrendPoint)
	for _, ev := range s.events {
		if ev.Type != EventTypeProduction {
			continue
		}
		if ev.TS.Before(start) || ev.TS.After(now) {
			continue
		}
		var payload ProductionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		hour := ev.TS.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &TrendPoint{Hour: hour}
			buckets[hour] = b
		}
		b.Produced += payload.Produced
		b.Good += payload.Good
	}

	out := make([]TrendPoint, 0, hours)
	for h := hours - 1; h >= 0; h-- {
		hour := now.Add(-time.Duration(h) * time.Hour).Truncate(time.Hour)
		if b, ok := buckets[hour]; ok {
			out = append(out, *b)
			continue
		}
		out = append(out, TrendPoint{Hour: hour})
	}
	return out, nil
}

// OrdersByStatus groups orders by their literal status string in first-seen
// order; unknown statuses form their own bucket.
func (s *InMemory) OrdersByStatus(ctx context.Context) ([]StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	var order []string
	for _, o := range s.ordersSorted() {
		if _, seen := counts[o.Status]; !seen {
			order = append(order, o.Status)
		}
		counts[o.Status]++
	}
	out := make([]StatusCount, 0, len(order))
	for _, status := range order {
		out = append(out, StatusCount{Status: status, Count: counts[status]})
	}
	return out, nil
}

// WindowStats sums downtime and production figures for one machine over
// [start, end]. Events are matched on Source against the machine id or code.
func (s *InMemory) WindowStats(ctx context.Context, machineID string, start, end time.Time) (WindowStats, error) {
	if strings.TrimSpace(machineID) == "" {
		return WindowStats{}, ErrInvalidInput
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return WindowStats{}, ErrInvalidRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := WindowStats{PlannedSeconds: end.Sub(start).Seconds()}
	var cycleSum float64
	var cycleCount int
	for _, ev := range s.events {
		if ev.Source != machineID {
			continue
		}
		if ev.TS.Before(start) || ev.TS.After(end) {
			continue
		}
		switch ev.Type {
		case EventTypeDowntime:
			var payload DowntimePayload
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				continue
			}
			stats.DowntimeSeconds += payload.DurationSeconds
		case EventTypeProduction:
			var payload ProductionPayload
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				continue
			}
			stats.Produced += payload.Produced
			stats.Good += payload.Good
			if payload.IdealCycleTimeMS > 0 {
				cycleSum += payload.IdealCycleTimeMS / 1000.0
				cycleCount++
			}
		}
	}
	if cycleCount > 0 {
		stats.IdealCycleSeconds = cycleSum / float64(cycleCount)
	}
	return stats, nil
}
