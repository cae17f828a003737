package plant

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestMachineCRUD(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.CreateMachine(ctx, Machine{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name err = %v, want ErrInvalidInput", err)
	}

	m, err := s.CreateMachine(ctx, Machine{Name: "CNC-1", Code: "cnc1"})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if m.ID == "" {
		t.Fatal("machine id not assigned")
	}
	if m.Status != "idle" {
		t.Fatalf("default status = %q, want idle", m.Status)
	}

	status := "running"
	updated, err := s.UpdateMachine(ctx, m.ID, MachineUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateMachine: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("status = %q after update", updated.Status)
	}

	if _, err := s.GetMachine(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing machine err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteMachine(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMachine: %v", err)
	}
	if err := s.DeleteMachine(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestOrderDefaultsAndValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	o, err := s.CreateOrder(ctx, Order{OrderNumber: "PO-1", Product: "widget", Quantity: 10})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Priority != 1 {
		t.Fatalf("default priority = %d, want 1", o.Priority)
	}
	if o.Status != "pending" {
		t.Fatalf("default status = %q, want pending", o.Status)
	}

	if _, err := s.CreateOrder(ctx, Order{OrderNumber: "PO-2", Product: "widget", Priority: 9}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("priority 9 err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.CreateOrder(ctx, Order{Product: "widget"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing order number err = %v, want ErrInvalidInput", err)
	}

	bad := 0
	if _, err := s.UpdateOrder(ctx, o.ID, OrderUpdate{Priority: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("priority 0 update err = %v, want ErrInvalidInput", err)
	}
}

func TestListOrdersSortedByCreation(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	for _, num := range []string{"PO-3", "PO-1", "PO-2"} {
		if _, err := s.CreateOrder(ctx, Order{OrderNumber: num, Product: "p", Quantity: 1}); err != nil {
			t.Fatalf("CreateOrder %s: %v", num, err)
		}
	}
	orders, err := s.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	got := []string{orders[0].OrderNumber, orders[1].OrderNumber, orders[2].OrderNumber}
	want := []string{"PO-3", "PO-1", "PO-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %d = %s, want %s (creation order)", i, got[i], want[i])
		}
	}
}

func TestIngestEvents(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(fixedClock(now)))
	ctx := context.Background()

	if _, err := s.IngestEvents(ctx, []Event{{Type: EventTypeProduction}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing source err = %v, want ErrInvalidInput", err)
	}

	stored, err := s.IngestEvents(ctx, []Event{
		{Source: "m1", Type: EventTypeProduction},
		{Source: "m1", Type: EventTypeDowntime, TS: now.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}
	if stored[0].TS != now {
		t.Fatalf("missing TS defaulted to %v, want ingestion time", stored[0].TS)
	}
	if stored[1].TS != now.Add(-time.Hour) {
		t.Fatalf("explicit TS rewritten to %v", stored[1].TS)
	}
	if stored[0].ID == "" || stored[1].ID == "" {
		t.Fatal("event ids not assigned")
	}
}

func TestProductionByMachine(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(fixedClock(now)))
	ctx := context.Background()

	_, err := s.IngestEvents(ctx, []Event{
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-2 * time.Hour),
			Payload: mustJSON(t, ProductionPayload{Produced: 50, Good: 48})},
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-time.Hour),
			Payload: mustJSON(t, ProductionPayload{Produced: 30, Good: 30})},
		{Source: "m2", Type: EventTypeProduction, TS: now.Add(-time.Hour),
			Payload: mustJSON(t, ProductionPayload{Produced: 10, Good: 9})},
		{Source: "m1", Type: EventTypeDowntime, TS: now.Add(-time.Hour),
			Payload: mustJSON(t, DowntimePayload{DurationSeconds: 120})},
	})
	if err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}

	samples, err := s.ProductionByMachine(ctx, nil, nil)
	if err != nil {
		t.Fatalf("ProductionByMachine: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	if samples[0].Machine != "m1" || samples[0].Produced != 80 || samples[0].Good != 78 {
		t.Fatalf("m1 sample = %+v", samples[0])
	}
	if !samples[0].LastTS.Equal(now.Add(-time.Hour)) {
		t.Fatalf("m1 LastTS = %v", samples[0].LastTS)
	}

	// Window that only covers the older event.
	start := now.Add(-3 * time.Hour)
	end := now.Add(-90 * time.Minute)
	samples, err = s.ProductionByMachine(ctx, &start, &end)
	if err != nil {
		t.Fatalf("windowed ProductionByMachine: %v", err)
	}
	if len(samples) != 1 || samples[0].Produced != 50 {
		t.Fatalf("windowed samples = %+v", samples)
	}
}

func TestProductionTrendZeroFilled(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	s := NewInMemory(WithClock(fixedClock(now)))
	ctx := context.Background()

	_, err := s.IngestEvents(ctx, []Event{
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-30 * time.Minute),
			Payload: mustJSON(t, ProductionPayload{Produced: 20, Good: 20})},
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-3 * time.Hour),
			Payload: mustJSON(t, ProductionPayload{Produced: 5, Good: 4})},
	})
	if err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}

	points, err := s.ProductionTrend(ctx, 6)
	if err != nil {
		t.Fatalf("ProductionTrend: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("points = %d, want 6", len(points))
	}
	// Oldest bucket first.
	for i := 1; i < len(points); i++ {
		if !points[i].Hour.After(points[i-1].Hour) {
			t.Fatalf("buckets not ascending: %v then %v", points[i-1].Hour, points[i].Hour)
		}
	}
	var produced int
	var nonZero int
	for _, p := range points {
		produced += p.Produced
		if p.Produced > 0 {
			nonZero++
		}
	}
	if produced != 25 {
		t.Fatalf("total produced = %d, want 25", produced)
	}
	if nonZero != 2 {
		t.Fatalf("non-zero buckets = %d, want 2", nonZero)
	}
}

func TestOrdersByStatusFirstSeen(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	for _, status := range []string{"pending", "in_progress", "pending", "odd"} {
		if _, err := s.CreateOrder(ctx, Order{OrderNumber: "PO", Product: "p", Quantity: 1, Status: status}); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}
	counts, err := s.OrdersByStatus(ctx)
	if err != nil {
		t.Fatalf("OrdersByStatus: %v", err)
	}
	want := []StatusCount{
		{Status: "pending", Count: 2},
		{Status: "in_progress", Count: 1},
		{Status: "odd", Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("bucket %d = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestWindowStats(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(fixedClock(now)))
	ctx := context.Background()

	start := now.Add(-time.Hour)
	_, err := s.IngestEvents(ctx, []Event{
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-30 * time.Minute),
			Payload: mustJSON(t, ProductionPayload{Produced: 100, Good: 95, IdealCycleTimeMS: 2000})},
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-20 * time.Minute),
			Payload: mustJSON(t, ProductionPayload{Produced: 50, Good: 45, IdealCycleTimeMS: 4000})},
		{Source: "m1", Type: EventTypeDowntime, TS: now.Add(-15 * time.Minute),
			Payload: mustJSON(t, DowntimePayload{DurationSeconds: 600})},
		{Source: "m2", Type: EventTypeProduction, TS: now.Add(-10 * time.Minute),
			Payload: mustJSON(t, ProductionPayload{Produced: 999, Good: 999})},
		{Source: "m1", Type: EventTypeProduction, TS: now.Add(-2 * time.Hour),
			Payload: mustJSON(t, ProductionPayload{Produced: 999, Good: 999})},
	})
	if err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}

	stats, err := s.WindowStats(ctx, "m1", start, now)
	if err != nil {
		t.Fatalf("WindowStats: %v", err)
	}
	if stats.PlannedSeconds != 3600 {
		t.Fatalf("planned = %v, want 3600", stats.PlannedSeconds)
	}
	if stats.DowntimeSeconds != 600 {
		t.Fatalf("downtime = %v, want 600", stats.DowntimeSeconds)
	}
	if stats.Produced != 150 || stats.Good != 140 {
		t.Fatalf("produced/good = %d/%d, want 150/140", stats.Produced, stats.Good)
	}
	// Mean of 2s and 4s cycle times.
	if stats.IdealCycleSeconds != 3 {
		t.Fatalf("ideal cycle = %v, want 3", stats.IdealCycleSeconds)
	}

	if _, err := s.WindowStats(ctx, "m1", now, start); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("inverted window err = %v, want ErrInvalidRange", err)
	}
	if _, err := s.WindowStats(ctx, "", start, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank machine err = %v, want ErrInvalidInput", err)
	}

	// A machine with no events still yields the planned window.
	stats, err = s.WindowStats(ctx, "m3", start, now)
	if err != nil {
		t.Fatalf("empty machine WindowStats: %v", err)
	}
	if stats.Produced != 0 || stats.IdealCycleSeconds != 0 {
		t.Fatalf("empty machine stats = %+v", stats)
	}
}
