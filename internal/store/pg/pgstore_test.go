package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"plantops.org/internal/plant"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestCreateMachine(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into machines").
		WithArgs(sqlmock.AnyArg(), "CNC-1", "cnc1", "idle", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := s.CreateMachine(context.Background(), plant.Machine{Name: "CNC-1", Code: "cnc1"})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if m.ID == "" || m.Status != "idle" {
		t.Fatalf("machine = %+v", m)
	}

	if _, err := s.CreateMachine(context.Background(), plant.Machine{Name: " "}); !errors.Is(err, plant.ErrInvalidInput) {
		t.Fatalf("blank name err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetMachineNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, name, code, status, last_heartbeat").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "status", "last_heartbeat"}))

	if _, err := s.GetMachine(context.Background(), "missing"); !errors.Is(err, plant.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("delete from orders").
		WithArgs("o-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteOrder(context.Background(), "o-missing"); !errors.Is(err, plant.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into orders").
		WithArgs(sqlmock.AnyArg(), "PO-1", "widget", 10, 1, "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	o, err := s.CreateOrder(context.Background(), plant.Order{
		OrderNumber: "PO-1", Product: "widget", Quantity: 10,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Priority != 1 || o.Status != "pending" {
		t.Fatalf("order defaults = %+v", o)
	}

	if _, err := s.CreateOrder(context.Background(), plant.Order{OrderNumber: "PO-2", Product: "w", Quantity: 0}); !errors.Is(err, plant.ErrInvalidInput) {
		t.Fatalf("zero quantity err = %v", err)
	}
	if _, err := s.CreateOrder(context.Background(), plant.Order{OrderNumber: "PO-2", Product: "w", Quantity: 1, Priority: 7}); !errors.Is(err, plant.ErrInvalidInput) {
		t.Fatalf("priority 7 err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIngestEventsTransactional(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec("insert into events").
		WithArgs(sqlmock.AnyArg(), now, "m1", "production", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := s.IngestEvents(context.Background(), []plant.Event{
		{Source: "m1", Type: "production"},
	})
	if err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}
	if len(stored) != 1 || stored[0].ID == "" || !stored[0].TS.Equal(now) {
		t.Fatalf("stored = %+v", stored)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIngestEventsRollsBackOnInvalidEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.IngestEvents(context.Background(), []plant.Event{
		{Source: "", Type: "production"},
	})
	if !errors.Is(err, plant.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWindowStats(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("from events").
		WithArgs("m1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"downtime", "produced", "good", "cycle_ms"}).
			AddRow(600.0, 150, 140, 3000.0))

	stats, err := s.WindowStats(context.Background(), "m1", start, end)
	if err != nil {
		t.Fatalf("WindowStats: %v", err)
	}
	if stats.PlannedSeconds != 3600 || stats.DowntimeSeconds != 600 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.IdealCycleSeconds != 3 {
		t.Fatalf("ideal cycle = %v, want 3 (ms converted)", stats.IdealCycleSeconds)
	}

	if _, err := s.WindowStats(context.Background(), "m1", end, start); !errors.Is(err, plant.ErrInvalidRange) {
		t.Fatalf("inverted window err = %v", err)
	}
	if _, err := s.WindowStats(context.Background(), "", start, end); !errors.Is(err, plant.ErrInvalidInput) {
		t.Fatalf("blank machine err = %v", err)
	}
}

func TestProductionTrendZeroFills(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	hourAgo := now.Truncate(time.Hour).Add(-time.Hour)
	mock.ExpectQuery("date_trunc").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"hour", "produced", "good"}).
			AddRow(hourAgo, 25, 24))

	points, err := s.ProductionTrend(context.Background(), 4)
	if err != nil {
		t.Fatalf("ProductionTrend: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("points = %d, want 4", len(points))
	}
	var total int
	for i, p := range points {
		total += p.Produced
		if i > 0 && !p.Hour.After(points[i-1].Hour) {
			t.Fatalf("buckets not ascending at %d", i)
		}
	}
	if total != 25 {
		t.Fatalf("total = %d, want 25", total)
	}
}

func TestOrdersByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select status, count").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("in_progress", 1))

	counts, err := s.OrdersByStatus(context.Background())
	if err != nil {
		t.Fatalf("OrdersByStatus: %v", err)
	}
	if len(counts) != 2 || counts[0].Status != "pending" || counts[0].Count != 3 {
		t.Fatalf("counts = %+v", counts)
	}
}
