package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"plantops.org/internal/ids"
	"plantops.org/internal/plant"
)

// Store implements plant.Service on Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ plant.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection pool (tests use sqlmock here).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- machines ---

func (s *Store) CreateMachine(ctx context.Context, m plant.Machine) (plant.Machine, error) {
	if strings.TrimSpace(m.Name) == "" {
		return plant.Machine{}, plant.ErrInvalidInput
	}
	if m.Status == "" {
		m.Status = "idle"
	}
	m.ID = ids.New()
	_, err := s.db.ExecContext(ctx, `
		insert into machines(id, name, code, status, last_heartbeat)
		values ($1,$2,$3,$4,$5)
	`, m.ID, m.Name, m.Code, m.Status, m.LastHeartbeat)
	if err != nil {
		return plant.Machine{}, err
	}
	return m, nil
}

func (s *Store) ListMachines(ctx context.Context) ([]plant.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, code, status, last_heartbeat
		from machines order by name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plant.Machine
	for rows.Next() {
		var m plant.Machine
		var code sql.NullString
		var hb sql.NullTime
		if err := rows.Scan(&m.ID, &m.Name, &code, &m.Status, &hb); err != nil {
			return nil, err
		}
		m.Code = code.String
		if hb.Valid {
			t := hb.Time
			m.LastHeartbeat = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMachine(ctx context.Context, id string) (plant.Machine, error) {
	var m plant.Machine
	var code sql.NullString
	var hb sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, name, code, status, last_heartbeat
		from machines where id=$1
	`, id).Scan(&m.ID, &m.Name, &code, &m.Status, &hb)
	if errors.Is(err, sql.ErrNoRows) {
		return plant.Machine{}, plant.ErrNotFound
	}
	if err != nil {
		return plant.Machine{}, err
	}
	m.Code = code.String
	if hb.Valid {
		t := hb.Time
		m.LastHeartbeat = &t
	}
	return m, nil
}

func (s *Store) UpdateMachine(ctx context.Context, id string, upd plant.MachineUpdate) (plant.Machine, error) {
	m, err := s.GetMachine(ctx, id)
	if err != nil {
		return plant.Machine{}, err
	}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return plant.Machine{}, plant.ErrInvalidInput
		}
		m.Name = *upd.Name
	}
	if upd.Code != nil {
		m.Code = *upd.Code
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	_, err = s.db.ExecContext(ctx, `
		update machines set name=$2, code=$3, status=$4 where id=$1
	`, id, m.Name, m.Code, m.Status)
	if err != nil {
		return plant.Machine{}, err
	}
	return m, nil
}

func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from machines where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return plant.ErrNotFound
	}
	return nil
}

// --- orders ---

func (s *Store) CreateOrder(ctx context.Context, o plant.Order) (plant.Order, error) {
	if strings.TrimSpace(o.OrderNumber) == "" || strings.TrimSpace(o.Product) == "" || o.Quantity <= 0 {
		return plant.Order{}, plant.ErrInvalidInput
	}
	if o.Priority == 0 {
		o.Priority = 1
	}
	if o.Priority < 1 || o.Priority > 5 {
		return plant.Order{}, plant.ErrInvalidInput
	}
	if o.Status == "" {
		o.Status = "pending"
	}
	o.ID = ids.New()
	o.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		insert into orders(id, order_number, product, quantity, priority, status, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, o.ID, o.OrderNumber, o.Product, o.Quantity, o.Priority, o.Status, o.CreatedAt)
	if err != nil {
		return plant.Order{}, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]plant.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, order_number, product, quantity, priority, status, created_at
		from orders order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plant.Order
	for rows.Next() {
		var o plant.Order
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.Product, &o.Quantity, &o.Priority, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id string) (plant.Order, error) {
	var o plant.Order
	err := s.db.QueryRowContext(ctx, `
		select id, order_number, product, quantity, priority, status, created_at
		from orders where id=$1
	`, id).Scan(&o.ID, &o.OrderNumber, &o.Product, &o.Quantity, &o.Priority, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return plant.Order{}, plant.ErrNotFound
	}
	if err != nil {
		return plant.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, upd plant.OrderUpdate) (plant.Order, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return plant.Order{}, err
	}
	if upd.OrderNumber != nil {
		if strings.TrimSpace(*upd.OrderNumber) == "" {
			return plant.Order{}, plant.ErrInvalidInput
		}
		o.OrderNumber = *upd.OrderNumber
	}
	if upd.Product != nil {
		if strings.TrimSpace(*upd.Product) == "" {
			return plant.Order{}, plant.ErrInvalidInput
		}
		o.Product = *upd.Product
	}
	if upd.Quantity != nil {
		if *upd.Quantity <= 0 {
			return plant.Order{}, plant.ErrInvalidInput
		}
		o.Quantity = *upd.Quantity
	}
	if upd.Priority != nil {
		if *upd.Priority < 1 || *upd.Priority > 5 {
			return plant.Order{}, plant.ErrInvalidInput
		}
		o.Priority = *upd.Priority
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	_, err = s.db.ExecContext(ctx, `
		update orders set order_number=$2, product=$3, quantity=$4, priority=$5, status=$6 where id=$1
	`, id, o.OrderNumber, o.Product, o.Quantity, o.Priority, o.Status)
	if err != nil {
		return plant.Order{}, err
	}
	return o, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from orders where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return plant.ErrNotFound
	}
	return nil
}

// --- events ---

func (s *Store) IngestEvents(ctx context.Context, events []plant.Event) ([]plant.Event, error) {
	if len(events) == 0 {
		return nil, plant.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]plant.Event, 0, len(events))
	for _, ev := range events {
		if strings.TrimSpace(ev.Source) == "" || strings.TrimSpace(ev.Type) == "" {
			return nil, plant.ErrInvalidInput
		}
		ev.ID = ids.New()
		if ev.TS.IsZero() {
			ev.TS = s.now()
		}
		ev.TS = ev.TS.UTC()
		payload := ev.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into events(id, ts, source, type, payload)
			values ($1,$2,$3,$4,$5)
		`, ev.ID, ev.TS, ev.Source, ev.Type, []byte(payload)); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// --- aggregations ---

func (s *Store) ProductionByMachine(ctx context.Context, start, end *time.Time) ([]plant.ProductionSample, error) {
	q := `
		select source,
		       coalesce(sum((payload->>'produced')::int), 0),
		       coalesce(sum((payload->>'good')::int), 0),
		       max(ts)
		from events
		where type = 'production'
	`
	args := []any{}
	if start != nil {
		args = append(args, start.UTC())
		q += ` and ts >= $1`
	}
	if end != nil {
		args = append(args, end.UTC())
		if len(args) == 2 {
			q += ` and ts <= $2`
		} else {
			q += ` and ts <= $1`
		}
	}
	q += ` group by source order by source`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plant.ProductionSample
	for rows.Next() {
		var sm plant.ProductionSample
		if err := rows.Scan(&sm.Machine, &sm.Produced, &sm.Good, &sm.LastTS); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) ProductionTrend(ctx context.Context, hours int) ([]plant.TrendPoint, error) {
	if hours <= 0 {
		hours = 12
	}
	nowHour := s.now().Truncate(time.Hour)
	since := nowHour.Add(-time.Duration(hours-1) * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		select date_trunc('hour', ts),
		       coalesce(sum((payload->>'produced')::int), 0),
		       coalesce(sum((payload->>'good')::int), 0)
		from events
		where type = 'production' and ts >= $1
		group by 1 order by 1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byHour := map[time.Time]plant.TrendPoint{}
	for rows.Next() {
		var p plant.TrendPoint
		if err := rows.Scan(&p.Hour, &p.Produced, &p.Good); err != nil {
			return nil, err
		}
		byHour[p.Hour.UTC()] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Zero-fill the window, oldest bucket first.
	out := make([]plant.TrendPoint, 0, hours)
	for i := 0; i < hours; i++ {
		h := since.Add(time.Duration(i) * time.Hour)
		p, ok := byHour[h]
		if !ok {
			p = plant.TrendPoint{Hour: h}
		}
		p.Hour = h
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) OrdersByStatus(ctx context.Context) ([]plant.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		select status, count(*)
		from orders
		group by status order by min(created_at)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plant.StatusCount
	for rows.Next() {
		var sc plant.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) WindowStats(ctx context.Context, machineID string, start, end time.Time) (plant.WindowStats, error) {
	if strings.TrimSpace(machineID) == "" {
		return plant.WindowStats{}, plant.ErrInvalidInput
	}
	if !end.After(start) {
		return plant.WindowStats{}, plant.ErrInvalidRange
	}
	start, end = start.UTC(), end.UTC()

	var stats plant.WindowStats
	stats.PlannedSeconds = end.Sub(start).Seconds()

	err := s.db.QueryRowContext(ctx, `
		select
		  coalesce(sum((payload->>'duration_seconds')::float) filter (where type = 'downtime'), 0),
		  coalesce(sum((payload->>'produced')::int) filter (where type = 'production'), 0),
		  coalesce(sum((payload->>'good')::int) filter (where type = 'production'), 0),
		  coalesce(avg((payload->>'ideal_cycle_time_ms')::float) filter (
		    where type = 'production' and payload ? 'ideal_cycle_time_ms'
		  ), 0)
		from events
		where source = $1 and ts >= $2 and ts <= $3
	`, machineID, start, end).Scan(&stats.DowntimeSeconds, &stats.Produced, &stats.Good, &stats.IdealCycleSeconds)
	if err != nil {
		return plant.WindowStats{}, err
	}
	// Cycle times arrive in milliseconds.
	stats.IdealCycleSeconds = stats.IdealCycleSeconds / 1000.0
	return stats, nil
}
