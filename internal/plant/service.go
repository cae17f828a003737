package plant

import (
	"context"
	"time"
)

// Service defines the plant-floor operations the HTTP API serves.
// Implementations: InMemory (in-process) and store/pg (Postgres).
type Service interface {
	CreateMachine(ctx context.Context, m Machine) (Machine, error)
	ListMachines(ctx context.Context) ([]Machine, error)
	GetMachine(ctx context.Context, id string) (Machine, error)
	UpdateMachine(ctx context.Context, id string, upd MachineUpdate) (Machine, error)
	DeleteMachine(ctx context.Context, id string) error

	CreateOrder(ctx context.Context, o Order) (Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, id string, upd OrderUpdate) (Order, error)
	DeleteOrder(ctx context.Context, id string) error

	IngestEvents(ctx context.Context, events []Event) ([]Event, error)

	ProductionByMachine(ctx context.Context, start, end *time.Time) ([]ProductionSample, error)
	ProductionTrend(ctx context.Context, hours int) ([]TrendPoint, error)
	OrdersByStatus(ctx context.Context) ([]StatusCount, error)
	WindowStats(ctx context.Context, machineID string, start, end time.Time) (WindowStats, error)
}
