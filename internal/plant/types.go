package plant

import (
	"encoding/json"
	"errors"
	"time"
)

// Machine is owned by the upstream system; status values are source-defined.
type Machine struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Code          string     `json:"code,omitempty"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// Order is a production order.
type Order struct {
	ID          string    `json:"id"`
	OrderNumber string    `json:"order_number"`
	Product     string    `json:"product"`
	Quantity    int       `json:"quantity"`
	Priority    int       `json:"priority"` // 1 (low) to 5 (high)
	Status      string    `json:"status"`   // pending, in_progress, completed, cancelled
	CreatedAt   time.Time `json:"created_at"`
}

// Event is an ingested machine event. Payload shape depends on Type:
// "production" carries producedPayload, "downtime" carries downtimePayload.
type Event struct {
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Source  string          `json:"source"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	EventTypeProduction = "production"
	EventTypeDowntime   = "downtime"
)

// ProductionPayload is the payload of a production event.
type ProductionPayload struct {
	Produced         int     `json:"produced"`
	Good             int     `json:"good"`
	IdealCycleTimeMS float64 `json:"ideal_cycle_time_ms,omitempty"`
}

// DowntimePayload is the payload of a downtime event.
type DowntimePayload struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

// ProductionSample aggregates production per machine over a window.
// Good never exceeds Produced in well-formed data.
type ProductionSample struct {
	Machine  string    `json:"machine"`
	Produced int       `json:"produced"`
	Good     int       `json:"good"`
	LastTS   time.Time `json:"last_ts"`
}

// TrendPoint is an hourly production bucket, oldest first.
type TrendPoint struct {
	Hour     time.Time `json:"hour"`
	Produced int       `json:"produced"`
	Good     int       `json:"good"`
}

// StatusCount is one bucket of the orders-by-status grouping.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// WindowStats holds the raw figures an OEE computation needs for one
// machine and time window. IdealCycleSeconds is the mean over production
// events that reported a cycle time, zero when none did.
type WindowStats struct {
	PlannedSeconds    float64 `json:"planned_seconds"`
	DowntimeSeconds   float64 `json:"downtime_seconds"`
	Produced          int     `json:"produced"`
	Good              int     `json:"good"`
	IdealCycleSeconds float64 `json:"ideal_cycle_seconds"`
}

// MachineUpdate carries optional machine field changes.
type MachineUpdate struct {
	Name   *string
	Code   *string
	Status *string
}

// OrderUpdate carries optional order field changes.
type OrderUpdate struct {
	OrderNumber *string
	Product     *string
	Quantity    *int
	Priority    *int
	Status      *string
}

var (
	ErrNotFound     = errors.New("plant: not found")
	ErrInvalidInput = errors.New("plant: invalid input")
	ErrInvalidRange = errors.New("plant: end must be after start")
)
