package metrics

import "time"

// Summary is the dashboard headline block. It is degraded-but-available:
// a branch that could not be fetched contributes its zero value.
type Summary struct {
	ActiveOrderCount int     `json:"active_order_count"`
	MachineCount     int     `json:"machine_count"`
	TotalProduced    int     `json:"total_produced"`
	AvgPriority      float64 `json:"avg_priority"`
	TotalQuantity    int     `json:"total_quantity"`
}

// ProductionBar is the per-machine produced/good/bad breakdown.
type ProductionBar struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
	Good   []int    `json:"good"`
	Bad    []int    `json:"bad"`
}

// OEEReport is the computed effectiveness report for one machine and window.
type OEEReport struct {
	MachineID       string    `json:"machine_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	PlannedSeconds  float64   `json:"planned_seconds"`
	DowntimeSeconds float64   `json:"downtime_seconds"`
	RunSeconds      float64   `json:"run_seconds"`
	Availability    float64   `json:"availability"`
	Performance     float64   `json:"performance"`
	Quality         float64   `json:"quality"`
	OEE             float64   `json:"oee"`
}
