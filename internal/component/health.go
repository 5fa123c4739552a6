package component

import "time"

// Status is the coarse health verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
)

func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and o.
func (s Status) Worse(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// Health is what a connector reports about itself.
type Health struct {
	Status  Status         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Report is a runtime's health combined with its lifecycle state.
type Report struct {
	ID      string         `json:"id"`
	Status  Status         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	State   State          `json:"state"`
	Uptime  time.Duration  `json:"uptime"`
}
