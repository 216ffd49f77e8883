package audit

import (
	"database/sql"
	"time"
)

// SweepRecord is one persisted sweep summary.
type SweepRecord struct {
	RecordID    string    `json:"record_id"`
	Generation  uint64    `json:"generation"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     string    `json:"outcome"`
	Found       []string  `json:"found"`
	Added       []string  `json:"added"`
	Removed     []string  `json:"removed"`
	DeviceCount int       `json:"device_count"`
	GroupCount  int       `json:"group_count"`
	Error       *string   `json:"error,omitempty"`
}

// DurationMs is the sweep duration in milliseconds.
func (r SweepRecord) DurationMs() int64 {
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}

// RecordQueryFilters contains optional filters for listing records.
type RecordQueryFilters struct {
	Outcome *string `json:"outcome,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}
