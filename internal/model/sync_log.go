package model

import "time"

type ReplayOutcome string

const (
	OutcomeSynced ReplayOutcome = "synced"
	OutcomeRetry  ReplayOutcome = "retry"
	OutcomeError  ReplayOutcome = "error"
)

func (o ReplayOutcome) String() string { return string(o) }

func (o ReplayOutcome) Valid() bool {
	return o == OutcomeSynced || o == OutcomeRetry || o == OutcomeError
}

// SyncLogRow is one replay attempt as written to the analytics store.
type SyncLogRow struct {
	EntryID    int64     `db:"entry_id"    json:"entry_id"`
	TableName  string    `db:"table_name"  json:"table"`
	RecordID   string    `db:"record_id"   json:"record_id"`
	Operation  string    `db:"operation"   json:"operation"`
	Outcome    string    `db:"outcome"     json:"outcome"`
	Attempt    uint32    `db:"attempt"     json:"attempt"`
	Error      string    `db:"error"       json:"error,omitempty"`
	DurationMs uint32    `db:"duration_ms" json:"duration_ms"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
