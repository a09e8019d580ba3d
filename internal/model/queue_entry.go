package model

import (
	"encoding/json"
	"time"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) String() string { return string(o) }

func (o Operation) Valid() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSynced  QueueStatus = "synced"
	QueueError   QueueStatus = "error"
)

func (s QueueStatus) String() string { return string(s) }

func (s QueueStatus) Valid() bool {
	return s == QueuePending || s == QueueSynced || s == QueueError
}

// Active reports whether an entry in this status still owes a replay.
func (s QueueStatus) Active() bool {
	return s == QueuePending || s == QueueError
}

// SyncQueueEntry is one durable outbox row.
type SyncQueueEntry struct {
	ID            int64           `json:"id"`
	TableName     string          `json:"table"`
	Operation     Operation       `json:"operation"`
	RecordID      string          `json:"record_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Status        QueueStatus     `json:"status"`
	Retries       int             `json:"retries"`
	LastError     *string         `json:"last_error,omitempty"`
	Version       int64           `json:"version"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
}

// QueueFilter narrows List queries; zero values mean "any".
type QueueFilter struct {
	Status    QueueStatus
	TableName string
	Limit     int
	Offset    int
}
