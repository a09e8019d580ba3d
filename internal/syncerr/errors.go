// Package syncerr holds the error taxonomy shared by the sync engine.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateSchema     = errors.New("duplicate schema")
	ErrInvalidSchema       = errors.New("invalid schema")
	ErrNotFound            = errors.New("not found")
	ErrTableNotFound       = errors.New("table not found")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrNotRequeueable      = errors.New("entry is not in error state")
	ErrReconcileDegraded   = errors.New("remote unreachable, serving local data")
	ErrChannelDisconnected = errors.New("live channel disconnected")
	ErrBreakerOpen         = errors.New("remote circuit open")
)

// TableEnsureError reports a failed ensureTable call on one store.
type TableEnsureError struct {
	Store string
	Table string
	Err   error
}

func (e *TableEnsureError) Error() string {
	return fmt.Sprintf("ensure table %s on %s: %v", e.Table, e.Store, e.Err)
}

func (e *TableEnsureError) Unwrap() error { return e.Err }

// ReplayError reports a failed replay of one queue entry.
type ReplayError struct {
	EntryID int64
	Table   string
	Record  string
	Attempt int
	Err     error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay entry %d (%s/%s) attempt %d: %v", e.EntryID, e.Table, e.Record, e.Attempt, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }
