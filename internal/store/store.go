// Package store defines the CRUD capability both the embedded and the remote
// stores expose, with SQL and in-memory implementations.
package store

import (
	"context"

	"github.com/jmehdipour/nyx-sync/internal/model"
)

// Store is the adapter contract the sync engine consumes. Every method may
// fail with a transport error.
type Store interface {
	// Put upserts doc under id.
	Put(ctx context.Context, table, id string, doc model.Record) error
	// Get returns syncerr.ErrNotFound when id is absent.
	Get(ctx context.Context, table, id string) (model.Record, error)
	List(ctx context.Context, table string) ([]model.Record, error)
	// Delete is idempotent: a missing id is not an error.
	Delete(ctx context.Context, table, id string) error
	// EnsureTable creates the table and its indexes when missing.
	EnsureTable(ctx context.Context, def model.SchemaDefinition) error
	ListTableNames(ctx context.Context) ([]string, error)
}

// SchemaLookup resolves a table's definition; *schema.Registry satisfies it.
type SchemaLookup interface {
	Get(table string) (model.SchemaDefinition, bool)
}
