package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/jmoiron/sqlx"
)

// SQLStore implements Store on top of any database/sql driver with a Dialect.
// Both the embedded SQLite store and the remote MySQL/Postgres store use it.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	schemas SchemaLookup

	mu      sync.RWMutex
	ensured map[string]model.SchemaDefinition
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps db. schemas may be nil, in which case only tables passed
// to EnsureTable are known.
func NewSQLStore(db *sqlx.DB, dialect Dialect, schemas SchemaLookup) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		schemas: schemas,
		ensured: make(map[string]model.SchemaDefinition),
	}
}

func (s *SQLStore) DB() *sqlx.DB { return s.db }

func (s *SQLStore) definition(table string) (model.SchemaDefinition, error) {
	s.mu.RLock()
	def, ok := s.ensured[table]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}
	if s.schemas != nil {
		if def, ok := s.schemas.Get(table); ok {
			return def, nil
		}
	}
	return model.SchemaDefinition{}, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
}

func (s *SQLStore) EnsureTable(ctx context.Context, def model.SchemaDefinition) error {
	for _, stmt := range s.dialect.CreateTable(def) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", def.TableName, err)
		}
	}
	s.mu.Lock()
	s.ensured[def.TableName] = def
	s.mu.Unlock()
	return nil
}

func (s *SQLStore) ListTableNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, s.dialect.ListTables()); err != nil {
		return nil, err
	}
	return names, nil
}

// Put upserts the columns present in doc. Fields that are not columns of the
// table are ignored; the primary key always comes from id.
func (s *SQLStore) Put(ctx context.Context, table, id string, doc model.Record) error {
	def, err := s.definition(table)
	if err != nil {
		return err
	}
	pk := def.PK()

	cols := []string{pk}
	args := []any{id}
	for _, c := range def.Columns {
		if c.Name == pk {
			continue
		}
		v, ok := doc[c.Name]
		if !ok {
			continue
		}
		enc, err := encodeValue(s.dialect, c, v)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", table, id, err)
		}
		cols = append(cols, c.Name)
		args = append(args, enc)
	}

	q := s.db.Rebind(s.dialect.Upsert(table, pk, cols))
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *SQLStore) Get(ctx context.Context, table, id string) (model.Record, error) {
	def, err := s.definition(table)
	if err != nil {
		return nil, err
	}

	q := s.db.Rebind("SELECT * FROM " + s.dialect.Quote(table) + " WHERE " + s.dialect.Quote(def.PK()) + " = ?")
	row := s.db.QueryRowxContext(ctx, q, id)

	raw := make(map[string]any)
	if err := row.MapScan(raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", syncerr.ErrNotFound, table, id)
		}
		return nil, err
	}
	return decodeRow(def, raw), nil
}

func (s *SQLStore) List(ctx context.Context, table string) ([]model.Record, error) {
	def, err := s.definition(table)
	if err != nil {
		return nil, err
	}

	q := "SELECT * FROM " + s.dialect.Quote(table) + " ORDER BY " + s.dialect.Quote(def.PK())
	rows, err := s.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Record, 0, 16)
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, err
		}
		out = append(out, decodeRow(def, raw))
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, table, id string) error {
	def, err := s.definition(table)
	if err != nil {
		return err
	}
	q := s.db.Rebind("DELETE FROM " + s.dialect.Quote(table) + " WHERE " + s.dialect.Quote(def.PK()) + " = ?")
	_, err = s.db.ExecContext(ctx, q, id)
	return err
}

func decodeRow(def model.SchemaDefinition, raw map[string]any) model.Record {
	rec := make(model.Record, len(raw))
	for name, v := range raw {
		col, ok := def.Column(name)
		if !ok {
			// column added out of band; keep it verbatim
			if b, isBytes := v.([]byte); isBytes {
				v = string(b)
			}
			rec[name] = v
			continue
		}
		rec[name] = decodeValue(col, v)
	}
	if pk := def.PK(); pk != model.FieldID {
		if _, ok := rec[model.FieldID]; !ok {
			rec[model.FieldID] = rec[pk]
		}
	}
	return rec
}
