package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresDriver is the database/sql name registered by pgx's stdlib package.
const PostgresDriver = "pgx"

type PostgresOpts = MySQLOpts

// NewPostgresConnection opens a Postgres remote (e.g. a Supabase database).
func NewPostgresConnection(dsn string, opts PostgresOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty Postgres DSN")
	}
	db, err := sqlx.Open(PostgresDriver, dsn)
	if err != nil {
		return nil, err
	}
	applyPool(db, opts)
	if opts.Lazy {
		return db, nil
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
