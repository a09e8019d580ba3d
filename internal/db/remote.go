package db

import "github.com/jmoiron/sqlx"

// OpenRemote opens the authoritative store for the given driver name
// ("mysql" or "postgres").
func OpenRemote(driver, dsn string, opts MySQLOpts) (*sqlx.DB, string, error) {
	switch driver {
	case "postgres", PostgresDriver:
		db, err := NewPostgresConnection(dsn, opts)
		return db, PostgresDriver, err
	case "", MySQLDriver:
		db, err := NewMySQLConnection(dsn, opts)
		return db, MySQLDriver, err
	default:
		return nil, "", &UnsupportedDriverError{Driver: driver}
	}
}

type UnsupportedDriverError struct{ Driver string }

func (e *UnsupportedDriverError) Error() string { return "unsupported remote driver " + e.Driver }
