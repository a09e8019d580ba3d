package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
)

// Dialect translates logical schemas and queries to one SQL flavour.
type Dialect interface {
	// Driver is the database/sql driver name the dialect targets.
	Driver() string
	Quote(ident string) string
	ColumnType(t model.LogicalType) string
	// CreateTable returns idempotent DDL for the table and its indexes.
	CreateTable(def model.SchemaDefinition) []string
	// Upsert returns an insert-or-update statement with '?' placeholders for
	// cols, in order. pk must be one of cols.
	Upsert(table, pk string, cols []string) string
	ListTables() string
	// BindTimestamp converts t to the value the driver stores for a
	// timestamp column.
	BindTimestamp(t time.Time) any
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "mysql":
		return MySQL{}, nil
	case "pgx", "postgres":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}

// ---- SQLite ----

type SQLite struct{}

func (SQLite) Driver() string { return "sqlite" }

func (SQLite) Quote(ident string) string { return `"` + ident + `"` }

func (SQLite) ColumnType(t model.LogicalType) string {
	switch t {
	case model.TypeInteger, model.TypeBoolean:
		return "INTEGER"
	case model.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d SQLite) CreateTable(def model.SchemaDefinition) []string {
	return ansiCreateTable(d, def, func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	})
}

func (d SQLite) Upsert(table, pk string, cols []string) string {
	return ansiUpsert(d, table, pk, cols)
}

func (SQLite) ListTables() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (SQLite) BindTimestamp(t time.Time) any { return model.FormatTimestamp(t) }

// ---- Postgres ----

type Postgres struct{}

func (Postgres) Driver() string { return "pgx" }

func (Postgres) Quote(ident string) string { return `"` + ident + `"` }

func (Postgres) ColumnType(t model.LogicalType) string {
	switch t {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeReal:
		return "DOUBLE PRECISION"
	case model.TypeBoolean:
		return "BOOLEAN"
	case model.TypeTimestamp:
		return "TIMESTAMPTZ"
	case model.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d Postgres) CreateTable(def model.SchemaDefinition) []string {
	return ansiCreateTable(d, def, func(b bool) string {
		if b {
			return "TRUE"
		}
		return "FALSE"
	})
}

func (d Postgres) Upsert(table, pk string, cols []string) string {
	return ansiUpsert(d, table, pk, cols)
}

func (Postgres) ListTables() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
}

func (Postgres) BindTimestamp(t time.Time) any { return t.UTC() }

// ---- MySQL ----

type MySQL struct{}

func (MySQL) Driver() string { return "mysql" }

func (MySQL) Quote(ident string) string { return "`" + ident + "`" }

func (MySQL) ColumnType(t model.LogicalType) string {
	switch t {
	case model.TypeString:
		return "VARCHAR(191)"
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeReal:
		return "DOUBLE"
	case model.TypeBoolean:
		return "TINYINT(1)"
	case model.TypeTimestamp:
		return "DATETIME(6)"
	case model.TypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

// CreateTable inlines indexes because MySQL has no CREATE INDEX IF NOT EXISTS.
func (d MySQL) CreateTable(def model.SchemaDefinition) []string {
	lines := make([]string, 0, len(def.Columns)+len(def.Indexes)+1)
	for _, c := range def.Columns {
		line := "  " + d.Quote(c.Name) + " " + d.ColumnType(c.Type)
		if c.Has(model.ConstraintNotNull) || c.Name == def.PK() {
			line += " NOT NULL"
		}
		// TEXT and JSON columns cannot carry literal defaults.
		if c.Default != nil && c.Type != model.TypeText && c.Type != model.TypeJSON {
			line += " DEFAULT " + literal(c.Default, func(b bool) string {
				if b {
					return "1"
				}
				return "0"
			})
		}
		if c.Has(model.ConstraintUnique) && c.Name != def.PK() {
			line += " UNIQUE"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "  PRIMARY KEY ("+d.Quote(def.PK())+")")
	for _, ix := range def.Indexes {
		kind := "KEY"
		if ix.Unique {
			kind = "UNIQUE KEY"
		}
		lines = append(lines, "  "+kind+" "+d.Quote(ix.Name)+" ("+quoteAll(d, ix.Columns)+")")
	}

	stmt := "CREATE TABLE IF NOT EXISTS " + d.Quote(def.TableName) + " (\n" +
		strings.Join(lines, ",\n") +
		"\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	return []string{stmt}
}

func (d MySQL) Upsert(table, pk string, cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO " + d.Quote(table) + " (" + quoteAll(d, cols) + ") VALUES (" + placeholders(len(cols)) + ")")

	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == pk {
			continue
		}
		sets = append(sets, d.Quote(c)+" = VALUES("+d.Quote(c)+")")
	}
	if len(sets) == 0 {
		sets = append(sets, d.Quote(pk)+" = "+d.Quote(pk))
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	return b.String()
}

func (MySQL) ListTables() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
}

func (MySQL) BindTimestamp(t time.Time) any { return t.UTC() }

// ---- shared ----

func ansiCreateTable(d Dialect, def model.SchemaDefinition, boolLit func(bool) string) []string {
	lines := make([]string, 0, len(def.Columns)+1)
	for _, c := range def.Columns {
		line := "  " + d.Quote(c.Name) + " " + d.ColumnType(c.Type)
		if c.Has(model.ConstraintNotNull) || c.Name == def.PK() {
			line += " NOT NULL"
		}
		if c.Default != nil {
			line += " DEFAULT " + literal(c.Default, boolLit)
		}
		if c.Has(model.ConstraintUnique) && c.Name != def.PK() {
			line += " UNIQUE"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "  PRIMARY KEY ("+d.Quote(def.PK())+")")

	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + d.Quote(def.TableName) + " (\n" + strings.Join(lines, ",\n") + "\n)",
	}
	for _, ix := range def.Indexes {
		kind := "INDEX"
		if ix.Unique {
			kind = "UNIQUE INDEX"
		}
		stmts = append(stmts, "CREATE "+kind+" IF NOT EXISTS "+d.Quote(ix.Name)+
			" ON "+d.Quote(def.TableName)+" ("+quoteAll(d, ix.Columns)+")")
	}
	return stmts
}

func ansiUpsert(d Dialect, table, pk string, cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO " + d.Quote(table) + " (" + quoteAll(d, cols) + ") VALUES (" + placeholders(len(cols)) + ")")

	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == pk {
			continue
		}
		sets = append(sets, d.Quote(c)+" = excluded."+d.Quote(c))
	}
	if len(sets) == 0 {
		b.WriteString(" ON CONFLICT (" + d.Quote(pk) + ") DO NOTHING")
		return b.String()
	}
	b.WriteString(" ON CONFLICT (" + d.Quote(pk) + ") DO UPDATE SET " + strings.Join(sets, ", "))
	return b.String()
}

func quoteAll(d Dialect, idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = d.Quote(id)
	}
	return strings.Join(q, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func literal(v any, boolLit func(bool) string) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		return boolLit(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return "NULL"
	}
}
