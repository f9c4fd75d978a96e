// Package dialect abstracts the SQL differences between the supported
// backing databases so the store can write one set of queries.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect is the per-database surface the store depends on. Queries are
// written with ? placeholders and passed through Rebind before execution.
type Dialect interface {
	// Name returns the dialect name ("sqlite", "postgres").
	Name() string

	// DriverName returns the database/sql driver name to open.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// SetupStatements returns statements run once after opening a
	// connection (e.g. PRAGMAs for SQLite).
	SetupStatements() []string
}

// FromDriverName returns the dialect for a configured driver name.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "pgx":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }

// Rebind is the identity for SQLite, which uses ? natively.
func (d *sqliteDialect) Rebind(query string) string { return query }

func (d *sqliteDialect) SetupStatements() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
}

type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) DriverName() string { return "pgx" }

// Rebind converts ? placeholders to PostgreSQL's $1, $2, ... format.
func (d *postgresDialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *postgresDialect) SetupStatements() []string { return nil }
