// Package engine provides the connection capability abstraction shared by
// every component of the admin toolkit: one Connector implementation per
// supported database engine, plus the configuration and health types that
// describe a configured target.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EngineKind identifies a supported database engine family.
type EngineKind string

const (
	Postgres EngineKind = "postgres"
	MySQL    EngineKind = "mysql"
	SQLite   EngineKind = "sqlite"
	Mongo    EngineKind = "mongodb"
)

// Valid reports whether k names a supported engine.
func (k EngineKind) Valid() bool {
	switch k {
	case Postgres, MySQL, SQLite, Mongo:
		return true
	}
	return false
}

// Relational reports whether the engine speaks SQL.
func (k EngineKind) Relational() bool {
	return k == Postgres || k == MySQL || k == SQLite
}

// ErrTimeout is returned when an operation exceeds the connection's
// configured timeout, including waiting on an exhausted pool.
var ErrTimeout = errors.New("operation timed out")

// ErrUnsupportedEngine is returned when a ConnectionConfig names an engine
// kind no adapter exists for.
var ErrUnsupportedEngine = errors.New("unsupported engine kind")

// ColumnInfo describes one column (or, for document stores, one inferred
// field) of a table.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// Tx is the capability surface available inside a transaction scope.
type Tx interface {
	ExecuteQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	ExecuteCommand(ctx context.Context, command string, args ...any) (int64, error)
}

// Connector is the capability interface implemented by one adapter per
// engine family. Components borrow a Connector for the duration of one
// operation; the connection manager owns its lifecycle.
type Connector interface {
	// ExecuteQuery runs a read statement and returns an ordered sequence
	// of row mappings.
	ExecuteQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// ExecuteCommand runs a write statement inside its own transaction and
	// returns the affected-row count. The transaction is rolled back before
	// the error is returned on any failure.
	ExecuteCommand(ctx context.Context, command string, args ...any) (int64, error)

	// Tables lists the table (or collection) names in the target database.
	Tables(ctx context.Context) ([]string, error)

	// TableSchema introspects one table's columns. Document-store adapters
	// infer field types from a representative document.
	TableSchema(ctx context.Context, table string) ([]ColumnInfo, error)

	// CheckHealth probes the target with a trivial operation and reports a
	// point-in-time status snapshot.
	CheckHealth(ctx context.Context) ConnectionStatus

	// Transaction runs fn inside a transaction scope: commit on normal
	// return, rollback on error or panic. Exactly one of the two executes
	// and the connection is always returned to the pool.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Kind returns the engine family this adapter serves.
	Kind() EngineKind

	// Close releases the underlying pool.
	Close() error
}

// Open constructs the adapter matching cfg's engine kind and establishes
// its pool. The kind switch is exhaustive: a typo in configuration fails
// loudly here instead of producing a silent no-op adapter.
func Open(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	switch cfg.Kind {
	case Postgres:
		return newPostgresConn(ctx, cfg)
	case MySQL:
		return newMySQLConn(ctx, cfg)
	case SQLite:
		return newSQLiteConn(ctx, cfg)
	case Mongo:
		return newMongoConn(ctx, cfg)
	default:
		return nil, fmt.Errorf("opening connection %q: %w: %q", cfg.Name, ErrUnsupportedEngine, cfg.Kind)
	}
}

// BindVars rewrites "?" placeholders into the positional style the engine's
// driver expects ("$1, $2, ..." for postgres). SQL written against the "?"
// convention stays portable across the relational adapters.
func BindVars(kind EngineKind, query string) string {
	if kind != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inString = !inString
		}
		if c == '?' && !inString {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// wrapTimeout maps context deadline errors onto ErrTimeout so callers see
// one taxonomy regardless of driver.
func wrapTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
