package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqlDialect carries the per-engine SQL needed by the shared relational
// core: how to build a DSN, which driver to use, and how to introspect the
// catalog.
type sqlDialect interface {
	kind() EngineKind
	driverName() string
	dsn(cfg ConnectionConfig) string
	pingQuery() string
	// tablesQuery returns the statement listing table names in the target
	// database, with bound arguments where the dialect needs them.
	tablesQuery(cfg ConnectionConfig) (string, []any)
	// columnsQuery returns the statement describing one table's columns as
	// (name, data_type, nullable) rows.
	columnsQuery(cfg ConnectionConfig, table string) (string, []any)
}

// sqlConn is the relational adapter core shared by the postgres, mysql and
// sqlite adapters. All pooling is delegated to database/sql; checkout and
// checkin are serialized by the pool itself.
type sqlConn struct {
	db  *sql.DB
	cfg ConnectionConfig
	d   sqlDialect
}

func openSQLConn(ctx context.Context, cfg ConnectionConfig, d sqlDialect) (*sqlConn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName(), d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening %s connection %q: %w", d.kind(), cfg.Name, err)
	}
	db.SetMaxOpenConns(cfg.maxConns())
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapTimeout(fmt.Sprintf("pinging %s connection %q", d.kind(), cfg.Name), err)
	}

	return &sqlConn{db: db, cfg: cfg, d: d}, nil
}

func (c *sqlConn) Kind() EngineKind { return c.d.kind() }

func (c *sqlConn) Close() error { return c.db.Close() }

// opCtx applies the configured per-operation timeout.
func (c *sqlConn) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *sqlConn) ExecuteQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapTimeout(fmt.Sprintf("querying connection %q", c.cfg.Name), err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func (c *sqlConn) ExecuteCommand(ctx context.Context, command string, args ...any) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapTimeout(fmt.Sprintf("beginning transaction on %q", c.cfg.Name), err)
	}

	res, err := tx.ExecContext(ctx, command, args...)
	if err != nil {
		tx.Rollback()
		return 0, wrapTimeout(fmt.Sprintf("executing command on %q", c.cfg.Name), err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapTimeout(fmt.Sprintf("committing command on %q", c.cfg.Name), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report counts for DDL; treat as zero.
		return 0, nil
	}
	return affected, nil
}

func (c *sqlConn) Tables(ctx context.Context) ([]string, error) {
	query, args := c.d.tablesQuery(c.cfg)
	rows, err := c.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tables on %q: %w", c.cfg.Name, err)
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if s, ok := v.(string); ok {
				tables = append(tables, s)
			}
		}
	}
	return tables, nil
}

func (c *sqlConn) TableSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	query, args := c.d.columnsQuery(c.cfg, table)
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapTimeout(fmt.Sprintf("introspecting %q.%s", c.cfg.Name, table), err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scanning column row for %q.%s: %w", c.cfg.Name, table, err)
		}
		cols = append(cols, ColumnInfo{
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES" || nullable == "1",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows for %q.%s: %w", c.cfg.Name, table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("introspecting %q.%s: table has no columns or does not exist", c.cfg.Name, table)
	}
	return cols, nil
}

func (c *sqlConn) CheckHealth(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{
		LastCheck: time.Now().UTC(),
		PoolSize:  c.cfg.PoolSize,
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	start := time.Now()
	var one int
	err := c.db.QueryRowContext(ctx, c.d.pingQuery()).Scan(&one)
	status.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	status.ActiveConnections = c.db.Stats().InUse

	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	return status
}

// sqlTx adapts *sql.Tx to the Tx capability surface.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) ExecuteQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapTimeout("querying in transaction", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (t *sqlTx) ExecuteCommand(ctx context.Context, command string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, command, args...)
	if err != nil {
		return 0, wrapTimeout("executing in transaction", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func (c *sqlConn) Transaction(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTimeout(fmt.Sprintf("beginning transaction on %q", c.cfg.Name), err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback on error return or panic; the connection goes back to
		// the pool either way.
		tx.Rollback()
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapTimeout(fmt.Sprintf("committing transaction on %q", c.cfg.Name), err)
	}
	committed = true
	return nil
}

// scanRows converts a result set into ordered row mappings. Byte slices are
// coerced to strings so results serialize cleanly.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("iterating result rows: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return result, nil
}
