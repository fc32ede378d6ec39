package engine

import (
	"context"

	_ "modernc.org/sqlite"
)

// sqliteDialect backs the SQLite adapter. The Database field of the config
// is the database file path; Host and Port are unused.
type sqliteDialect struct{}

func (sqliteDialect) kind() EngineKind   { return SQLite }
func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) pingQuery() string  { return "SELECT 1" }

func (sqliteDialect) dsn(cfg ConnectionConfig) string {
	dsn := cfg.Database
	sep := "?"
	for k, v := range cfg.Options {
		dsn += sep + k + "=" + v
		sep = "&"
	}
	return dsn
}

func (sqliteDialect) tablesQuery(cfg ConnectionConfig) (string, []any) {
	return `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`, nil
}

func (sqliteDialect) columnsQuery(cfg ConnectionConfig, table string) (string, []any) {
	return `SELECT name, type, CASE "notnull" WHEN 0 THEN 'YES' ELSE 'NO' END
		FROM pragma_table_info(?)
		ORDER BY cid`, []any{table}
}

func newSQLiteConn(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	return openSQLConn(ctx, cfg, sqliteDialect{})
}
