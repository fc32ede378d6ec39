package engine

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlDialect backs the MySQL adapter.
type mysqlDialect struct{}

func (mysqlDialect) kind() EngineKind   { return MySQL }
func (mysqlDialect) driverName() string { return "mysql" }
func (mysqlDialect) pingQuery() string  { return "SELECT 1" }

func (mysqlDialect) dsn(cfg ConnectionConfig) string {
	params := []string{"parseTime=true"}
	if cfg.SSL {
		params = append(params, "tls=true")
	}
	for k, v := range cfg.Options {
		params = append(params, k+"="+v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		strings.Join(params, "&"))
}

func (mysqlDialect) tablesQuery(cfg ConnectionConfig) (string, []any) {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, []any{cfg.Database}
}

func (mysqlDialect) columnsQuery(cfg ConnectionConfig, table string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{cfg.Database, table}
}

func newMySQLConn(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	return openSQLConn(ctx, cfg, mysqlDialect{})
}
