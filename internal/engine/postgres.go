package engine

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresDialect backs the PostgreSQL adapter via the pgx stdlib driver.
type postgresDialect struct{}

func (postgresDialect) kind() EngineKind   { return Postgres }
func (postgresDialect) driverName() string { return "pgx" }
func (postgresDialect) pingQuery() string  { return "SELECT 1" }

func (postgresDialect) dsn(cfg ConnectionConfig) string {
	sslmode := "disable"
	if cfg.SSL {
		sslmode = "require"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (postgresDialect) tablesQuery(cfg ConnectionConfig) (string, []any) {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`, nil
}

func (postgresDialect) columnsQuery(cfg ConnectionConfig, table string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, []any{table}
}

func newPostgresConn(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	return openSQLConn(ctx, cfg, postgresDialect{})
}
