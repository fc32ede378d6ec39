package engine

import (
	"fmt"
	"log/slog"
	"time"
)

// ConnectionConfig describes one configured database target. It is treated
// as an immutable value once registered. Credentials are excluded from JSON
// serialization and redacted from log output.
type ConnectionConfig struct {
	Name     string     `json:"name"`
	Kind     EngineKind `json:"kind"`
	Host     string     `json:"host"`
	Port     int        `json:"port"`
	Database string     `json:"database"`
	Username string     `json:"username"`
	Password string     `json:"-"`

	PoolSize    int           `json:"pool_size"`
	MaxOverflow int           `json:"max_overflow"`
	Timeout     time.Duration `json:"timeout"`
	SSL         bool          `json:"ssl"`

	// Options carries engine-specific extra parameters appended to the DSN.
	Options map[string]string `json:"options,omitempty"`
}

const (
	defaultPoolSize    = 5
	defaultMaxOverflow = 10
	defaultTimeout     = 30 * time.Second
)

// withDefaults returns a copy of c with zero-valued pool and timeout
// settings filled in.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.MaxOverflow < 0 {
		c.MaxOverflow = defaultMaxOverflow
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// maxConns is the hard pool ceiling: checkouts beyond it block until a
// connection is released or the timeout elapses.
func (c ConnectionConfig) maxConns() int {
	return c.PoolSize + c.MaxOverflow
}

// Validate checks the fields every adapter requires.
func (c ConnectionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connection config: name is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("connection config %q: %w: %q", c.Name, ErrUnsupportedEngine, c.Kind)
	}
	if c.Kind != SQLite && c.Host == "" {
		return fmt.Errorf("connection config %q: host is required", c.Name)
	}
	if c.Database == "" {
		return fmt.Errorf("connection config %q: database is required", c.Name)
	}
	return nil
}

// LogValue implements slog.LogValuer so configs can be logged without ever
// exposing credentials.
func (c ConnectionConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.String("kind", string(c.Kind)),
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("database", c.Database),
		slog.Int("poolSize", c.PoolSize),
		slog.Bool("ssl", c.SSL),
	)
}

// ConnectionStatus is a point-in-time health snapshot. It is recomputed on
// every call and never cached.
type ConnectionStatus struct {
	Connected         bool      `json:"connected"`
	LastCheck         time.Time `json:"last_check"`
	ResponseTimeMS    float64   `json:"response_time_ms"`
	Error             string    `json:"error,omitempty"`
	ActiveConnections int       `json:"active_connections"`
	PoolSize          int       `json:"pool_size"`
}
