// Package monitor wraps query execution to record timing, detect slow
// queries and produce heuristic index recommendations.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadforge/dbadmin/internal/engine"
)

// QueryType classifies a statement by its leading keyword.
type QueryType string

const (
	TypeSelect QueryType = "select"
	TypeInsert QueryType = "insert"
	TypeUpdate QueryType = "update"
	TypeDelete QueryType = "delete"
	TypeOther  QueryType = "other"
)

// DetectQueryType inspects the leading keyword of a statement.
func DetectQueryType(query string) QueryType {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return TypeOther
	}
	switch fields[0] {
	case "select", "with":
		return TypeSelect
	case "insert":
		return TypeInsert
	case "update":
		return TypeUpdate
	case "delete":
		return TypeDelete
	default:
		return TypeOther
	}
}

// QueryMetrics records one monitored execution.
type QueryMetrics struct {
	Query        string    `json:"query"`
	Type         QueryType `json:"type"`
	DurationMS   float64   `json:"duration_ms"`
	RowsAffected int64     `json:"rows_affected"`
	Timestamp    time.Time `json:"timestamp"`
	Plan         string    `json:"plan,omitempty"`
	Params       []any     `json:"params,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Monitor instruments query execution against one connection. Metrics
// retention is a bounded ring buffer so steady-state memory is constant;
// the slow-query list is the documented unbounded exception and callers
// should clear it periodically.
type Monitor struct {
	conn      engine.Connector
	threshold time.Duration

	mu    sync.Mutex
	ring  []QueryMetrics
	next  int
	count int
	slow  []QueryMetrics
}

// defaultBufferSize bounds the metrics ring when the caller passes zero.
const defaultBufferSize = 1000

// New creates a monitor with the given slow-query threshold and ring
// buffer capacity.
func New(conn engine.Connector, threshold time.Duration, bufferSize int) *Monitor {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Monitor{
		conn:      conn,
		threshold: threshold,
		ring:      make([]QueryMetrics, bufferSize),
	}
}

// ExecuteWithMonitoring runs the statement, times it, and records a
// metrics entry. Read statements optionally fetch an EXPLAIN payload
// first. An execution at or above the threshold is classified slow and
// logged as a warning.
func (m *Monitor) ExecuteWithMonitoring(ctx context.Context, query string, args []any, explain bool) ([]map[string]any, QueryMetrics, error) {
	metrics := QueryMetrics{
		Query:     query,
		Type:      DetectQueryType(query),
		Timestamp: time.Now().UTC(),
		Params:    args,
	}

	if explain && metrics.Type == TypeSelect {
		if plan, err := m.conn.ExecuteQuery(ctx, "EXPLAIN "+query, args...); err == nil {
			if encoded, err := json.Marshal(plan); err == nil {
				metrics.Plan = string(encoded)
			}
		} else {
			slog.Debug("explain failed", "error", err)
		}
	}

	start := time.Now()
	var rows []map[string]any
	var execErr error
	if metrics.Type == TypeSelect {
		rows, execErr = m.conn.ExecuteQuery(ctx, query, args...)
		metrics.RowsAffected = int64(len(rows))
	} else {
		metrics.RowsAffected, execErr = m.conn.ExecuteCommand(ctx, query, args...)
	}
	metrics.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
	if execErr != nil {
		metrics.Error = execErr.Error()
	}

	m.record(metrics)
	return rows, metrics, execErr
}

func (m *Monitor) record(metrics QueryMetrics) {
	slow := time.Duration(metrics.DurationMS*float64(time.Millisecond)) >= m.threshold

	m.mu.Lock()
	m.ring[m.next] = metrics
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	if slow {
		m.slow = append(m.slow, metrics)
	}
	m.mu.Unlock()

	if slow {
		slog.Warn("slow query detected",
			"durationMs", metrics.DurationMS,
			"thresholdMs", float64(m.threshold.Microseconds())/1000.0,
			"query", metrics.Query)
	}
}

// Recent returns up to n most recent metrics entries, oldest first.
func (m *Monitor) Recent(n int) []QueryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > m.count {
		n = m.count
	}
	out := make([]QueryMetrics, 0, n)
	start := m.next - n
	if start < 0 {
		start += len(m.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	return out
}

// SlowQueries returns a copy of the retained slow-query list.
func (m *Monitor) SlowQueries() []QueryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueryMetrics(nil), m.slow...)
}

// ClearSlowQueries empties the slow-query list.
func (m *Monitor) ClearSlowQueries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slow = nil
}

// TypeStats aggregates monitored executions of one query type.
type TypeStats struct {
	Count         int     `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Stats summarizes the ring buffer contents per query type.
func (m *Monitor) Stats() map[QueryType]TypeStats {
	entries := m.Recent(0)

	totals := make(map[QueryType]float64)
	counts := make(map[QueryType]int)
	for _, e := range entries {
		totals[e.Type] += e.DurationMS
		counts[e.Type]++
	}

	out := make(map[QueryType]TypeStats, len(counts))
	for t, c := range counts {
		out[t] = TypeStats{Count: c, AvgDurationMS: totals[t] / float64(c)}
	}
	return out
}
