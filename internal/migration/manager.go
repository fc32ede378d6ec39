// Package migration provides versioned, checksummed schema migrations with
// rollback, persisted in a tracking table inside the target database.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadforge/dbadmin/internal/engine"
)

// ErrMigrationNotFound is returned when no migration exists for a version.
var ErrMigrationNotFound = errors.New("migration not found")

// ErrDuplicateVersion is returned when a migration version already exists.
var ErrDuplicateVersion = errors.New("migration version already exists")

// ErrNotApplied is returned when rolling back a migration that is not in
// the completed state.
var ErrNotApplied = errors.New("migration not applied")

// ErrChecksumMismatch is returned when a migration's recomputed checksum
// disagrees with the tracking-table record.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// trackingTable persists migration history. Rows are updated on rollback,
// never deleted.
const trackingTable = "schema_migrations"

var trackingColumns = []string{
	"version", "name", "description", "checksum",
	"up_sql", "down_sql", "applied_at", "status", "error", "created_at",
}

const createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	name TEXT,
	description TEXT,
	checksum TEXT,
	up_sql TEXT,
	down_sql TEXT,
	applied_at TEXT,
	status TEXT,
	error TEXT,
	created_at TEXT
)`

// statementSeparator joins multi-statement SQL when persisted in the
// tracking table.
const statementSeparator = "\n--;;\n"

// Manager tracks a set of migrations against one target connection.
type Manager struct {
	conn engine.Connector

	mu         sync.Mutex
	migrations map[string]*Migration
	ready      bool
}

// New creates a migration manager for a relational connection.
func New(conn engine.Connector) (*Manager, error) {
	if !conn.Kind().Relational() {
		return nil, fmt.Errorf("migration manager: engine %q does not support SQL migrations", conn.Kind())
	}
	return &Manager{
		conn:       conn,
		migrations: make(map[string]*Migration),
	}, nil
}

// ensureTable creates the tracking table on first use and verifies its
// shape. Schema drift between the expected and actual columns is an
// initialization error.
func (m *Manager) ensureTable(ctx context.Context) error {
	if m.ready {
		return nil
	}
	if _, err := m.conn.ExecuteCommand(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("creating migration tracking table: %w", err)
	}

	cols, err := m.conn.TableSchema(ctx, trackingTable)
	if err != nil {
		return fmt.Errorf("verifying migration tracking table: %w", err)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	for _, want := range trackingColumns {
		if !have[want] {
			return fmt.Errorf("migration tracking table is missing column %q", want)
		}
	}
	m.ready = true
	return nil
}

// Add registers a migration. The checksum is computed here, once.
func (m *Manager) Add(version, name, description string, up, down []string) (*Migration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.migrations[version]; exists {
		return nil, fmt.Errorf("adding migration %q: %w", version, ErrDuplicateVersion)
	}

	mig := &Migration{
		Version:     version,
		Name:        name,
		Description: description,
		UpSQL:       append([]string(nil), up...),
		DownSQL:     append([]string(nil), down...),
		Checksum:    computeChecksum(version, up, down),
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}
	m.migrations[version] = mig
	return mig, nil
}

// Get returns the migration registered under version.
func (m *Manager) Get(version string) (*Migration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mig, ok := m.migrations[version]
	if !ok {
		return nil, fmt.Errorf("getting migration %q: %w", version, ErrMigrationNotFound)
	}
	return mig, nil
}

// List returns all registered migrations in ascending version order.
func (m *Manager) List() []*Migration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []*Migration {
	out := make([]*Migration, 0, len(m.migrations))
	for _, mig := range m.migrations {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Apply executes a migration's up statements sequentially. Applying an
// already-completed migration is a successful no-op. On any statement
// failure the migration is marked failed with the captured error and the
// error is returned; partial DDL effects already committed by the engine
// are not undone, since DDL is not transactional across engines.
func (m *Manager) Apply(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mig, ok := m.migrations[version]
	if !ok {
		return fmt.Errorf("applying migration %q: %w", version, ErrMigrationNotFound)
	}
	if mig.Status == StatusCompleted {
		return nil
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	mig.Status = StatusRunning
	slog.Info("applying migration", "version", version, "name", mig.Name)

	for i, stmt := range mig.UpSQL {
		// Cancellation is cooperative at statement boundaries only.
		if err := ctx.Err(); err != nil {
			mig.Status = StatusFailed
			mig.LastError = err.Error()
			return fmt.Errorf("applying migration %q: %w", version, err)
		}
		if _, err := m.conn.ExecuteCommand(ctx, stmt); err != nil {
			mig.Status = StatusFailed
			mig.LastError = err.Error()
			if perr := m.persist(ctx, mig); perr != nil {
				slog.Warn("persisting failed migration record", "version", version, "error", perr)
			}
			return fmt.Errorf("applying migration %q statement %d: %w", version, i+1, err)
		}
	}

	now := time.Now().UTC()
	mig.Status = StatusCompleted
	mig.AppliedAt = &now
	mig.LastError = ""
	if err := m.persist(ctx, mig); err != nil {
		return err
	}
	slog.Info("migration applied", "version", version)
	return nil
}

// Rollback executes a completed migration's down statements. On failure the
// migration stays completed and the error is stored for inspection.
func (m *Manager) Rollback(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mig, ok := m.migrations[version]
	if !ok {
		return fmt.Errorf("rolling back migration %q: %w", version, ErrMigrationNotFound)
	}
	if mig.Status != StatusCompleted {
		return fmt.Errorf("rolling back migration %q: %w", version, ErrNotApplied)
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	slog.Info("rolling back migration", "version", version, "name", mig.Name)
	for i, stmt := range mig.DownSQL {
		if err := ctx.Err(); err != nil {
			mig.LastError = err.Error()
			return fmt.Errorf("rolling back migration %q: %w", version, err)
		}
		if _, err := m.conn.ExecuteCommand(ctx, stmt); err != nil {
			mig.LastError = err.Error()
			if perr := m.persist(ctx, mig); perr != nil {
				slog.Warn("persisting migration rollback error", "version", version, "error", perr)
			}
			return fmt.Errorf("rolling back migration %q statement %d: %w", version, i+1, err)
		}
	}

	mig.Status = StatusRolledBack
	mig.AppliedAt = nil
	mig.LastError = ""
	if err := m.persist(ctx, mig); err != nil {
		return err
	}
	slog.Info("migration rolled back", "version", version)
	return nil
}

// ApplyAllPending applies every non-completed migration in ascending
// version order, halting at the first failure and leaving later migrations
// pending.
func (m *Manager) ApplyAllPending(ctx context.Context) error {
	for _, mig := range m.List() {
		if mig.Status == StatusCompleted {
			continue
		}
		if err := m.Apply(ctx, mig.Version); err != nil {
			return err
		}
	}
	return nil
}

// RollbackTo rolls back completed migrations in descending version order
// down to, but not including, target.
func (m *Manager) RollbackTo(ctx context.Context, target string) error {
	if target != "" {
		if _, err := m.Get(target); err != nil {
			return fmt.Errorf("rollback target: %w", err)
		}
	}

	all := m.List()
	for i := len(all) - 1; i >= 0; i-- {
		mig := all[i]
		if mig.Version == target {
			break
		}
		if mig.Status != StatusCompleted {
			continue
		}
		if err := m.Rollback(ctx, mig.Version); err != nil {
			return err
		}
	}
	return nil
}

// VerifyIntegrity recomputes every local migration's checksum and compares
// it against the persisted tracking-table record. A mismatch is a hard
// error, never silently resolved.
func (m *Manager) VerifyIntegrity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	rows, err := m.conn.ExecuteQuery(ctx, "SELECT version, checksum FROM "+trackingTable)
	if err != nil {
		return fmt.Errorf("reading migration history: %w", err)
	}

	recorded := make(map[string]string, len(rows))
	for _, row := range rows {
		version, _ := row["version"].(string)
		checksum, _ := row["checksum"].(string)
		recorded[version] = checksum
	}

	for version, mig := range m.migrations {
		stored, ok := recorded[version]
		if !ok {
			continue
		}
		// The stored value may be arbitrarily corrupted, so print it whole.
		current := computeChecksum(version, mig.UpSQL, mig.DownSQL)
		if current != stored {
			return fmt.Errorf("verifying migration %q: %w: recorded %q, current %q",
				version, ErrChecksumMismatch, stored, current)
		}
	}
	return nil
}

// Load hydrates registered migrations' status, applied timestamp and last
// error from the tracking table.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	rows, err := m.conn.ExecuteQuery(ctx, "SELECT version, applied_at, status, error FROM "+trackingTable)
	if err != nil {
		return fmt.Errorf("loading migration history: %w", err)
	}

	for _, row := range rows {
		version, _ := row["version"].(string)
		mig, ok := m.migrations[version]
		if !ok {
			continue
		}
		if s, _ := row["status"].(string); s != "" {
			mig.Status = Status(s)
		}
		mig.LastError, _ = row["error"].(string)
		if at, _ := row["applied_at"].(string); at != "" {
			if ts, err := time.Parse(time.RFC3339, at); err == nil {
				mig.AppliedAt = &ts
			}
		} else {
			mig.AppliedAt = nil
		}
	}
	return nil
}

// persist upserts a migration's tracking row. Failures are logged and
// returned so operators never end up with silently missing history.
func (m *Manager) persist(ctx context.Context, mig *Migration) error {
	appliedAt := ""
	if mig.AppliedAt != nil {
		appliedAt = mig.AppliedAt.Format(time.RFC3339)
	}
	up := joinStatements(mig.UpSQL)
	down := joinStatements(mig.DownSQL)

	kind := m.conn.Kind()
	update := engine.BindVars(kind, `UPDATE schema_migrations
		SET name = ?, description = ?, checksum = ?, up_sql = ?, down_sql = ?,
			applied_at = ?, status = ?, error = ?
		WHERE version = ?`)
	affected, err := m.conn.ExecuteCommand(ctx, update,
		mig.Name, mig.Description, mig.Checksum, up, down,
		appliedAt, string(mig.Status), mig.LastError, mig.Version)
	if err != nil {
		return fmt.Errorf("updating migration record %q: %w", mig.Version, err)
	}
	if affected > 0 {
		return nil
	}

	insert := engine.BindVars(kind, `INSERT INTO schema_migrations
		(version, name, description, checksum, up_sql, down_sql, applied_at, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = m.conn.ExecuteCommand(ctx, insert,
		mig.Version, mig.Name, mig.Description, mig.Checksum, up, down,
		appliedAt, string(mig.Status), mig.LastError, mig.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting migration record %q: %w", mig.Version, err)
	}
	return nil
}

func joinStatements(stmts []string) string {
	out := ""
	for i, s := range stmts {
		if i > 0 {
			out += statementSeparator
		}
		out += s
	}
	return out
}
