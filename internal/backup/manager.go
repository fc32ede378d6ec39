// Package backup provides a compressed dump/restore engine with a
// persisted artifact catalog and scheduled execution.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/leadforge/dbadmin/internal/engine"
)

// ErrBackupNotFound is returned when no catalog entry exists for an id.
var ErrBackupNotFound = errors.New("backup not found")

// Options configures a backup manager.
type Options struct {
	// Dir is the backup directory; the catalog lives alongside the
	// artifacts.
	Dir string
	// MaxBackups caps the catalog; oldest entries are pruned past it.
	// Zero means unlimited.
	MaxBackups int
	// Compress gzips artifacts.
	Compress bool
	// IncludeTables, when set, is the default table list for backups that
	// do not name tables explicitly.
	IncludeTables []string
	// ExcludeTables is subtracted when the table list falls back to the
	// full set.
	ExcludeTables []string
}

// Manager creates and restores backups for one relational connection.
type Manager struct {
	conn engine.Connector
	opts Options

	mu        sync.Mutex
	backups   []Info
	schedules map[string]*Schedule
}

// New creates a backup manager and loads the persisted catalog.
func New(conn engine.Connector, opts Options) (*Manager, error) {
	if !conn.Kind().Relational() {
		return nil, fmt.Errorf("backup manager: engine %q does not support SQL dumps", conn.Kind())
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("backup manager: backup directory is required")
	}

	backups, err := loadCatalog(opts.Dir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		conn:      conn,
		opts:      opts,
		backups:   backups,
		schedules: make(map[string]*Schedule),
	}, nil
}

// effectiveTables resolves the table list for one backup: an explicit list
// wins, then the configured include-list, then all tables minus the
// exclude-list.
func (m *Manager) effectiveTables(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if len(m.opts.IncludeTables) > 0 {
		return m.opts.IncludeTables, nil
	}

	all, err := m.conn.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving backup tables: %w", err)
	}
	if len(m.opts.ExcludeTables) == 0 {
		return all, nil
	}

	excluded := make(map[string]bool, len(m.opts.ExcludeTables))
	for _, t := range m.opts.ExcludeTables {
		excluded[t] = true
	}
	kept := make([]string, 0, len(all))
	for _, t := range all {
		if !excluded[t] {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// Create produces one backup artifact and records it in the catalog. An
// empty name is derived from the timestamp. Incremental and differential
// kinds are accepted but executed as full dumps: the single-artifact format
// carries no delta base.
func (m *Manager) Create(ctx context.Context, name string, kind Kind, tables []string) (*Info, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("creating backup: unknown kind %q", kind)
	}
	if kind == KindIncremental || kind == KindDifferential {
		slog.Warn("backup kind downgraded to full", "requested", kind)
		kind = KindFull
	}

	start := time.Now()
	if name == "" {
		name = "backup_" + start.UTC().Format("20060102_150405")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("creating backup: name %q must not contain path separators", name)
	}

	info := Info{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		CreatedAt: start.UTC(),
		Status:    StatusRunning,
	}

	resolved, err := m.effectiveTables(ctx, tables)
	if err != nil {
		return nil, err
	}
	info.Tables = resolved

	artifact, err := m.buildArtifact(ctx, kind, resolved)
	if err != nil {
		m.recordFailure(&info, err)
		return nil, fmt.Errorf("creating backup %q: %w", name, err)
	}

	ext := ".sql"
	if m.opts.Compress {
		ext = ".sql.gz"
	}
	path := filepath.Join(m.opts.Dir, fmt.Sprintf("%s_%s%s", name, start.UTC().Format("20060102T150405"), ext))
	if err := m.writeArtifact(path, artifact); err != nil {
		m.recordFailure(&info, err)
		return nil, fmt.Errorf("creating backup %q: %w", name, err)
	}

	// Verify the artifact reads back before cataloguing it.
	if _, err := readArtifact(path); err != nil {
		os.Remove(path)
		m.recordFailure(&info, err)
		return nil, fmt.Errorf("verifying backup %q: %w", name, err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		m.recordFailure(&info, err)
		return nil, fmt.Errorf("sizing backup %q: %w", name, err)
	}

	info.Path = path
	info.SizeBytes = stat.Size()
	info.Duration = time.Since(start)
	info.Status = StatusCompleted

	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups = append(m.backups, info)
	m.pruneLocked()
	if err := saveCatalog(m.opts.Dir, m.backups); err != nil {
		return nil, err
	}

	slog.Info("backup created", "id", info.ID, "name", name, "kind", kind,
		"tables", len(resolved), "bytes", info.SizeBytes, "duration", info.Duration.String())
	return &info, nil
}

// recordFailure catalogues a failed run so backup history reflects failures
// as well as successes. Catalog persistence here is best-effort: the caller
// already has the original error to return.
func (m *Manager) recordFailure(info *Info, cause error) {
	info.Status = StatusFailed
	info.Error = cause.Error()
	info.Duration = time.Since(info.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups = append(m.backups, *info)
	m.pruneLocked()
	if err := saveCatalog(m.opts.Dir, m.backups); err != nil {
		slog.Warn("saving backup catalog failed", "id", info.ID, "error", err)
	}
}

// buildArtifact serializes schema DDL and/or row data for the given tables
// into newline-joined SQL statements with a header comment block.
func (m *Manager) buildArtifact(ctx context.Context, kind Kind, tables []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- dbadmin dump\n-- created: %s\n-- kind: %s\n-- tables: %s\n\n",
		time.Now().UTC().Format(time.RFC3339), kind, strings.Join(tables, ", "))

	for _, table := range tables {
		// Cancellation is cooperative between table iterations.
		if err := ctx.Err(); err != nil {
			return "", err
		}

		cols, err := m.conn.TableSchema(ctx, table)
		if err != nil {
			return "", fmt.Errorf("dumping table %q: %w", table, err)
		}

		fmt.Fprintf(&b, "-- table: %s\n", table)

		if kind == KindFull || kind == KindSchemaOnly {
			b.WriteString(createTableDDL(table, cols))
			b.WriteString("\n")
		}
		if kind == KindFull || kind == KindDataOnly {
			if err := m.writeInserts(ctx, &b, table, cols); err != nil {
				return "", err
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func createTableDDL(table string, cols []engine.ColumnInfo) string {
	lines := make([]string, len(cols))
	for i, c := range cols {
		line := "  " + c.Name + " " + c.DataType
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines[i] = line
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", table, strings.Join(lines, ",\n"))
}

func (m *Manager) writeInserts(ctx context.Context, b *strings.Builder, table string, cols []engine.ColumnInfo) error {
	rows, err := m.conn.ExecuteQuery(ctx, "SELECT * FROM "+table)
	if err != nil {
		return fmt.Errorf("reading rows from %q: %w", table, err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	for _, row := range rows {
		values := make([]string, len(names))
		for i, name := range names {
			values[i] = sqlLiteral(row[name])
		}
		fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(names, ", "), strings.Join(values, ", "))
	}
	return nil
}

// sqlLiteral renders one captured value as a SQL literal for the dump.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(t), "'", "''") + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339) + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (m *Manager) writeArtifact(path, content string) error {
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating artifact: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if m.opts.Compress {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("flushing compressed artifact: %w", err)
		}
	}
	return nil
}

// readArtifact reads an artifact back, decompressing when the file carries
// the gzip magic bytes.
func readArtifact(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading artifact: %w", err)
	}
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		r, err := gzip.NewReader(strings.NewReader(string(data)))
		if err != nil {
			return "", fmt.Errorf("opening compressed artifact: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("decompressing artifact: %w", err)
		}
		return string(out), nil
	}
	return string(data), nil
}

// RestoreResult summarizes one restore run.
type RestoreResult struct {
	Executed int
	Failed   int
}

// Restore replays a backup artifact statement by statement. Individual
// statement failures are logged and skipped rather than aborting the run: a
// partial restore is considered more valuable than none. When tables is
// non-empty only the matching table sections are replayed; dropExisting
// drops each in-scope table first.
func (m *Manager) Restore(ctx context.Context, id string, tables []string, dropExisting bool) (RestoreResult, error) {
	info, err := m.Get(id)
	if err != nil {
		return RestoreResult{}, err
	}

	content, err := readArtifact(info.Path)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("restoring backup %q: %w", id, err)
	}

	scope := make(map[string]bool, len(tables))
	for _, t := range tables {
		scope[t] = true
	}
	inScope := func(table string) bool {
		return len(scope) == 0 || scope[table]
	}

	if dropExisting {
		for _, table := range info.Tables {
			if !inScope(table) {
				continue
			}
			if _, err := m.conn.ExecuteCommand(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				slog.Warn("dropping table before restore failed", "table", table, "error", err)
			}
		}
	}

	var result RestoreResult
	for _, stmt := range splitStatements(content, inScope) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("restoring backup %q: %w", id, err)
		}
		if _, err := m.conn.ExecuteCommand(ctx, stmt); err != nil {
			result.Failed++
			slog.Warn("restore statement failed", "backup", id, "error", err)
			continue
		}
		result.Executed++
	}

	slog.Info("backup restored", "id", id, "executed", result.Executed, "failed", result.Failed)
	return result, nil
}

// splitStatements parses an artifact into executable statements, tracking
// "-- table:" section markers for scoping and tolerating blank and
// comment-only lines.
func splitStatements(content string, inScope func(string) bool) []string {
	var statements []string
	var current strings.Builder
	sectionIncluded := true

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "--") {
			if name, ok := strings.CutPrefix(trimmed, "-- table:"); ok {
				sectionIncluded = inScope(strings.TrimSpace(name))
			}
			continue
		}
		if !sectionIncluded {
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements
}

// Get returns the catalog entry for id.
func (m *Manager) Get(id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.backups {
		if m.backups[i].ID == id {
			info := m.backups[i]
			return &info, nil
		}
	}
	return nil, fmt.Errorf("getting backup %q: %w", id, ErrBackupNotFound)
}

// List returns all catalog entries, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Info(nil), m.backups...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a backup's artifact and catalog entry.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i := range m.backups {
		if m.backups[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("deleting backup %q: %w", id, ErrBackupNotFound)
	}

	if err := os.Remove(m.backups[idx].Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting backup artifact %q: %w", id, err)
	}
	m.backups = append(m.backups[:idx], m.backups[idx+1:]...)
	return saveCatalog(m.opts.Dir, m.backups)
}

// pruneLocked trims the catalog down to MaxBackups, oldest first. Artifact
// deletion is best-effort and logged, never fatal.
func (m *Manager) pruneLocked() {
	if m.opts.MaxBackups <= 0 || len(m.backups) <= m.opts.MaxBackups {
		return
	}

	sort.Slice(m.backups, func(i, j int) bool {
		return m.backups[i].CreatedAt.Before(m.backups[j].CreatedAt)
	})
	excess := len(m.backups) - m.opts.MaxBackups
	for _, old := range m.backups[:excess] {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("pruning backup artifact failed", "id", old.ID, "path", old.Path, "error", err)
		} else {
			slog.Info("pruned backup", "id", old.ID, "name", old.Name)
		}
	}
	m.backups = append([]Info(nil), m.backups[excess:]...)
}

// AddSchedule registers (or replaces) a recurring backup job.
func (m *Manager) AddSchedule(name string, intervalHours int, kind Kind, tables []string) (*Schedule, error) {
	if name == "" {
		return nil, fmt.Errorf("scheduling backup: name is required")
	}
	if intervalHours <= 0 {
		return nil, fmt.Errorf("scheduling backup %q: interval must be positive", name)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("scheduling backup %q: unknown kind %q", name, kind)
	}

	interval := time.Duration(intervalHours) * time.Hour
	s := &Schedule{
		Name:     name,
		Kind:     kind,
		Tables:   append([]string(nil), tables...),
		Interval: interval,
		NextRun:  time.Now().UTC().Add(interval),
	}

	m.mu.Lock()
	m.schedules[name] = s
	m.mu.Unlock()

	slog.Info("backup scheduled", "name", name, "kind", kind, "intervalHours", intervalHours)
	return s, nil
}

// Schedules returns the registered schedules sorted by name.
func (m *Manager) Schedules() []Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunScheduledDue creates a backup for every schedule whose next-run has
// elapsed, advancing next-run whether or not the individual backup
// succeeds. It is meant to be driven by an external ticker or cron.
func (m *Manager) RunScheduledDue(ctx context.Context) int {
	now := time.Now().UTC()

	m.mu.Lock()
	var due []*Schedule
	for _, s := range m.schedules {
		if !s.NextRun.After(now) {
			due = append(due, s)
			s.NextRun = now.Add(s.Interval)
		}
	}
	m.mu.Unlock()

	ran := 0
	for _, s := range due {
		name := fmt.Sprintf("%s_%s", s.Name, now.Format("20060102_150405"))
		if _, err := m.Create(ctx, name, s.Kind, s.Tables); err != nil {
			slog.Error("scheduled backup failed", "schedule", s.Name, "error", err)
			continue
		}
		ran++
	}
	return ran
}
