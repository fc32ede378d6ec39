package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/dbadmin/internal/backup"
	"github.com/leadforge/dbadmin/internal/engine"
)

func openSQLite(t *testing.T, name string) engine.Connector {
	t.Helper()
	conn, err := engine.Open(context.Background(), engine.ConnectionConfig{
		Name:     name,
		Kind:     engine.SQLite,
		Database: filepath.Join(t.TempDir(), name+".db"),
		PoolSize: 2,
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedSource(t *testing.T, conn engine.Connector) {
	t.Helper()
	ctx := context.Background()
	_, err := conn.ExecuteCommand(ctx,
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, note TEXT)")
	require.NoError(t, err)
	_, err = conn.ExecuteCommand(ctx,
		"INSERT INTO users (name, note) VALUES (?, ?)", "ada", "o'brien quoting")
	require.NoError(t, err)
	_, err = conn.ExecuteCommand(ctx,
		"INSERT INTO users (name, note) VALUES (?, ?)", "grace", nil)
	require.NoError(t, err)
	_, err = conn.ExecuteCommand(ctx,
		"CREATE TABLE sessions (id INTEGER PRIMARY KEY, token TEXT)")
	require.NoError(t, err)
}

func newManager(t *testing.T, conn engine.Connector, opts backup.Options) *backup.Manager {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	m, err := backup.New(conn, opts)
	require.NoError(t, err)
	return m
}

func TestCreate_FullBackupWritesArtifactAndCatalog(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	dir := t.TempDir()
	m := newManager(t, conn, backup.Options{Dir: dir})

	info, err := m.Create(context.Background(), "nightly", backup.KindFull, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, backup.StatusCompleted, info.Status)
	assert.Equal(t, []string{"sessions", "users"}, info.Tables)
	assert.Greater(t, info.SizeBytes, int64(0))
	assert.FileExists(t, info.Path)
	assert.FileExists(t, filepath.Join(dir, "catalog.json"))

	content, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "-- kind: full")
	assert.Contains(t, text, "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, text, "INSERT INTO users")
	assert.Contains(t, text, "'o''brien quoting'")
}

func TestCreate_UnknownKindRejected(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{})

	_, err := m.Create(context.Background(), "x", backup.Kind("weird"), nil)
	assert.Error(t, err)
}

func TestCreate_ExplicitTablesWinOverFilters(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{
		IncludeTables: []string{"sessions"},
	})

	info, err := m.Create(context.Background(), "only_users", backup.KindSchemaOnly, []string{"users"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, info.Tables)
}

func TestCreate_ExcludeListApplied(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{
		ExcludeTables: []string{"sessions"},
	})

	info, err := m.Create(context.Background(), "no_sessions", backup.KindSchemaOnly, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, info.Tables)
}

func TestRestore_SchemaOnlyIntoEmptyTarget(t *testing.T) {
	source := openSQLite(t, "source")
	seedSource(t, source)
	dir := t.TempDir()

	sourceMgr := newManager(t, source, backup.Options{Dir: dir})
	info, err := sourceMgr.Create(context.Background(), "schema", backup.KindSchemaOnly, []string{"users"})
	require.NoError(t, err)

	// A manager over the same catalog directory bound to an empty target.
	target := openSQLite(t, "target")
	targetMgr := newManager(t, target, backup.Options{Dir: dir})

	result, err := targetMgr.Restore(context.Background(), info.ID, nil, false)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	tables, err := target.Tables(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "users")

	rows, err := target.ExecuteQuery(context.Background(), "SELECT COUNT(*) AS n FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["n"])
}

func TestRestore_FullRoundTrip(t *testing.T) {
	source := openSQLite(t, "source")
	seedSource(t, source)
	dir := t.TempDir()

	sourceMgr := newManager(t, source, backup.Options{Dir: dir, Compress: true})
	info, err := sourceMgr.Create(context.Background(), "full", backup.KindFull, nil)
	require.NoError(t, err)
	assert.True(t, filepath.Ext(info.Path) == ".gz")

	target := openSQLite(t, "target")
	targetMgr := newManager(t, target, backup.Options{Dir: dir, Compress: true})

	result, err := targetMgr.Restore(context.Background(), info.ID, nil, false)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	rows, err := target.ExecuteQuery(context.Background(),
		"SELECT name, note FROM users ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, "o'brien quoting", rows[0]["note"])
}

func TestRestore_TableScopeFilter(t *testing.T) {
	source := openSQLite(t, "source")
	seedSource(t, source)
	dir := t.TempDir()

	sourceMgr := newManager(t, source, backup.Options{Dir: dir})
	info, err := sourceMgr.Create(context.Background(), "full", backup.KindFull, nil)
	require.NoError(t, err)

	target := openSQLite(t, "target")
	targetMgr := newManager(t, target, backup.Options{Dir: dir})

	_, err = targetMgr.Restore(context.Background(), info.ID, []string{"sessions"}, false)
	require.NoError(t, err)

	tables, err := target.Tables(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "sessions")
	assert.NotContains(t, tables, "users")
}

func TestRestore_ContinuesPastStatementFailures(t *testing.T) {
	source := openSQLite(t, "source")
	seedSource(t, source)
	dir := t.TempDir()

	m := newManager(t, source, backup.Options{Dir: dir})
	info, err := m.Create(context.Background(), "again", backup.KindFull, []string{"users"})
	require.NoError(t, err)

	// Restoring into the source itself: CREATE TABLE IF NOT EXISTS
	// passes, duplicate-key inserts fail, and the run still completes.
	result, err := m.Restore(context.Background(), info.ID, nil, false)
	require.NoError(t, err)
	assert.Greater(t, result.Executed, 0)
	assert.Greater(t, result.Failed, 0)
}

func TestRestore_UnknownID(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{})

	_, err := m.Restore(context.Background(), "nope", nil, false)
	assert.ErrorIs(t, err, backup.ErrBackupNotFound)
}

func TestCatalog_DropsEntriesWithMissingArtifacts(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	dir := t.TempDir()

	m := newManager(t, conn, backup.Options{Dir: dir})
	kept, err := m.Create(context.Background(), "kept", backup.KindSchemaOnly, nil)
	require.NoError(t, err)
	gone, err := m.Create(context.Background(), "gone", backup.KindSchemaOnly, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone.Path))

	reloaded := newManager(t, conn, backup.Options{Dir: dir})
	list := reloaded.List()
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
}

func TestPrune_OldestRemovedPastMax(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	dir := t.TempDir()

	m := newManager(t, conn, backup.Options{Dir: dir, MaxBackups: 2})

	first, err := m.Create(context.Background(), "one", backup.KindSchemaOnly, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = m.Create(context.Background(), "two", backup.KindSchemaOnly, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = m.Create(context.Background(), "three", backup.KindSchemaOnly, nil)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	for _, info := range list {
		assert.NotEqual(t, first.ID, info.ID)
	}
	assert.NoFileExists(t, first.Path)
}

func TestDelete_RemovesArtifactAndEntry(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{})

	info, err := m.Create(context.Background(), "doomed", backup.KindSchemaOnly, nil)
	require.NoError(t, err)

	require.NoError(t, m.Delete(info.ID))
	assert.NoFileExists(t, info.Path)

	_, err = m.Get(info.ID)
	assert.ErrorIs(t, err, backup.ErrBackupNotFound)

	err = m.Delete(info.ID)
	assert.ErrorIs(t, err, backup.ErrBackupNotFound)
}

func TestSchedule_Validation(t *testing.T) {
	conn := openSQLite(t, "source")
	m := newManager(t, conn, backup.Options{})

	_, err := m.AddSchedule("", 24, backup.KindFull, nil)
	assert.Error(t, err)
	_, err = m.AddSchedule("job", 0, backup.KindFull, nil)
	assert.Error(t, err)
	_, err = m.AddSchedule("job", 24, backup.Kind("weird"), nil)
	assert.Error(t, err)

	s, err := m.AddSchedule("job", 24, backup.KindFull, nil)
	require.NoError(t, err)
	assert.True(t, s.NextRun.After(time.Now().UTC().Add(23*time.Hour)))
}

func TestRunScheduledDue(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	m := newManager(t, conn, backup.Options{})

	s, err := m.AddSchedule("nightly", 24, backup.KindSchemaOnly, []string{"users"})
	require.NoError(t, err)

	// Nothing due yet.
	assert.Zero(t, m.RunScheduledDue(context.Background()))

	s.NextRun = time.Now().UTC().Add(-time.Minute)
	ran := m.RunScheduledDue(context.Background())
	assert.Equal(t, 1, ran)
	assert.Len(t, m.List(), 1)

	// NextRun advanced past now regardless of outcome.
	schedules := m.Schedules()
	require.Len(t, schedules, 1)
	assert.True(t, schedules[0].NextRun.After(time.Now().UTC()))
}

func TestCreate_NameWithPathSeparatorRejected(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	dir := t.TempDir()
	m := newManager(t, conn, backup.Options{Dir: dir})

	for _, name := range []string{"../escape", "a/b", `a\b`} {
		_, err := m.Create(context.Background(), name, backup.KindSchemaOnly, nil)
		require.Error(t, err, name)
	}

	// Nothing escaped the backup directory.
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "escape")
	}
}

func TestCreate_FailedRunRecordedInCatalog(t *testing.T) {
	conn := openSQLite(t, "source")
	seedSource(t, conn)
	dir := t.TempDir()
	m := newManager(t, conn, backup.Options{Dir: dir})

	_, err := m.Create(context.Background(), "doomed", backup.KindFull, []string{"no_such_table"})
	require.Error(t, err)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, backup.StatusFailed, list[0].Status)
	assert.NotEmpty(t, list[0].Error)
	assert.Empty(t, list[0].Path)

	// Failed runs carry no artifact and still survive a catalog reload.
	reloaded := newManager(t, conn, backup.Options{Dir: dir})
	list = reloaded.List()
	require.Len(t, list, 1)
	assert.Equal(t, backup.StatusFailed, list[0].Status)
}

type documentConn struct{ engine.Connector }

func (documentConn) Kind() engine.EngineKind { return engine.Mongo }

func TestNew_RequiresRelationalEngine(t *testing.T) {
	_, err := backup.New(documentConn{}, backup.Options{Dir: t.TempDir()})
	assert.Error(t, err)
}
