package manager_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/dbadmin/internal/engine"
	"github.com/leadforge/dbadmin/internal/manager"
)

func sqliteConfig(t *testing.T, name string) engine.ConnectionConfig {
	t.Helper()
	return engine.ConnectionConfig{
		Name:     name,
		Kind:     engine.SQLite,
		Database: filepath.Join(t.TempDir(), name+".db"),
		PoolSize: 2,
		Timeout:  10 * time.Second,
	}
}

func setupManager(t *testing.T) *manager.Manager {
	t.Helper()
	m := manager.New()
	t.Cleanup(m.CloseAll)
	return m
}

func TestAddAndGet(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "primary")))

	conn, err := m.Get("primary")
	require.NoError(t, err)

	status := conn.CheckHealth(ctx)
	assert.True(t, status.Connected)
}

func TestAdd_DuplicateName(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "primary")))

	err := m.Add(ctx, sqliteConfig(t, "primary"))
	require.Error(t, err)
	assert.ErrorIs(t, err, manager.ErrDuplicateConnection)

	// The original connection stays usable.
	conn, err := m.Get("primary")
	require.NoError(t, err)
	assert.True(t, conn.CheckHealth(ctx).Connected)
}

func TestAdd_InvalidConfigRejected(t *testing.T) {
	m := setupManager(t)

	err := m.Add(context.Background(), engine.ConnectionConfig{Name: "bad", Kind: "oracle", Database: "x"})
	require.Error(t, err)

	_, err = m.Get("bad")
	assert.ErrorIs(t, err, manager.ErrConnectionNotFound)
}

func TestRemove(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "primary")))
	require.NoError(t, m.Remove("primary"))

	_, err := m.Get("primary")
	assert.ErrorIs(t, err, manager.ErrConnectionNotFound)

	err = m.Remove("primary")
	assert.ErrorIs(t, err, manager.ErrConnectionNotFound)
}

func TestNames_Sorted(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "zeta")))
	require.NoError(t, m.Add(ctx, sqliteConfig(t, "alpha")))

	assert.Equal(t, []string{"alpha", "zeta"}, m.Names())
}

func TestTest_DoesNotMutateRegistry(t *testing.T) {
	m := setupManager(t)

	ok, err := m.Test(context.Background(), sqliteConfig(t, "probe"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, m.Names())
}

func TestTest_ReportsFailureWithoutRaising(t *testing.T) {
	m := setupManager(t)

	ok, err := m.Test(context.Background(), engine.ConnectionConfig{
		Name: "bad", Kind: "oracle", Database: "x",
	})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "primary")))

	status, err := m.Health(ctx, "primary")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.GreaterOrEqual(t, status.ResponseTimeMS, 0.0)

	_, err = m.Health(ctx, "missing")
	assert.ErrorIs(t, err, manager.ErrConnectionNotFound)
}

func TestCloseAll_EmptiesRegistry(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, sqliteConfig(t, "a")))
	require.NoError(t, m.Add(ctx, sqliteConfig(t, "b")))

	m.CloseAll()
	assert.Empty(t, m.Names())

	// A second sweep over the empty registry is harmless.
	m.CloseAll()
}

func TestConfig_ReturnsRegisteredConfig(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	cfg := sqliteConfig(t, "primary")
	require.NoError(t, m.Add(ctx, cfg))

	got, err := m.Config("primary")
	require.NoError(t, err)
	assert.Equal(t, cfg.Database, got.Database)
	assert.Equal(t, engine.SQLite, got.Kind)
}
