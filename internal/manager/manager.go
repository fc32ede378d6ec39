// Package manager owns the named registry of configured database
// connections. It is the only component that opens and closes pools; every
// other component borrows a Connector handle for the duration of one
// operation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leadforge/dbadmin/internal/engine"
)

// ErrConnectionNotFound is returned when no connection is registered under
// the requested name.
var ErrConnectionNotFound = errors.New("connection not found")

// ErrDuplicateConnection is returned when a connection with the same name
// is already registered.
var ErrDuplicateConnection = errors.New("connection name already registered")

type entry struct {
	cfg  engine.ConnectionConfig
	conn engine.Connector
}

// Manager is an explicitly constructed connection registry. The caller owns
// its lifecycle: construct with New, tear down with CloseAll. The registry
// lock is distinct from any individual pool's internal locking.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty connection registry.
func New() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Add registers cfg under its name, constructs the matching adapter and
// opens its pool. The original connection stays untouched when a duplicate
// name is rejected.
func (m *Manager) Add(ctx context.Context, cfg engine.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.entries[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("adding connection %q: %w", cfg.Name, ErrDuplicateConnection)
	}
	// Reserve the name before the (potentially slow) dial so concurrent
	// Adds of the same name cannot both open a pool.
	m.entries[cfg.Name] = nil
	m.mu.Unlock()

	conn, err := engine.Open(ctx, cfg)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, cfg.Name)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.entries[cfg.Name] = &entry{cfg: cfg, conn: conn}
	m.mu.Unlock()

	slog.Info("connection registered", "connection", cfg)
	return nil
}

// Remove closes the named connection's pool and evicts it from the
// registry.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok || e == nil {
		m.mu.Unlock()
		return fmt.Errorf("removing connection %q: %w", name, ErrConnectionNotFound)
	}
	delete(m.entries, name)
	m.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("closing connection %q: %w", name, err)
	}
	slog.Info("connection removed", "name", name)
	return nil
}

// Get returns the live handle registered under name.
func (m *Manager) Get(name string) (engine.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok || e == nil {
		return nil, fmt.Errorf("getting connection %q: %w", name, ErrConnectionNotFound)
	}
	return e.conn, nil
}

// Config returns the configuration registered under name.
func (m *Manager) Config(name string) (engine.ConnectionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok || e == nil {
		return engine.ConnectionConfig{}, fmt.Errorf("getting connection config %q: %w", name, ErrConnectionNotFound)
	}
	return e.cfg, nil
}

// Names returns a sorted list of registered connection names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name, e := range m.entries {
		if e != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Test opens a throwaway adapter for cfg, performs one health probe and
// closes it again. The registry is never mutated. The result is reported as
// (ok, reason) rather than raised.
func (m *Manager) Test(ctx context.Context, cfg engine.ConnectionConfig) (bool, error) {
	conn, err := engine.Open(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	status := conn.CheckHealth(ctx)
	if !status.Connected {
		return false, fmt.Errorf("testing connection %q: %s", cfg.Name, status.Error)
	}
	return true, nil
}

// Health issues a trivial probe against the named connection and returns
// the timed status snapshot.
func (m *Manager) Health(ctx context.Context, name string) (engine.ConnectionStatus, error) {
	conn, err := m.Get(name)
	if err != nil {
		return engine.ConnectionStatus{}, err
	}
	return conn.CheckHealth(ctx), nil
}

// CloseAll closes every registered pool best-effort: individual failures
// are logged, never aborting the sweep.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for name, e := range entries {
		if e == nil {
			continue
		}
		if err := e.conn.Close(); err != nil {
			slog.Error("closing connection failed", "name", name, "error", err)
		}
	}
}
