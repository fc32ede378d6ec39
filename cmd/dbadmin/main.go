package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadforge/dbadmin/internal/backup"
	"github.com/leadforge/dbadmin/internal/config"
	"github.com/leadforge/dbadmin/internal/engine"
	"github.com/leadforge/dbadmin/internal/manager"
	"github.com/leadforge/dbadmin/internal/monitor"
)

func main() {
	// .env is a development convenience; its absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	mgr := manager.New()
	defer mgr.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ConnectionsFile != "" {
		if err := registerConnections(ctx, mgr, cfg); err != nil {
			slog.Error("failed to register connections", "error", err)
			os.Exit(1)
		}
	}

	backupMgr, err := setupScheduledBackups(mgr, cfg)
	if err != nil {
		slog.Error("failed to set up scheduled backups", "error", err)
		os.Exit(1)
	}

	monitors := setupMonitors(mgr, cfg)

	go healthLoop(ctx, mgr, time.Duration(cfg.ScheduleTickSec)*time.Second)
	go latencyLoop(ctx, monitors, time.Duration(cfg.ScheduleTickSec)*time.Second)
	if backupMgr != nil {
		go scheduleLoop(ctx, backupMgr, time.Duration(cfg.ScheduleTickSec)*time.Second)
	}

	slog.Info("dbadmin started", "connections", mgr.Names())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	cancel()
	mgr.CloseAll()
	slog.Info("stopped gracefully")
}

// registerConnections loads the connections file and registers each entry.
// Passwords come from DBADMIN_PASSWORD_<NAME> so credentials never live in
// the file.
func registerConnections(ctx context.Context, mgr *manager.Manager, cfg *config.Config) error {
	data, err := os.ReadFile(cfg.ConnectionsFile)
	if err != nil {
		return fmt.Errorf("reading connections file: %w", err)
	}

	var configs []engine.ConnectionConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parsing connections file: %w", err)
	}

	for _, c := range configs {
		if c.PoolSize == 0 {
			c.PoolSize = cfg.DefaultPoolSize
		}
		if c.MaxOverflow == 0 {
			c.MaxOverflow = cfg.DefaultMaxOverflow
		}
		if c.Timeout == 0 {
			c.Timeout = time.Duration(cfg.ConnectTimeoutSec) * time.Second
		}
		c.Password = os.Getenv("DBADMIN_PASSWORD_" + strings.ToUpper(c.Name))

		if err := mgr.Add(ctx, c); err != nil {
			slog.Error("skipping connection", "name", c.Name, "error", err)
			continue
		}
	}
	return nil
}

// setupScheduledBackups wires a backup manager for the connection named by
// DBADMIN_BACKUP_CONNECTION, when set.
func setupScheduledBackups(mgr *manager.Manager, cfg *config.Config) (*backup.Manager, error) {
	target := os.Getenv("DBADMIN_BACKUP_CONNECTION")
	if target == "" {
		return nil, nil
	}

	conn, err := mgr.Get(target)
	if err != nil {
		return nil, err
	}

	backupMgr, err := backup.New(conn, backup.Options{
		Dir:        cfg.BackupDir,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.CompressBackups,
	})
	if err != nil {
		return nil, err
	}

	intervalHours := 24
	if v := os.Getenv("DBADMIN_BACKUP_INTERVAL_HOURS"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &intervalHours); err != nil {
			return nil, fmt.Errorf("parsing DBADMIN_BACKUP_INTERVAL_HOURS: %w", err)
		}
	}
	if _, err := backupMgr.AddSchedule(target, intervalHours, backup.KindFull, nil); err != nil {
		return nil, err
	}
	return backupMgr, nil
}

// healthLoop probes every registered connection on a ticker and logs
// degraded ones. It blocks until ctx is cancelled.
func healthLoop(ctx context.Context, mgr *manager.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range mgr.Names() {
				status, err := mgr.Health(ctx, name)
				if err != nil {
					slog.Error("health check failed", "name", name, "error", err)
					continue
				}
				if !status.Connected {
					slog.Warn("connection degraded", "name", name, "error", status.Error)
				} else {
					slog.Debug("connection healthy", "name", name, "responseMs", status.ResponseTimeMS)
				}
			}
		}
	}
}

// setupMonitors builds one query monitor per relational connection.
func setupMonitors(mgr *manager.Manager, cfg *config.Config) map[string]*monitor.Monitor {
	threshold := time.Duration(cfg.SlowQueryMS) * time.Millisecond

	monitors := make(map[string]*monitor.Monitor)
	for _, name := range mgr.Names() {
		conn, err := mgr.Get(name)
		if err != nil || !conn.Kind().Relational() {
			continue
		}
		monitors[name] = monitor.New(conn, threshold, cfg.MetricsBufferSize)
	}
	return monitors
}

// latencyLoop sends a trivial probe query through each connection's monitor
// so the ring buffer accumulates a latency baseline, and reports any slow
// probes. It blocks until ctx is cancelled.
func latencyLoop(ctx context.Context, monitors map[string]*monitor.Monitor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, mon := range monitors {
				if _, _, err := mon.ExecuteWithMonitoring(ctx, "SELECT 1", nil, false); err != nil {
					slog.Warn("latency probe failed", "name", name, "error", err)
				}
				if slow := mon.SlowQueries(); len(slow) > 0 {
					slog.Warn("slow queries accumulated", "name", name, "count", len(slow))
					mon.ClearSlowQueries()
				}
			}
		}
	}
}

// scheduleLoop drives the backup scheduler. It blocks until ctx is
// cancelled.
func scheduleLoop(ctx context.Context, backupMgr *backup.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ran := backupMgr.RunScheduledDue(ctx); ran > 0 {
				slog.Info("scheduled backups completed", "count", ran)
			}
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
