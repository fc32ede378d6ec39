// Package config loads toolkit configuration from environment variables.
package config

import "github.com/kelseyhightower/envconfig"

// Config holds engine configuration loaded from environment variables.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// ConnectionsFile is an optional JSON file of connection configs
	// registered at startup. Credentials are resolved per connection from
	// DBADMIN_PASSWORD_<NAME> variables, never from the file itself.
	ConnectionsFile string `envconfig:"CONNECTIONS_FILE" default:""`

	BackupDir       string `envconfig:"BACKUP_DIR" default:"backups"`
	MaxBackups      int    `envconfig:"MAX_BACKUPS" default:"10"`
	CompressBackups bool   `envconfig:"COMPRESS_BACKUPS" default:"true"`

	SlowQueryMS       int `envconfig:"SLOW_QUERY_MS" default:"1000"`
	MetricsBufferSize int `envconfig:"METRICS_BUFFER_SIZE" default:"1000"`

	DefaultPoolSize    int `envconfig:"DEFAULT_POOL_SIZE" default:"5"`
	DefaultMaxOverflow int `envconfig:"DEFAULT_MAX_OVERFLOW" default:"10"`
	ConnectTimeoutSec  int `envconfig:"CONNECT_TIMEOUT_SEC" default:"30"`

	// ScheduleTickSec is how often the scheduled-backup loop checks for
	// due jobs.
	ScheduleTickSec int `envconfig:"SCHEDULE_TICK_SEC" default:"60"`
}

// Load reads configuration from DBADMIN_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("dbadmin", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
