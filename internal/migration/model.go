package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status is the lifecycle state of a migration.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Migration is one versioned, reversible schema change unit. The checksum
// is computed once at construction and never mutated afterwards; a mismatch
// against the tracking table is an integrity violation.
type Migration struct {
	Version     string     `json:"version"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	UpSQL       []string   `json:"up_sql"`
	DownSQL     []string   `json:"down_sql"`
	Checksum    string     `json:"checksum"`
	CreatedAt   time.Time  `json:"created_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	Status      Status     `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
}

// computeChecksum hashes version, up statements and down statements into a
// stable hex digest. Any single-character change to the SQL changes it.
func computeChecksum(version string, up, down []string) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(up, "\n")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(down, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
