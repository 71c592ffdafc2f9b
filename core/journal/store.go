// Package journal persists every robot command handled by the relay together
// with its outcome, and answers filtered queries over that history.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/mutorelay/core/model"
)

// Record captures one handled command.
type Record struct {
	Timestamp time.Time            `json:"timestamp"`
	CommandID string               `json:"command_id"`
	ClientID  string               `json:"client_id"`
	Event     string               `json:"event"`
	Calls     []model.WheelCommand `json:"calls,omitempty"`
	Beep      *bool                `json:"beep,omitempty"`
	Outcome   string               `json:"outcome"`
	Error     string               `json:"error,omitempty"`
	LatencyMS float64              `json:"latency_ms"`
}

// Query defines filters for retrieving records. Zero values do not filter.
type Query struct {
	Start    time.Time
	End      time.Time
	ClientID string
	Outcome  string
	// Limit keeps only the most recent records.
	Limit int
}

// Match reports whether r passes the filters other than Limit.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.ClientID != "" && r.ClientID != q.ClientID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects the journal backend.
type Config struct {
	// Backend is "none", "jsonl" or "sqlite".
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	// Token protects the query endpoint when set.
	Token string `json:"token"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "mutorelay.db"
		default:
			c.Path = "logs/commands.jsonl"
		}
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
}

// Open creates the configured store. The "none" backend returns NopStore.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	switch cfg.Backend {
	case "none":
		return NopStore{}, nil
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
