// Package store provides the SQLite storage layer for clustering runs.
//
// Every run lives in a single SQLite database file, including:
// - Run parameters and provenance (input files, seeds, clamped range)
// - Selected tags with their effect direction and post counts
// - Sweep scores per cluster count
// - Aligned labels and per-cluster post counts
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.tagclust/tagclust.db"

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 20

var (
	ErrNotFound    = errors.New("run not found")
	ErrAmbiguousID = errors.New("run id prefix matches several runs")
	ErrInvalidRun  = errors.New("invalid run")
)

// Run is one persisted clustering run.
type Run struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Metric              int       `json:"metric"`
	Weighted            bool      `json:"weighted"`
	KMin                int       `json:"k_min"`
	KMax                int       `json:"k_max"`
	EffectiveKMin       int       `json:"effective_k_min"`
	EffectiveKMax       int       `json:"effective_k_max"`
	Clamped             bool      `json:"clamped"`
	TopN                int       `json:"top_n"`
	SweepSeed           uint64    `json:"sweep_seed"`
	LabelSeed           *uint64   `json:"label_seed,omitempty"`
	Counts              []int     `json:"counts"`
	AssociationsPath    string    `json:"associations_path,omitempty"`
	ClassificationsPath string    `json:"classifications_path,omitempty"`
	OutputPath          string    `json:"output_path,omitempty"`
	PostCount           int       `json:"post_count"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`

	Tags         []RunTag       `json:"tags,omitempty"`
	Scores       []RunScore     `json:"scores,omitempty"`
	Labels       []RunLabel     `json:"labels,omitempty"`
	ClusterPosts []ClusterPosts `json:"cluster_posts,omitempty"`
}

// RunTag is one selected tag, in selection order.
type RunTag struct {
	Tag       string `json:"tag"`
	Increases bool   `json:"increases"`
	Posts     int    `json:"posts"`
}

// RunScore is the sweep score at one count. Rank is 1-based among the
// ranked counts and 0 for counts that did not make the cut.
type RunScore struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
	Rank       int     `json:"rank"`
}

// RunLabel is the aligned label of a tag at one count.
type RunLabel struct {
	K     int    `json:"k"`
	Tag   string `json:"tag"`
	Label int    `json:"label"`
}

// ClusterPosts is the distinct post count of one aligned cluster.
type ClusterPosts struct {
	K     int `json:"k"`
	Label int `json:"label"`
	Posts int `json:"posts"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Metric     int       `json:"metric"`
	Weighted   bool      `json:"weighted"`
	Counts     []int     `json:"counts"`
	TagCount   int       `json:"tag_count"`
	PostCount  int       `json:"post_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ListOpts controls pagination and filtering for ListRuns.
type ListOpts struct {
	Limit  int
	Offset int
	Name   string // exact run name filter
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	RunCount    int64      `json:"run_count"`
	TagCount    int64      `json:"tag_count"`
	LabelCount  int64      `json:"label_count"`
	DBSizeBytes int64      `json:"db_size_bytes"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the run storage interface.
type Store interface {
	SaveRun(ctx context.Context, r *Run) error
	// GetRun accepts a full run ID or a unique prefix of one.
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOpts) ([]*RunSummary, error)
	DeleteRun(ctx context.Context, id string) error

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	cfg.DBPath = ExpandPath(cfg.DBPath)

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Stats returns row counts and the database size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM runs", &stats.RunCount},
		{"SELECT COUNT(*) FROM run_tags", &stats.TagCount},
		{"SELECT COUNT(*) FROM run_labels", &stats.LabelCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(started_at) FROM runs").Scan(&last); err != nil {
		return nil, fmt.Errorf("querying last run: %w", err)
	}
	if last.Valid {
		if t, err := parseTime(last.String); err == nil {
			stats.LastRunAt = &t
		}
	}

	// Get DB size (only works for file-based DBs)
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) (time.Time, error) { return time.Parse(timeLayout, v) }
