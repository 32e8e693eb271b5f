package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schemaVersion is bumped by evolution steps that change table shapes.
const schemaVersion = "2"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction, meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: record where the output table was written.
	if err := s.migrateOutputPathColumn(); err != nil {
		return fmt.Errorf("migrating output_path column: %w", err)
	}

	// Schema evolution: lookup indexes for list and detail views.
	if err := s.migrateRunIndexes(); err != nil {
		return fmt.Errorf("migrating run indexes: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			metric               INTEGER NOT NULL,
			weighted             INTEGER NOT NULL DEFAULT 0,
			k_min                INTEGER NOT NULL,
			k_max                INTEGER NOT NULL,
			effective_k_min      INTEGER NOT NULL,
			effective_k_max      INTEGER NOT NULL,
			clamped              INTEGER NOT NULL DEFAULT 0,
			top_n                INTEGER NOT NULL,
			sweep_seed           TEXT NOT NULL,
			label_seed           TEXT,
			counts               TEXT NOT NULL DEFAULT '[]',
			associations_path    TEXT NOT NULL DEFAULT '',
			classifications_path TEXT NOT NULL DEFAULT '',
			post_count           INTEGER NOT NULL DEFAULT 0,
			started_at           TEXT NOT NULL,
			finished_at          TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS run_tags (
			run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position  INTEGER NOT NULL,
			tag       TEXT NOT NULL,
			increases INTEGER NOT NULL,
			posts     INTEGER NOT NULL,
			PRIMARY KEY (run_id, tag)
		)`,

		`CREATE TABLE IF NOT EXISTS run_scores (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			k          INTEGER NOT NULL,
			inertia    REAL NOT NULL,
			silhouette REAL NOT NULL,
			rank       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, k)
		)`,

		`CREATE TABLE IF NOT EXISTS run_labels (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			k      INTEGER NOT NULL,
			tag    TEXT NOT NULL,
			label  INTEGER NOT NULL,
			PRIMARY KEY (run_id, k, tag)
		)`,

		`CREATE TABLE IF NOT EXISTS run_cluster_posts (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			k      INTEGER NOT NULL,
			label  INTEGER NOT NULL,
			posts  INTEGER NOT NULL,
			PRIMARY KEY (run_id, k, label)
		)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateOutputPathColumn adds runs.output_path if it doesn't exist.
func (s *SQLiteStore) migrateOutputPathColumn() error {
	// Check if column already exists
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name='output_path'").Scan(&count)
	if err != nil {
		return fmt.Errorf("checking output_path column: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.db.Exec("ALTER TABLE runs ADD COLUMN output_path TEXT NOT NULL DEFAULT ''")
	if err != nil && !isDuplicateColumnError(err) {
		return fmt.Errorf("adding output_path column: %w", err)
	}
	_, err = s.db.Exec("UPDATE meta SET value = ? WHERE key = 'schema_version'", schemaVersion)
	return err
}

// migrateRunIndexes adds indexes for the list view and label lookups.
func (s *SQLiteStore) migrateRunIndexes() error {
	done, err := s.isMetaFlagEnabled("run_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_run_labels_cluster ON run_labels(run_id, k, label)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating index %q: %w", truncate(stmt, 60), err)
		}
	}
	return s.setMetaFlag("run_indexes_v1")
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
