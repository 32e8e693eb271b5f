package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// SaveRun writes a run and all of its child rows in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *Run) error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("missing run id: %w", ErrInvalidRun)
	}
	counts, err := json.Marshal(nonNilInts(r.Counts))
	if err != nil {
		return fmt.Errorf("encoding counts: %w", err)
	}
	var labelSeed sql.NullString
	if r.LabelSeed != nil {
		labelSeed = sql.NullString{String: strconv.FormatUint(*r.LabelSeed, 10), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, name, metric, weighted, k_min, k_max, effective_k_min, effective_k_max,
			clamped, top_n, sweep_seed, label_seed, counts, associations_path, classifications_path,
			output_path, post_count, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Metric, boolInt(r.Weighted), r.KMin, r.KMax, r.EffectiveKMin, r.EffectiveKMax,
		boolInt(r.Clamped), r.TopN, strconv.FormatUint(r.SweepSeed, 10), labelSeed, string(counts),
		r.AssociationsPath, r.ClassificationsPath, r.OutputPath, r.PostCount,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, t := range r.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_tags (run_id, position, tag, increases, posts) VALUES (?, ?, ?, ?, ?)`,
			r.ID, i, t.Tag, boolInt(t.Increases), t.Posts,
		); err != nil {
			return fmt.Errorf("inserting tag %q: %w", t.Tag, err)
		}
	}
	for _, sc := range r.Scores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_scores (run_id, k, inertia, silhouette, rank) VALUES (?, ?, ?, ?, ?)`,
			r.ID, sc.K, sc.Inertia, sc.Silhouette, sc.Rank,
		); err != nil {
			return fmt.Errorf("inserting score k=%d: %w", sc.K, err)
		}
	}
	for _, l := range r.Labels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_labels (run_id, k, tag, label) VALUES (?, ?, ?, ?)`,
			r.ID, l.K, l.Tag, l.Label,
		); err != nil {
			return fmt.Errorf("inserting label k=%d tag %q: %w", l.K, l.Tag, err)
		}
	}
	for _, cp := range r.ClusterPosts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_cluster_posts (run_id, k, label, posts) VALUES (?, ?, ?, ?)`,
			r.ID, cp.K, cp.Label, cp.Posts,
		); err != nil {
			return fmt.Errorf("inserting cluster posts k=%d label %d: %w", cp.K, cp.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// GetRun loads a run with all child rows.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	r := &Run{}
	var (
		weighted, clamped     int
		sweepSeed, counts     string
		labelSeed             sql.NullString
		startedAt, finishedAt string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, metric, weighted, k_min, k_max, effective_k_min, effective_k_max, clamped,
			top_n, sweep_seed, label_seed, counts, associations_path, classifications_path, output_path,
			post_count, started_at, finished_at
		 FROM runs WHERE id = ?`, fullID,
	).Scan(&r.ID, &r.Name, &r.Metric, &weighted, &r.KMin, &r.KMax, &r.EffectiveKMin, &r.EffectiveKMax,
		&clamped, &r.TopN, &sweepSeed, &labelSeed, &counts, &r.AssociationsPath, &r.ClassificationsPath,
		&r.OutputPath, &r.PostCount, &startedAt, &finishedAt)
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", fullID, err)
	}
	r.Weighted = weighted != 0
	r.Clamped = clamped != 0
	if r.SweepSeed, err = strconv.ParseUint(sweepSeed, 10, 64); err != nil {
		return nil, fmt.Errorf("parsing sweep seed: %w", err)
	}
	if labelSeed.Valid {
		v, err := strconv.ParseUint(labelSeed.String, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing label seed: %w", err)
		}
		r.LabelSeed = &v
	}
	if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
		return nil, fmt.Errorf("decoding counts: %w", err)
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}

	if err := s.loadChildren(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, r *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, increases, posts FROM run_tags WHERE run_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}
	for rows.Next() {
		var t RunTag
		var inc int
		if err := rows.Scan(&t.Tag, &inc, &t.Posts); err != nil {
			rows.Close()
			return fmt.Errorf("scanning tag: %w", err)
		}
		t.Increases = inc != 0
		r.Tags = append(r.Tags, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT k, inertia, silhouette, rank FROM run_scores WHERE run_id = ? ORDER BY k`, r.ID)
	if err != nil {
		return fmt.Errorf("listing scores: %w", err)
	}
	for rows.Next() {
		var sc RunScore
		if err := rows.Scan(&sc.K, &sc.Inertia, &sc.Silhouette, &sc.Rank); err != nil {
			rows.Close()
			return fmt.Errorf("scanning score: %w", err)
		}
		r.Scores = append(r.Scores, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT l.k, l.tag, l.label FROM run_labels l
		 JOIN run_tags t ON t.run_id = l.run_id AND t.tag = l.tag
		 WHERE l.run_id = ? ORDER BY l.k, t.position`, r.ID)
	if err != nil {
		return fmt.Errorf("listing labels: %w", err)
	}
	for rows.Next() {
		var l RunLabel
		if err := rows.Scan(&l.K, &l.Tag, &l.Label); err != nil {
			rows.Close()
			return fmt.Errorf("scanning label: %w", err)
		}
		r.Labels = append(r.Labels, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT k, label, posts FROM run_cluster_posts WHERE run_id = ? ORDER BY k, label`, r.ID)
	if err != nil {
		return fmt.Errorf("listing cluster posts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cp ClusterPosts
		if err := rows.Scan(&cp.K, &cp.Label, &cp.Posts); err != nil {
			return fmt.Errorf("scanning cluster posts: %w", err)
		}
		r.ClusterPosts = append(r.ClusterPosts, cp)
	}
	return rows.Err()
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOpts) ([]*RunSummary, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := `SELECT r.id, r.name, r.metric, r.weighted, r.counts, r.post_count, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM run_tags t WHERE t.run_id = r.id)
		FROM runs r`
	var args []interface{}
	if opts.Name != "" {
		query += ` WHERE r.name = ?`
		args = append(args, opts.Name)
	}
	query += ` ORDER BY r.started_at DESC, r.id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*RunSummary
	for rows.Next() {
		sum := &RunSummary{}
		var (
			weighted              int
			counts                string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Metric, &weighted, &counts, &sum.PostCount,
			&startedAt, &finishedAt, &sum.TagCount); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		sum.Weighted = weighted != 0
		if err := json.Unmarshal([]byte(counts), &sum.Counts); err != nil {
			return nil, fmt.Errorf("decoding counts of %s: %w", sum.ID, err)
		}
		sum.StartedAt, _ = parseTime(startedAt)
		sum.FinishedAt, _ = parseTime(finishedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its child rows. Children are deleted
// explicitly: foreign_keys is a per-connection pragma and the pool may hand
// out a connection that never saw it.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"run_cluster_posts", "run_labels", "run_scores", "run_tags"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, fullID); err != nil {
			return fmt.Errorf("deleting %s of %s: %w", table, fullID, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, fullID)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", fullID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", fullID, ErrNotFound)
	}
	return tx.Commit()
}

// resolveID expands a unique ID prefix to the full run ID.
func (s *SQLiteStore) resolveID(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("empty run id: %w", ErrNotFound)
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(id) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, id, pattern)
	if err != nil {
		return "", fmt.Errorf("resolving run id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", err
		}
		if m == id {
			return m, nil
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%s: %w", id, ErrAmbiguousID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
