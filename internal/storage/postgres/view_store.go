// Package postgres provides Postgres-backed persistence for story analytics.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storyprogress/internal/store"
)

// Schema creates the tables used by ViewStore.
const Schema = `
CREATE TABLE IF NOT EXISTS story_runs (
	id            UUID PRIMARY KEY,
	segment_count INTEGER NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	last_segment  INTEGER NOT NULL DEFAULT 0,
	resets        INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS segment_stats (
	story_id    UUID NOT NULL REFERENCES story_runs (id) ON DELETE CASCADE,
	segment     INTEGER NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	views       BIGINT NOT NULL DEFAULT 0,
	pauses      BIGINT NOT NULL DEFAULT 0,
	completions BIGINT NOT NULL DEFAULT 0,
	skips       BIGINT NOT NULL DEFAULT 0,
	dwell_ms    BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (story_id, segment)
);
CREATE INDEX IF NOT EXISTS story_runs_started_at_idx ON story_runs (started_at DESC);
`

// ViewStoreConfig controls the Postgres connection pool.
type ViewStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used by ViewStore; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ViewStore implements store.ViewRepository using Postgres.
type ViewStore struct {
	pool pool
}

var _ store.ViewRepository = (*ViewStore)(nil)

// NewViewStore connects to Postgres using cfg.
func NewViewStore(ctx context.Context, cfg ViewStoreConfig) (*ViewStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ViewStore{pool: p}, nil
}

// NewViewStoreWithPool wraps an existing pool (primarily for testing).
func NewViewStoreWithPool(p pool) (*ViewStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &ViewStore{pool: p}, nil
}

// Migrate applies Schema. It is idempotent.
func (s *ViewStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply story schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *ViewStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertStoryStart inserts a run or restarts an existing one.
func (s *ViewStore) UpsertStoryStart(ctx context.Context, id uuid.UUID, segmentCount int, startedAt time.Time) error {
	query := `
		INSERT INTO story_runs (id, segment_count, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			finished_at = NULL,
			last_segment = 0,
			resets = story_runs.resets + 1;
	`
	if _, err := s.pool.Exec(ctx, query, id, segmentCount, startedAt, string(store.StoryRunning)); err != nil {
		return fmt.Errorf("upsert story start: %w", err)
	}
	return nil
}

// FinishStory marks a run completed or canceled.
func (s *ViewStore) FinishStory(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.StoryStatus,
	lastSegment int,
) error {
	query := `
		UPDATE story_runs
		SET finished_at = $1, status = $2, last_segment = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), lastSegment, id)
	if err != nil {
		return fmt.Errorf("finish story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertSegmentStats applies delta to the (id, segment) row.
func (s *ViewStore) UpsertSegmentStats(
	ctx context.Context,
	id uuid.UUID,
	segment int,
	delta store.SegmentDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO segment_stats (story_id, segment, last_update, views, pauses, completions, skips, dwell_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (story_id, segment) DO UPDATE
		SET views = segment_stats.views + EXCLUDED.views,
			pauses = segment_stats.pauses + EXCLUDED.pauses,
			completions = segment_stats.completions + EXCLUDED.completions,
			skips = segment_stats.skips + EXCLUDED.skips,
			dwell_ms = segment_stats.dwell_ms + EXCLUDED.dwell_ms,
			last_update = GREATEST(segment_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query,
		id,
		segment,
		at,
		delta.Views,
		delta.Pauses,
		delta.Completions,
		delta.Skips,
		delta.Dwell.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert segment stats: %w", err)
	}
	return nil
}

// GetStory retrieves a single run by id.
func (s *ViewStore) GetStory(ctx context.Context, id uuid.UUID) (store.StoryRun, error) {
	query := `
		SELECT id, segment_count, started_at, finished_at, status, last_segment, resets
		FROM story_runs
		WHERE id = $1;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StoryRun{}, store.ErrNotFound
		}
		return store.StoryRun{}, fmt.Errorf("get story: %w", err)
	}
	return run, nil
}

// ListStories returns runs newest first, optionally filtered by status.
func (s *ViewStore) ListStories(
	ctx context.Context,
	status *store.StoryStatus,
	limit,
	offset int,
) ([]store.StoryRun, error) {
	query := `
		SELECT id, segment_count, started_at, finished_at, status, last_segment, resets
		FROM story_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	runs := []store.StoryRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story rows: %w", err)
	}
	return runs, nil
}

// ListSegments returns per-segment stats for one run.
func (s *ViewStore) ListSegments(
	ctx context.Context,
	id uuid.UUID,
	limit,
	offset int,
) ([]store.SegmentStats, error) {
	query := `
		SELECT story_id, segment, last_update, views, pauses, completions, skips, dwell_ms
		FROM segment_stats
		WHERE story_id = $1
		ORDER BY segment ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	stats := []store.SegmentStats{}
	for rows.Next() {
		var (
			stat    store.SegmentStats
			dwellMS int64
		)
		if err := rows.Scan(
			&stat.StoryID,
			&stat.Segment,
			&stat.LastUpdate,
			&stat.Views,
			&stat.Pauses,
			&stat.Completions,
			&stat.Skips,
			&dwellMS,
		); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		stat.Dwell = time.Duration(dwellMS) * time.Millisecond
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.StoryRun, error) {
	var (
		run    store.StoryRun
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.SegmentCount,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.LastSegment,
		&run.Resets,
	); err != nil {
		return store.StoryRun{}, err
	}
	run.Status = store.StoryStatus(status)
	return run, nil
}
