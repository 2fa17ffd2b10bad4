// Package postgres provides the Postgres-backed StateStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// StateStore persists targets and verdicts in Postgres. The verdicts
// table is append-only; a current flag marks each target's latest row.
type StateStore struct {
	pool pgxPool
}

// NewStateStore creates a Postgres-backed StateStore from the config.
func NewStateStore(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &StateStore{pool: pool}, nil
}

// NewStateStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewStateStoreWithPool(pool pgxPool) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StateStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InitSchema creates the tables when they do not exist yet.
func (s *StateStore) InitSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS targets (
	identifier      TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	discovered_at   TIMESTAMPTZ NOT NULL,
	last_visited_at TIMESTAMPTZ,
	visit_count     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS verdicts (
	id           TEXT PRIMARY KEY,
	identifier   TEXT NOT NULL REFERENCES targets(identifier),
	kind         TEXT NOT NULL,
	label        TEXT NOT NULL,
	probability  DOUBLE PRECISION NOT NULL,
	rule_signals JSONB NOT NULL DEFAULT '[]',
	model_score  DOUBLE PRECISION,
	band         TEXT NOT NULL,
	source_hash  TEXT NOT NULL,
	snapshot_uri TEXT NOT NULL DEFAULT '',
	produced_at  TIMESTAMPTZ NOT NULL,
	current      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS verdicts_identifier_idx ON verdicts (identifier, produced_at DESC);
CREATE INDEX IF NOT EXISTS verdicts_band_idx ON verdicts (band) WHERE current;
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// UpsertTarget registers a target, keeping the earliest discovery time on
// conflict.
func (s *StateStore) UpsertTarget(ctx context.Context, target pipeline.Target) error {
	status := target.Status
	if status == "" {
		status = pipeline.StatusPending
	}
	const query = `
INSERT INTO targets (identifier, kind, discovered_at, visit_count, status)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (identifier) DO UPDATE
SET discovered_at = LEAST(targets.discovered_at, EXCLUDED.discovered_at)`
	if _, err := s.pool.Exec(ctx, query, target.Identifier, target.Kind, target.DiscoveredAt, status); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

const targetColumns = `identifier, kind, discovered_at, last_visited_at, visit_count, status`

// GetTarget fetches a target by identifier.
func (s *StateStore) GetTarget(ctx context.Context, identifier string) (pipeline.Target, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE identifier = $1`, identifier)
	target, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Target{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Target{}, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// SetTargetStatus updates the lifecycle status of a target.
func (s *StateStore) SetTargetStatus(ctx context.Context, identifier string, status pipeline.TargetStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE targets SET status = $2 WHERE identifier = $1`, identifier, status)
	if err != nil {
		return fmt.Errorf("set target status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// SaveVerdict appends the verdict, flips the current flag, and bumps the
// target's visit bookkeeping in one transaction.
func (s *StateStore) SaveVerdict(ctx context.Context, verdict pipeline.Verdict) error {
	signals, err := json.Marshal(verdict.RuleSignals)
	if err != nil {
		return fmt.Errorf("marshal rule signals: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save verdict: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE verdicts SET current = FALSE WHERE identifier = $1 AND current`,
		verdict.Identifier,
	); err != nil {
		return fmt.Errorf("retire current verdict: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO verdicts (id, identifier, kind, label, probability, rule_signals,
	model_score, band, source_hash, snapshot_uri, produced_at, current)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)`,
		verdict.ID, verdict.Identifier, verdict.Kind, verdict.Label, verdict.Probability,
		signals, verdict.ModelScore, verdict.Band, verdict.SourceHash, verdict.SnapshotURI,
		verdict.ProducedAt,
	); err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE targets
SET last_visited_at = $2, visit_count = visit_count + 1, status = $3
WHERE identifier = $1`,
		verdict.Identifier, verdict.ProducedAt, pipeline.StatusDone,
	)
	if err != nil {
		return fmt.Errorf("update target bookkeeping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save verdict: %w", err)
	}
	return nil
}

const verdictColumns = `id, identifier, kind, label, probability, rule_signals,
	model_score, band, source_hash, snapshot_uri, produced_at`

// CurrentVerdict returns the latest verdict for a target.
func (s *StateStore) CurrentVerdict(ctx context.Context, identifier string) (pipeline.Verdict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE identifier = $1 AND current`, identifier)
	verdict, err := scanVerdict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Verdict{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Verdict{}, fmt.Errorf("current verdict: %w", err)
	}
	return verdict, nil
}

// VerdictHistory returns past verdicts, newest first.
func (s *StateStore) VerdictHistory(ctx context.Context, identifier string, limit int) ([]pipeline.Verdict, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE identifier = $1 ORDER BY produced_at DESC LIMIT $2`,
		identifier, limit)
	if err != nil {
		return nil, fmt.Errorf("verdict history: %w", err)
	}
	defer rows.Close()

	verdicts, err := collectVerdicts(rows)
	if err != nil {
		return nil, fmt.Errorf("verdict history: %w", err)
	}
	if len(verdicts) == 0 {
		return nil, pipeline.ErrNotFound
	}
	return verdicts, nil
}

// ListResumable returns every target that has not permanently failed,
// with its current verdict when one exists.
func (s *StateStore) ListResumable(ctx context.Context) ([]pipeline.ResumeEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.identifier, t.kind, t.discovered_at, t.last_visited_at, t.visit_count, t.status,
	v.label, v.probability
FROM targets t
LEFT JOIN verdicts v ON v.identifier = t.identifier AND v.current
WHERE t.status <> $1
ORDER BY t.identifier`, pipeline.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list resumable: %w", err)
	}
	defer rows.Close()

	var entries []pipeline.ResumeEntry
	for rows.Next() {
		var (
			entry       pipeline.ResumeEntry
			lastVisited *time.Time
			label       *string
			probability *float64
		)
		if err := rows.Scan(
			&entry.Target.Identifier, &entry.Target.Kind, &entry.Target.DiscoveredAt,
			&lastVisited, &entry.Target.VisitCount, &entry.Target.Status,
			&label, &probability,
		); err != nil {
			return nil, fmt.Errorf("list resumable: %w", err)
		}
		entry.Target.LastVisitedAt = lastVisited
		if label != nil {
			entry.HasVerdict = true
			entry.Label = pipeline.Label(*label)
			if probability != nil {
				entry.Probability = *probability
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resumable: %w", err)
	}
	return entries, nil
}

// ListByRiskBand returns current verdicts in the given band, newest first.
func (s *StateStore) ListByRiskBand(ctx context.Context, band pipeline.RiskBand, limit, offset int) ([]pipeline.Verdict, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE current AND band = $1 ORDER BY produced_at DESC, identifier LIMIT $2 OFFSET $3`,
		band, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by risk band: %w", err)
	}
	defer rows.Close()

	verdicts, err := collectVerdicts(rows)
	if err != nil {
		return nil, fmt.Errorf("list by risk band: %w", err)
	}
	return verdicts, nil
}

// Stats aggregates target and verdict counts.
func (s *StateStore) Stats(ctx context.Context) (pipeline.Stats, error) {
	stats := pipeline.Stats{
		ByStatus: make(map[pipeline.TargetStatus]int),
		ByLabel:  make(map[pipeline.Label]int),
	}

	statusRows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM targets GROUP BY status`)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("stats by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var (
			status pipeline.TargetStatus
			count  int
		)
		if err := statusRows.Scan(&status, &count); err != nil {
			return pipeline.Stats{}, fmt.Errorf("stats by status: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TargetsTotal += count
	}
	if err := statusRows.Err(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("stats by status: %w", err)
	}

	labelRows, err := s.pool.Query(ctx, `SELECT label, COUNT(*) FROM verdicts WHERE current GROUP BY label`)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("stats by label: %w", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var (
			label pipeline.Label
			count int
		)
		if err := labelRows.Scan(&label, &count); err != nil {
			return pipeline.Stats{}, fmt.Errorf("stats by label: %w", err)
		}
		stats.ByLabel[label] = count
	}
	if err := labelRows.Err(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("stats by label: %w", err)
	}
	return stats, nil
}

func scanTarget(row pgx.Row) (pipeline.Target, error) {
	var (
		target      pipeline.Target
		lastVisited *time.Time
	)
	if err := row.Scan(
		&target.Identifier, &target.Kind, &target.DiscoveredAt,
		&lastVisited, &target.VisitCount, &target.Status,
	); err != nil {
		return pipeline.Target{}, err
	}
	target.LastVisitedAt = lastVisited
	return target, nil
}

func scanVerdict(row pgx.Row) (pipeline.Verdict, error) {
	var (
		verdict pipeline.Verdict
		signals []byte
	)
	if err := row.Scan(
		&verdict.ID, &verdict.Identifier, &verdict.Kind, &verdict.Label, &verdict.Probability,
		&signals, &verdict.ModelScore, &verdict.Band, &verdict.SourceHash,
		&verdict.SnapshotURI, &verdict.ProducedAt,
	); err != nil {
		return pipeline.Verdict{}, err
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &verdict.RuleSignals); err != nil {
			return pipeline.Verdict{}, fmt.Errorf("decode rule signals: %w", err)
		}
	}
	return verdict, nil
}

func collectVerdicts(rows pgx.Rows) ([]pipeline.Verdict, error) {
	var verdicts []pipeline.Verdict
	for rows.Next() {
		verdict, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, verdict)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return verdicts, nil
}
