// Package store persists an audit log of round completions and blame
// failures to Postgres, in a Connect/InitSchema/Save* shape. The relay
// treats it as optional and warns and continues without persistence when
// it is unavailable.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store is a Postgres-backed audit log. Blame failures are appended;
// round completions are kept as one row per (phase, round).
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the connection pool to Postgres.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}
	log.Println("store: connected to Postgres for round/blame audit log")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded schema. Embedding schema.sql avoids a
// working-directory dependency for a long-running relay process.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	log.Println("store: schema initialized")
	return nil
}

// SaveRoundCompletion records a completed base or bulk round, replacing
// the recovered count and completion time if that round is already
// recorded.
func (s *Store) SaveRoundCompletion(ctx context.Context, phase string, round uint64, clientSize, recovered int) error {
	sql := `
		INSERT INTO round_completions (phase, round, client_size, recovered_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phase, round) DO UPDATE
		SET recovered_count = EXCLUDED.recovered_count, completed_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, phase, round, clientSize, recovered)
	if err != nil {
		return fmt.Errorf("store: saving round completion: %w", err)
	}
	return nil
}

// SaveBlameFailure records a client flagged by blame verification.
func (s *Store) SaveBlameFailure(ctx context.Context, round, nid uint64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO blame_failures (round, nid) VALUES ($1, $2);`, round, nid)
	if err != nil {
		return fmt.Errorf("store: saving blame failure: %w", err)
	}
	return nil
}

// BlameFailure is one persisted blame-verification failure.
type BlameFailure struct {
	Round uint64 `json:"round"`
	NID   uint64 `json:"nid"`
}

// RecentBlameFailures returns the most recent blame failures, most
// recent first, for internal/dashboard's status feed.
func (s *Store) RecentBlameFailures(ctx context.Context, limit int) ([]BlameFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT round, nid FROM blame_failures ORDER BY observed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying blame failures: %w", err)
	}
	defer rows.Close()

	var out []BlameFailure
	for rows.Next() {
		var f BlameFailure
		if err := rows.Scan(&f.Round, &f.NID); err != nil {
			return nil, fmt.Errorf("store: scanning blame failure: %w", err)
		}
		out = append(out, f)
	}
	if out == nil {
		out = []BlameFailure{}
	}
	return out, nil
}

// LatestRound returns the highest completed round number for phase, or
// 0 if none has completed yet.
func (s *Store) LatestRound(ctx context.Context, phase string) (uint64, error) {
	var round uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(round), 0) FROM round_completions WHERE phase = $1`, phase).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("store: querying latest round: %w", err)
	}
	return round, nil
}
