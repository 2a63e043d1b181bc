package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// SaveQueuedTrade upserts q by ID. The Proposal and its nested Analyses are
// marshaled to JSON -- the same "append-only reasoning log" shape the
// proposal already carries in memory -- rather than normalized into their
// own tables, since nothing ever queries across queued trades by
// proposal field.
func (s *Store) SaveQueuedTrade(ctx context.Context, q types.QueuedTrade) error {
	proposal, err := json.Marshal(q.Proposal)
	if err != nil {
		return fmt.Errorf("db: marshal queued trade %s proposal: %w", q.ID, err)
	}
	return s.withBreaker(ctx, func(ctx context.Context) error {
		const query = `
			INSERT INTO queued_trades (id, asset_id, proposal, status, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				proposal = EXCLUDED.proposal,
				status = EXCLUDED.status,
				reason = EXCLUDED.reason,
				updated_at = EXCLUDED.updated_at
		`
		created := q.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		updated := q.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		_, err := s.pool.Exec(ctx, query, q.ID, q.Proposal.AssetID, proposal, q.Status, q.Reason, created, updated)
		if err != nil {
			return fmt.Errorf("db: save queued trade %s: %w", q.ID, err)
		}
		return nil
	})
}

// ListQueuedTrades returns every queued trade still pending or processing,
// oldest first -- the order Coordinator.DrainQueue re-enters them in.
func (s *Store) ListQueuedTrades(ctx context.Context) ([]types.QueuedTrade, error) {
	const query = `
		SELECT id, proposal, status, reason, created_at, updated_at
		FROM queued_trades
		WHERE status IN ($1, $2)
		ORDER BY created_at
	`
	var out []types.QueuedTrade
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, types.QueuePending, types.QueueProcessing)
		if err != nil {
			return fmt.Errorf("db: list queued trades: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var q types.QueuedTrade
			var proposal []byte
			if err := rows.Scan(&q.ID, &proposal, &q.Status, &q.Reason, &q.CreatedAt, &q.UpdatedAt); err != nil {
				return fmt.Errorf("db: scan queued trade: %w", err)
			}
			if err := json.Unmarshal(proposal, &q.Proposal); err != nil {
				return fmt.Errorf("db: unmarshal queued trade %s proposal: %w", q.ID, err)
			}
			out = append(out, q)
		}
		return rows.Err()
	})
	return out, err
}
