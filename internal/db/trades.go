package db

import (
	"context"
	"fmt"
	"time"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// SaveTrade appends one executed-order record. Trades are append-only --
// a rejected order is recorded as rejected, never updated in place.
func (s *Store) SaveTrade(ctx context.Context, t types.Trade) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		const query = `
			INSERT INTO trades (
				id, session_id, asset_id, side, order_type,
				requested_price, executed_price, requested_quantity,
				executed_quantity, fee, total_value, state,
				upstream_order_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		_, err := s.pool.Exec(ctx, query,
			t.ID, t.SessionID, t.AssetID, t.Side, t.OrderType,
			t.RequestedPrice, t.ExecutedPrice, t.RequestedQuantity,
			t.ExecutedQuantity, t.Fee, t.TotalValue, t.State,
			t.UpstreamOrderID, created,
		)
		if err != nil {
			return fmt.Errorf("db: save trade %s: %w", t.ID, err)
		}
		return nil
	})
}

// ListTrades returns the most recent trades for assetID (all assets when
// empty), newest first, capped at limit.
func (s *Store) ListTrades(ctx context.Context, assetID string, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, session_id, asset_id, side, order_type,
			requested_price, executed_price, requested_quantity,
			executed_quantity, fee, total_value, state,
			upstream_order_id, created_at
		FROM trades
	`
	args := []interface{}{}
	if assetID != "" {
		query += ` WHERE asset_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, assetID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	var out []types.Trade
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("db: list trades: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t types.Trade
			if err := rows.Scan(
				&t.ID, &t.SessionID, &t.AssetID, &t.Side, &t.OrderType,
				&t.RequestedPrice, &t.ExecutedPrice, &t.RequestedQuantity,
				&t.ExecutedQuantity, &t.Fee, &t.TotalValue, &t.State,
				&t.UpstreamOrderID, &t.CreatedAt,
			); err != nil {
				return fmt.Errorf("db: scan trade: %w", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}
