package db

import (
	"context"
	"fmt"
	"time"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// SaveWatchedStock upserts w by AssetID. A watch entry revisits the same
// asset on every pipeline pass (WATCH/AVOID proposals repeat), so this is
// an upsert rather than an append, matching SavePosition's shape.
func (s *Store) SaveWatchedStock(ctx context.Context, w types.WatchedStock) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		const query = `
			INSERT INTO watched_stocks (
				asset_id, signal, confidence, current_price, target_entry,
				stop_loss, take_profit, summary, status, added_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (asset_id) DO UPDATE SET
				signal = EXCLUDED.signal,
				confidence = EXCLUDED.confidence,
				current_price = EXCLUDED.current_price,
				target_entry = EXCLUDED.target_entry,
				stop_loss = EXCLUDED.stop_loss,
				take_profit = EXCLUDED.take_profit,
				summary = EXCLUDED.summary,
				status = EXCLUDED.status
		`
		added := w.AddedAt
		if added.IsZero() {
			added = time.Now()
		}
		_, err := s.pool.Exec(ctx, query,
			w.AssetID, w.Signal, w.Confidence, w.CurrentPrice, w.TargetEntry,
			w.StopLoss, w.TakeProfit, w.Summary, w.Status, added,
		)
		if err != nil {
			return fmt.Errorf("db: save watched stock %s: %w", w.AssetID, err)
		}
		return nil
	})
}

// ListWatchedStocks returns every watch entry not yet removed or converted
// into a position.
func (s *Store) ListWatchedStocks(ctx context.Context) ([]types.WatchedStock, error) {
	const query = `
		SELECT asset_id, signal, confidence, current_price, target_entry,
			stop_loss, take_profit, summary, status, added_at
		FROM watched_stocks
		WHERE status IN ($1, $2)
		ORDER BY added_at DESC
	`
	var out []types.WatchedStock
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, types.WatchActive, types.WatchTriggered)
		if err != nil {
			return fmt.Errorf("db: list watched stocks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var w types.WatchedStock
			if err := rows.Scan(
				&w.AssetID, &w.Signal, &w.Confidence, &w.CurrentPrice, &w.TargetEntry,
				&w.StopLoss, &w.TakeProfit, &w.Summary, &w.Status, &w.AddedAt,
			); err != nil {
				return fmt.Errorf("db: scan watched stock: %w", err)
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}
