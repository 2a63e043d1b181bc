package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// Store implements internal/coordinator's Store interface and
// internal/holiday's Store interface over the same connection pool, so a
// deployment that configures one database gets both capabilities for
// free. A nil *Store (or a nil *DB passed to NewStore) is never
// constructed here -- callers that don't want persistence just don't
// build a Store and leave the collaborator interface nil instead.
type Store struct {
	db   *DB
	pool PoolInterface
}

// NewStore wraps a *DB as a Store.
func NewStore(d *DB) *Store {
	return &Store{db: d, pool: d.pool}
}

// NewStoreWithPool builds a Store directly over a PoolInterface with no
// circuit breaker; used by tests with a pgxmock pool.
func NewStoreWithPool(pool PoolInterface) *Store {
	return &Store{pool: pool}
}

// withBreaker routes a query through the owning DB's circuit breaker when
// there is one; a pool-only Store (tests) runs fn directly.
func (s *Store) withBreaker(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return s.db.withBreaker(ctx, fn)
}

// SavePosition upserts p by AssetID.
func (s *Store) SavePosition(ctx context.Context, p types.Position) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		const query = `
			INSERT INTO positions (
				asset_id, name, quantity, avg_cost, current_price, stop_loss,
				take_profit, stop_loss_mode, status, risk_score, session_id,
				opened_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (asset_id) DO UPDATE SET
				name = EXCLUDED.name,
				quantity = EXCLUDED.quantity,
				avg_cost = EXCLUDED.avg_cost,
				current_price = EXCLUDED.current_price,
				stop_loss = EXCLUDED.stop_loss,
				take_profit = EXCLUDED.take_profit,
				stop_loss_mode = EXCLUDED.stop_loss_mode,
				status = EXCLUDED.status,
				risk_score = EXCLUDED.risk_score,
				session_id = EXCLUDED.session_id,
				updated_at = EXCLUDED.updated_at
		`
		opened := p.OpenedAt
		if opened.IsZero() {
			opened = time.Now()
		}
		updated := p.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		_, err := s.pool.Exec(ctx, query,
			p.AssetID, p.Name, p.Quantity, p.AvgCost, p.CurrentPrice, p.StopLoss,
			p.TakeProfit, p.StopLossMode, p.Status, p.RiskScore, p.SessionID,
			opened, updated,
		)
		if err != nil {
			return fmt.Errorf("db: save position %s: %w", p.AssetID, err)
		}
		return nil
	})
}

// DeletePosition removes assetID's row, if any.
func (s *Store) DeletePosition(ctx context.Context, assetID string) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE asset_id = $1`, assetID)
		if err != nil {
			return fmt.Errorf("db: delete position %s: %w", assetID, err)
		}
		return nil
	})
}

// GetPosition reads back a single open position, mainly for tests and
// operational inspection -- the Coordinator itself never re-reads Store
// once it has a position in memory.
func (s *Store) GetPosition(ctx context.Context, assetID string) (types.Position, bool, error) {
	const query = `
		SELECT asset_id, name, quantity, avg_cost, current_price, stop_loss,
			take_profit, stop_loss_mode, status, risk_score, session_id,
			opened_at, updated_at
		FROM positions WHERE asset_id = $1
	`
	var p types.Position
	var found bool
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, query, assetID)
		err := row.Scan(
			&p.AssetID, &p.Name, &p.Quantity, &p.AvgCost, &p.CurrentPrice, &p.StopLoss,
			&p.TakeProfit, &p.StopLossMode, &p.Status, &p.RiskScore, &p.SessionID,
			&p.OpenedAt, &p.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("db: get position %s: %w", assetID, err)
		}
		found = true
		return nil
	})
	return p, found, err
}

// ListPositions returns every currently-stored position.
func (s *Store) ListPositions(ctx context.Context) ([]types.Position, error) {
	const query = `
		SELECT asset_id, name, quantity, avg_cost, current_price, stop_loss,
			take_profit, stop_loss_mode, status, risk_score, session_id,
			opened_at, updated_at
		FROM positions ORDER BY opened_at
	`
	var out []types.Position
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("db: list positions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p types.Position
			if err := rows.Scan(
				&p.AssetID, &p.Name, &p.Quantity, &p.AvgCost, &p.CurrentPrice, &p.StopLoss,
				&p.TakeProfit, &p.StopLossMode, &p.Status, &p.RiskScore, &p.SessionID,
				&p.OpenedAt, &p.UpdatedAt,
			); err != nil {
				return fmt.Errorf("db: scan position: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
