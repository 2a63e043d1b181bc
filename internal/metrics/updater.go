package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically recomputes portfolio-level gauges from the
// database: positions drive exposure and unrealized P&L. Deployments
// without a database simply never start one. Per-fill counters stay on
// the Coordinator's live path; re-deriving them here would double count.
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from database")

	u.updatePositionMetrics(ctx)
	u.updateDatabaseMetrics()
}

// updatePositionMetrics recomputes open-position gauges: count, per-asset
// market value, and the unrealized P&L the position book implies.
func (u *Updater) updatePositionMetrics(ctx context.Context) {
	rows, err := u.db.Query(ctx, `
		SELECT asset_id, quantity, avg_cost, current_price
		FROM positions
	`)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch position metrics")
		return
	}
	defer rows.Close()

	var count int
	var unrealized float64
	for rows.Next() {
		var assetID string
		var qty, avgCost, current float64
		if err := rows.Scan(&assetID, &qty, &avgCost, &current); err != nil {
			log.Error().Err(err).Msg("Failed to scan position row")
			return
		}
		count++
		unrealized += (current - avgCost) * qty
		PositionValueBySymbol.WithLabelValues(assetID).Set(qty * current)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Failed reading position rows")
		return
	}

	OpenPositions.Set(float64(count))
	TotalPnL.Set(unrealized)
}

// updateDatabaseMetrics updates connection pool metrics
func (u *Updater) updateDatabaseMetrics() {
	stats := u.db.Stat()
	DatabaseConnectionsActive.Set(float64(stats.AcquiredConns()))
	DatabaseConnectionsIdle.Set(float64(stats.IdleConns()))
}
