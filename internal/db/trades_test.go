package db

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

func TestSaveTrade(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)

	tr := types.Trade{
		ID:                "trade-1",
		SessionID:         "session-1",
		AssetID:           "005930",
		Side:              "buy",
		OrderType:         "market",
		RequestedPrice:    50000,
		ExecutedPrice:     50100,
		RequestedQuantity: 20,
		ExecutedQuantity:  20,
		Fee:               150.3,
		TotalValue:        1002000,
		State:             types.TradeFilled,
		UpstreamOrderID:   "ord-998877",
		CreatedAt:         time.Now(),
	}

	mock.ExpectExec("INSERT INTO trades").
		WithArgs(tr.ID, tr.SessionID, tr.AssetID, tr.Side, tr.OrderType,
			tr.RequestedPrice, tr.ExecutedPrice, tr.RequestedQuantity,
			tr.ExecutedQuantity, tr.Fee, tr.TotalValue, tr.State,
			tr.UpstreamOrderID, tr.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveTrade(context.Background(), tr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTradesByAsset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "asset_id", "side", "order_type",
		"requested_price", "executed_price", "requested_quantity",
		"executed_quantity", "fee", "total_value", "state",
		"upstream_order_id", "created_at",
	}).
		AddRow("trade-2", "session-1", "005930", "sell", "limit",
			51000.0, 51000.0, 10.0, 10.0, 76.5, 510000.0,
			string(types.TradeFilled), "ord-2", now).
		AddRow("trade-1", "session-1", "005930", "buy", "market",
			50000.0, 50100.0, 20.0, 20.0, 150.3, 1002000.0,
			string(types.TradeFilled), "ord-1", now.Add(-time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM trades WHERE asset_id").
		WithArgs("005930", 50).
		WillReturnRows(rows)

	trades, err := store.ListTrades(context.Background(), "005930", 50)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "trade-2", trades[0].ID, "newest trade first")
	assert.Equal(t, types.TradeFilled, trades[0].State)
	assert.Equal(t, 20.0, trades[1].ExecutedQuantity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTradesEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)

	rows := pgxmock.NewRows([]string{
		"id", "session_id", "asset_id", "side", "order_type",
		"requested_price", "executed_price", "requested_quantity",
		"executed_quantity", "fee", "total_value", "state",
		"upstream_order_id", "created_at",
	})
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(100).
		WillReturnRows(rows)

	trades, err := store.ListTrades(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, trades)

	require.NoError(t, mock.ExpectationsWereMet())
}
