package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

func makeOpportunity(marketID string, profitPct float64) domain.ArbitrageOpportunity {
	now := time.Now()
	return domain.ArbitrageOpportunity{
		ID:               "arb_" + marketID,
		MarketID:         marketID,
		MarketQuestion:   "Will X happen?",
		Type:             domain.BuyBoth,
		YesPrice:         0.40,
		NoPrice:          0.55,
		TotalPrice:       0.95,
		ProfitPercentage: profitPct,
		Confidence:       domain.ConfidenceHigh,
		CreatedAt:        now,
		ExpiresAt:        now.Add(30 * time.Second),
	}
}

func makeTrade(id string, status domain.TradeStatus, at time.Time) domain.TradeExecution {
	return domain.TradeExecution{
		ID:              id,
		ExecutionID:     "exec_1",
		MarketID:        "0xmarket",
		Side:            "BUY",
		Outcome:         "YES",
		RequestedAmount: 40,
		RequestedPrice:  0.40,
		ExecutedPrice:   0.41,
		Slippage:        0.025,
		Status:          status,
		SettlementRef:   "0xsettlement",
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func TestSQLiteHistory_SaveTradeAndQuery(t *testing.T) {
	db, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.SaveTrade(context.Background(), makeTrade("trade_1", domain.TradeConfirmed, now)))
	require.NoError(t, db.SaveTrade(context.Background(), makeTrade("trade_2", domain.TradeFailed, now.Add(time.Second))))

	trades, err := db.TradesSince(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// más recientes primero
	assert.Equal(t, "trade_2", trades[0].ID)
	assert.Equal(t, domain.TradeFailed, trades[0].Status)
	assert.Equal(t, "trade_1", trades[1].ID)
	assert.Equal(t, domain.TradeConfirmed, trades[1].Status)
	assert.Equal(t, "0xsettlement", trades[1].SettlementRef)
	assert.InDelta(t, 0.41, trades[1].ExecutedPrice, 1e-9)
	assert.WithinDuration(t, now, trades[1].CreatedAt, time.Second)
}

func TestSQLiteHistory_SaveTradeUpsert(t *testing.T) {
	db, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	tr := makeTrade("trade_1", domain.TradeSubmitted, now)
	require.NoError(t, db.SaveTrade(context.Background(), tr))

	// la misma pata llega confirmada: la última escritura gana
	tr.Status = domain.TradeConfirmed
	tr.ExecutedPrice = 0.42
	tr.UpdatedAt = now.Add(time.Second)
	require.NoError(t, db.SaveTrade(context.Background(), tr))

	trades, err := db.TradesSince(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeConfirmed, trades[0].Status)
	assert.InDelta(t, 0.42, trades[0].ExecutedPrice, 1e-9)
}

func TestSQLiteHistory_TradesSince_EmptyRange(t *testing.T) {
	db, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	require.NoError(t, db.SaveTrade(context.Background(), makeTrade("trade_1", domain.TradeConfirmed, now.Add(-2*time.Hour))))

	trades, err := db.TradesSince(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSQLiteHistory_SaveOpportunity(t *testing.T) {
	db, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.SaveOpportunity(ctx, makeOpportunity("0xaaa", 5.2), domain.OpportunityNew))
	// el mismo mercado visto de nuevo con más beneficio
	require.NoError(t, db.SaveOpportunity(ctx, makeOpportunity("0xaaa", 7.5), domain.OpportunityUpdate))
	// y luego con menos: el pico se conserva
	require.NoError(t, db.SaveOpportunity(ctx, makeOpportunity("0xaaa", 3.1), domain.OpportunityUpdate))

	var sightings int
	var profitPct, peak float64
	row := db.db.QueryRow(`SELECT sightings, profit_pct, peak_profit_pct FROM opportunities WHERE market_id = ?`, "0xaaa")
	require.NoError(t, row.Scan(&sightings, &profitPct, &peak))

	assert.Equal(t, 3, sightings)
	assert.InDelta(t, 3.1, profitPct, 1e-9)
	assert.InDelta(t, 7.5, peak, 1e-9)
}

func TestSQLiteHistory_SaveOpportunity_SkipsExpired(t *testing.T) {
	db, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.SaveOpportunity(context.Background(), makeOpportunity("0xaaa", 5.2), domain.OpportunityExpired))

	var count int
	row := db.db.QueryRow(`SELECT COUNT(*) FROM opportunities`)
	require.NoError(t, row.Scan(&count))
	assert.Zero(t, count)
}
