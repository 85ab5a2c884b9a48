package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

var (
	yesTokenID = "0x" + strings.Repeat("1", 64)
	noTokenID  = "0x" + strings.Repeat("2", 64)
)

type fakeSource struct {
	ready     bool
	opp       domain.ArbitrageOpportunity
	found     bool
	quote     domain.PriceQuote
	hasQuote  bool
	hasTokens bool
	cfg       domain.ArbitrageConfig
}

func (f *fakeSource) Ready() bool { return f.ready }

func (f *fakeSource) Opportunity(string) (domain.ArbitrageOpportunity, bool) {
	return f.opp, f.found
}

func (f *fakeSource) Quote(string) (domain.PriceQuote, bool) {
	return f.quote, f.hasQuote
}

func (f *fakeSource) MarketTokens(string) (string, string, bool) {
	if !f.hasTokens {
		return "", "", false
	}
	return yesTokenID, noTokenID, true
}

func (f *fakeSource) ArbitrageConfig() domain.ArbitrageConfig { return f.cfg }

type fakeOrders struct {
	cost      float64
	costErr   error
	submitErr map[string]error         // tokenID → error forzado
	delay     map[string]time.Duration // tokenID → latencia simulada
	gate      chan struct{}            // si no es nil, Submit bloquea hasta cerrarlo

	mu        sync.Mutex
	submitted []domain.Order
}

func (f *fakeOrders) EstimateCost(context.Context) (float64, error) {
	return f.cost, f.costErr
}

func (f *fakeOrders) BuildOrder(tokenID string, price, size float64, side string) domain.Order {
	return domain.Order{TokenID: tokenID, Price: price, Size: size, Side: side}
}

func (f *fakeOrders) Validate(order domain.Order) domain.OrderValidation {
	return domain.ValidateOrder(order)
}

// Submit respeta la cancelación del contexto, como el cliente CLOB real.
func (f *fakeOrders) Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.SubmitResult{}, ctx.Err()
		}
	}
	if d, ok := f.delay[order.TokenID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return domain.SubmitResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, order)
	f.mu.Unlock()

	if err, ok := f.submitErr[order.TokenID]; ok {
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{ExecutedPrice: order.Price, SettlementRef: "0xsettlement"}, nil
}

func (f *fakeOrders) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeRisk struct {
	allow  bool
	reason string
	limits domain.RiskLimits

	mu       sync.Mutex
	pending  []domain.TradeExecution
	recorded []domain.TradeExecution
}

func (f *fakeRisk) CanExecute(string, domain.ArbitrageOpportunity, float64) (bool, string) {
	return f.allow, f.reason
}

func (f *fakeRisk) Limits(string) domain.RiskLimits { return f.limits }

func (f *fakeRisk) RecordPending(_ string, trade domain.TradeExecution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, trade)
}

func (f *fakeRisk) RecordTrade(_ string, trade domain.TradeExecution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, trade)
}

func (f *fakeRisk) recordedTrades() []domain.TradeExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TradeExecution(nil), f.recorded...)
}

type countingSink struct {
	mu     sync.Mutex
	trades []domain.TradeEvent
}

func (c *countingSink) PublishOpportunity(domain.OpportunityEvent) {}
func (c *countingSink) PublishAlert(domain.RiskAlert)              {}

func (c *countingSink) PublishTrade(ev domain.TradeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, ev)
}

func execCfg() domain.ArbitrageConfig {
	return domain.ArbitrageConfig{
		MinProfitPercentage: 0.5,
		MaxPositionSizeUSD:  100,
		MaxConcurrentTrades: 3,
	}
}

// readySource builds a source holding a live 0.40/0.55 opportunity.
func readySource(t *testing.T) *fakeSource {
	t.Helper()
	now := time.Now()
	quote := domain.PriceQuote{
		MarketID:  "0xmarket",
		YesPrice:  0.40,
		NoPrice:   0.55,
		Timestamp: now,
	}
	opp, ok := domain.Detect(quote, execCfg(), "q")
	require.True(t, ok)

	return &fakeSource{
		ready:     true,
		opp:       opp,
		found:     true,
		quote:     quote,
		hasQuote:  true,
		hasTokens: true,
		cfg:       execCfg(),
	}
}

func defaultRisk() *fakeRisk {
	return &fakeRisk{
		allow:  true,
		limits: domain.RiskLimits{MaxPositionSize: 100, MaxConcurrentTrades: 3},
	}
}

func TestExecute_HappyPath(t *testing.T) {
	source := readySource(t)
	orders := &fakeOrders{cost: 0.5}
	risk := defaultRisk()

	ex := New(source, orders, risk, &countingSink{}, nil, 6)

	res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, 90.0, res.TotalInvested)
	// 90 × (1 - 0.95) - 0.5 = 4.0
	assert.InDelta(t, 4.0, res.ExpectedProfit, 1e-9)
	assert.Equal(t, 0.5, res.CostEstimate)

	// ambas patas comparten ejecución y confirmaron
	assert.Equal(t, res.YesTrade.ExecutionID, res.NoTrade.ExecutionID)
	assert.True(t, strings.HasPrefix(res.YesTrade.ExecutionID, "exec_"))
	assert.Equal(t, domain.TradeConfirmed, res.YesTrade.Status)
	assert.Equal(t, domain.TradeConfirmed, res.NoTrade.Status)
	assert.Equal(t, "0xsettlement", res.YesTrade.SettlementRef)

	// reparto proporcional: 40/0.40 = 100 tokens, 50/0.50... aquí
	// 0.40/0.55 → yes 90×0.40/0.95, no 90×0.55/0.95
	assert.InDelta(t, 90*0.40/0.95, res.YesTrade.RequestedAmount, 1e-9)
	assert.InDelta(t, 90*0.55/0.95, res.NoTrade.RequestedAmount, 1e-9)

	// ejecutado al precio pedido → sin slippage
	assert.Zero(t, res.YesTrade.Slippage)

	assert.Equal(t, 2, orders.submitCount())
	assert.Len(t, risk.pending, 2)
	assert.Len(t, risk.recordedTrades(), 2)
	assert.Empty(t, ex.ActiveTrades())
}

func TestExecute_ScannerNotReady(t *testing.T) {
	source := readySource(t)
	source.ready = false
	ex := New(source, &fakeOrders{}, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), "arb_x", "alice", 50)
	assert.ErrorIs(t, err, domain.ErrScannerNotReady)
}

func TestExecute_OpportunityNotFound(t *testing.T) {
	source := readySource(t)
	source.found = false
	ex := New(source, &fakeOrders{}, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), "arb_x", "alice", 50)
	assert.ErrorIs(t, err, domain.ErrOpportunityNotFound)
}

func TestExecute_StaleOpportunity(t *testing.T) {
	source := readySource(t)
	// los precios frescos ya no muestran desajuste
	source.quote = domain.PriceQuote{
		MarketID:  "0xmarket",
		YesPrice:  0.50,
		NoPrice:   0.50,
		Timestamp: time.Now(),
	}
	orders := &fakeOrders{cost: 0.5}
	ex := New(source, orders, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 50)
	assert.ErrorIs(t, err, domain.ErrOpportunityNotFound)
	assert.Zero(t, orders.submitCount())
}

func TestExecute_ExceedsMaxPosition(t *testing.T) {
	source := readySource(t)
	ex := New(source, &fakeOrders{cost: 0.5}, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 150)
	assert.ErrorIs(t, err, domain.ErrExceedsMaxPosition)
}

func TestExecute_RiskDenied(t *testing.T) {
	source := readySource(t)
	risk := defaultRisk()
	risk.allow = false
	risk.reason = "in cooldown period, 10 minutes remaining"
	ex := New(source, &fakeOrders{cost: 0.5}, risk, &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 50)

	var denied *domain.RiskDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, risk.reason, denied.Reason)
}

func TestExecute_CostEstimateError(t *testing.T) {
	source := readySource(t)
	rpcErr := errors.New("rpc down")
	ex := New(source, &fakeOrders{costErr: rpcErr}, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 50)
	assert.ErrorIs(t, err, rpcErr)
}

func TestExecute_NotProfitableAfterCosts(t *testing.T) {
	source := readySource(t)
	// beneficio bruto 90 × 0.05 = 4.5 < coste 10
	orders := &fakeOrders{cost: 10}
	ex := New(source, orders, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	assert.ErrorIs(t, err, domain.ErrNotProfitable)
	assert.Zero(t, orders.submitCount())
}

func TestExecute_MissingTokens(t *testing.T) {
	source := readySource(t)
	source.hasTokens = false
	ex := New(source, &fakeOrders{cost: 0.5}, defaultRisk(), &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	assert.ErrorIs(t, err, domain.ErrOpportunityNotFound)
}

func TestExecute_InvalidOrdersAllOrNone(t *testing.T) {
	source := readySource(t)
	// precio NO fuera de rango invalida esa pata
	source.opp.NoPrice = 0
	orders := &fakeOrders{cost: 0.5}
	// sin quote la revalidación se salta y llegamos a la validación
	source.hasQuote = false
	risk := defaultRisk()
	ex := New(source, orders, risk, &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)

	var invalid *domain.InvalidOrderError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "no leg:")

	// all-or-none: ninguna pata se somete ni se registra
	assert.Zero(t, orders.submitCount())
	assert.Empty(t, risk.pending)
	assert.Empty(t, ex.ActiveTrades())
}

func TestExecute_PartialLegFailure(t *testing.T) {
	source := readySource(t)
	orders := &fakeOrders{
		cost:      0.5,
		submitErr: map[string]error{noTokenID: errors.New("insufficient balance")},
	}
	risk := defaultRisk()
	ex := New(source, orders, risk, &countingSink{}, nil, 6)

	res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "NO leg failed: insufficient balance")

	// la pata confirmada NO se deshace
	assert.Equal(t, domain.TradeConfirmed, res.YesTrade.Status)
	assert.Equal(t, domain.TradeFailed, res.NoTrade.Status)
	assert.Equal(t, "insufficient balance", res.NoTrade.Error)
	assert.Empty(t, ex.ActiveTrades())
}

func TestExecute_LegFailureDoesNotAbortSibling(t *testing.T) {
	source := readySource(t)
	// la pata NO falla al instante mientras la YES sigue en vuelo; la YES
	// debe completar su Submit y confirmar, no morir por cancelación
	orders := &fakeOrders{
		cost:      0.5,
		submitErr: map[string]error{noTokenID: errors.New("insufficient balance")},
		delay:     map[string]time.Duration{yesTokenID: 50 * time.Millisecond},
	}
	risk := defaultRisk()
	ex := New(source, orders, risk, &countingSink{}, nil, 6)

	res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.TradeConfirmed, res.YesTrade.Status)
	assert.Empty(t, res.YesTrade.Error)
	assert.Equal(t, "0xsettlement", res.YesTrade.SettlementRef)
	assert.Equal(t, domain.TradeFailed, res.NoTrade.Status)
	assert.Equal(t, "insufficient balance", res.NoTrade.Error)
}

func TestExecute_SlippageGuardDenies(t *testing.T) {
	source := readySource(t)
	// pata NO ≈ $52.1 sobre $200 de liquidez → slippage esperado ≈ 6.8%
	source.quote.Liquidity = 200
	risk := defaultRisk()
	risk.limits.MaxSlippage = 0.05
	orders := &fakeOrders{cost: 0.5}
	ex := New(source, orders, risk, &countingSink{}, nil, 6)

	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)

	var denied *domain.RiskDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, denied.Reason, "expected slippage")
	assert.Zero(t, orders.submitCount())
}

func TestExecute_RecordsExpectedSlippage(t *testing.T) {
	source := readySource(t)
	source.quote.Liquidity = 2000
	risk := defaultRisk()
	risk.limits.MaxSlippage = 0.05
	ex := New(source, &fakeOrders{cost: 0.5}, risk, &countingSink{}, nil, 6)

	res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	require.NoError(t, err)
	require.True(t, res.Success)

	yesRatio := 90 * 0.40 / 0.95 / 2000
	noRatio := 90 * 0.55 / 0.95 / 2000
	assert.InDelta(t, yesRatio*yesRatio, res.YesTrade.ExpectedSlippage, 1e-9)
	assert.InDelta(t, noRatio*noRatio, res.NoTrade.ExpectedSlippage, 1e-9)
}

func TestExecute_ConcurrencyCap(t *testing.T) {
	source := readySource(t)
	orders := &fakeOrders{cost: 0.5, gate: make(chan struct{})}
	ex := New(source, orders, defaultRisk(), &countingSink{}, nil, 2)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
		done <- outcome{res, err}
	}()

	// esperar a que las dos patas del primer par estén en vuelo
	require.Eventually(t, func() bool {
		return len(ex.ActiveTrades()) == 2
	}, time.Second, 5*time.Millisecond)

	// el segundo par no cabe: el set activo es la puerta autoritativa
	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	var denied *domain.RiskDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "max concurrent trades reached (2)", denied.Reason)

	close(orders.gate)
	first := <-done
	require.NoError(t, first.err)
	assert.True(t, first.res.Success)
}

func TestExecute_ConcurrencyCapCountsBothLegs(t *testing.T) {
	source := readySource(t)
	orders := &fakeOrders{cost: 0.5, gate: make(chan struct{})}
	ex := New(source, orders, defaultRisk(), &countingSink{}, nil, 3)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		return len(ex.ActiveTrades()) == 2
	}, time.Second, 5*time.Millisecond)

	// con cap 3 y 2 patas en vuelo queda un hueco, pero un par son dos
	// patas: admitirlo dejaría 4 activas por encima del límite
	_, err := ex.Execute(context.Background(), source.opp.ID, "alice", 90)
	var denied *domain.RiskDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "max concurrent trades reached (3)", denied.Reason)

	close(orders.gate)
	first := <-done
	require.NoError(t, first.err)
	assert.True(t, first.res.Success)
}

func TestCancel_PendingLeg(t *testing.T) {
	risk := defaultRisk()
	ex := New(readySource(t), &fakeOrders{}, risk, &countingSink{}, nil, 6)

	leg := domain.NewTradeExecution("exec_1", "0xmarket", "YES", 10, 0.40, time.Now())
	require.NoError(t, ex.register(&leg))

	assert.True(t, ex.Cancel(leg.ID, "alice"))
	assert.Empty(t, ex.ActiveTrades())

	recorded := risk.recordedTrades()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.TradeCancelled, recorded[0].Status)

	// una pata ya resuelta no se puede cancelar dos veces
	assert.False(t, ex.Cancel(leg.ID, "alice"))
	assert.False(t, ex.Cancel("trade_unknown", "alice"))
}

func TestActiveTrades_Snapshot(t *testing.T) {
	ex := New(readySource(t), &fakeOrders{}, defaultRisk(), &countingSink{}, nil, 6)

	leg := domain.NewTradeExecution("exec_1", "0xmarket", "YES", 10, 0.40, time.Now())
	require.NoError(t, ex.register(&leg))

	snap := ex.ActiveTrades()
	require.Len(t, snap, 1)
	assert.Equal(t, leg.ID, snap[0].ID)
	assert.Equal(t, domain.TradePending, snap[0].Status)
}
