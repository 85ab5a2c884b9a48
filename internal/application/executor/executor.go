package executor

// executor.go — paired-order execution against the CLOB boundary.
//
// Both legs of an arbitrage are submitted concurrently and resolve
// independently. If one leg fails after the other confirmed, the
// confirmed leg is NOT unwound: the aggregate reports failure with the
// failing leg's error and the open position stays. Cancellation is only
// possible while a leg is still PENDING.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

const (
	resolvedHighWater = 512
	resolvedRetention = 10 * time.Minute
)

// OpportunitySource is the executor's view of the scanner: live
// opportunities, fresh quotes for revalidation and the market's token
// references.
type OpportunitySource interface {
	Ready() bool
	Opportunity(id string) (domain.ArbitrageOpportunity, bool)
	Quote(marketID string) (domain.PriceQuote, bool)
	MarketTokens(marketID string) (yesTokenID, noTokenID string, ok bool)
	ArbitrageConfig() domain.ArbitrageConfig
}

// RiskGate is the executor's view of the risk ledger.
type RiskGate interface {
	CanExecute(userID string, opp domain.ArbitrageOpportunity, investmentUSD float64) (bool, string)
	Limits(userID string) domain.RiskLimits
	RecordPending(userID string, trade domain.TradeExecution)
	RecordTrade(userID string, trade domain.TradeExecution)
}

// Result is the aggregate outcome of one paired execution.
type Result struct {
	Success        bool
	YesTrade       domain.TradeExecution
	NoTrade        domain.TradeExecution
	TotalInvested  float64
	ExpectedProfit float64
	CostEstimate   float64
	Error          string
}

// Executor drives paired trades through their state machine.
type Executor struct {
	source  OpportunitySource
	orders  ports.OrderService
	risk    RiskGate
	sink    ports.EventSink
	history ports.History // opcional

	mu            sync.Mutex
	active        map[string]*domain.TradeExecution // tradeID → leg en vuelo
	resolved      map[string]domain.TradeExecution  // tradeID → pata terminal
	maxConcurrent int

	now func() time.Time
}

// New creates an Executor. history may be nil.
func New(source OpportunitySource, orders ports.OrderService, risk RiskGate, sink ports.EventSink, history ports.History, maxConcurrent int) *Executor {
	return &Executor{
		source:        source,
		orders:        orders,
		risk:          risk,
		sink:          sink,
		history:       history,
		active:        make(map[string]*domain.TradeExecution),
		resolved:      make(map[string]domain.TradeExecution),
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Execute runs the full execution contract for an opportunity.
//
// Request-level rejections (not ready, not found, risk denied, not
// profitable, invalid orders) return a typed error and no legs are
// submitted. Once legs are submitted the call returns a Result; a leg
// failure surfaces there, not as a Go error.
func (ex *Executor) Execute(ctx context.Context, opportunityID, userID string, investmentUSD float64) (*Result, error) {
	if ex.source == nil || !ex.source.Ready() {
		return nil, domain.ErrScannerNotReady
	}

	opp, ok := ex.source.Opportunity(opportunityID)
	if !ok {
		return nil, domain.ErrOpportunityNotFound
	}

	// Revalidación contra precios frescos: si el desajuste se evaporó o
	// cambió de lado desde que se detectó, la oportunidad ya no existe.
	cfg := ex.source.ArbitrageConfig()
	quote, hasQuote := ex.source.Quote(opp.MarketID)
	if hasQuote && !opp.StillValid(quote, cfg, ex.now()) {
		return nil, domain.ErrOpportunityNotFound
	}

	limits := ex.risk.Limits(userID)
	if investmentUSD > limits.MaxPositionSize {
		return nil, domain.ErrExceedsMaxPosition
	}

	if allowed, reason := ex.risk.CanExecute(userID, opp, investmentUSD); !allowed {
		return nil, &domain.RiskDeniedError{Reason: reason}
	}

	// Cost estimate happens outside every lock: it is a network call.
	cost, err := ex.orders.EstimateCost(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor.Execute: estimate cost: %w", err)
	}
	netProfit := investmentUSD*(1-opp.TotalPrice) - cost
	if netProfit <= 0 {
		return nil, domain.ErrNotProfitable
	}

	yesTokenID, noTokenID, ok := ex.source.MarketTokens(opp.MarketID)
	if !ok {
		return nil, domain.ErrOpportunityNotFound
	}

	yesUSD, noUSD := domain.SplitInvestment(investmentUSD, opp.YesPrice, opp.NoPrice)

	// Slippage esperado por pata según la liquidez del mercado. Sin dato
	// de liquidez no se estima: 0, no el peor caso.
	var yesSlip, noSlip float64
	if hasQuote && quote.Liquidity > 0 {
		yesSlip = domain.ExpectedSlippage(yesUSD, quote.Liquidity)
		noSlip = domain.ExpectedSlippage(noUSD, quote.Liquidity)
		if limits.MaxSlippage > 0 && math.Max(yesSlip, noSlip) > limits.MaxSlippage {
			return nil, &domain.RiskDeniedError{
				Reason: fmt.Sprintf("expected slippage %.2f%% exceeds max %.2f%%",
					math.Max(yesSlip, noSlip)*100, limits.MaxSlippage*100),
			}
		}
	}

	yesOrder := ex.orders.BuildOrder(yesTokenID, opp.YesPrice, yesUSD/opp.YesPrice, "BUY")
	noOrder := ex.orders.BuildOrder(noTokenID, opp.NoPrice, noUSD/opp.NoPrice, "BUY")

	// All-or-none validation: si cualquier pata falla, no se somete nada.
	var verrs []string
	if v := ex.orders.Validate(yesOrder); !v.Valid {
		for _, e := range v.Errors {
			verrs = append(verrs, "yes leg: "+e)
		}
	}
	if v := ex.orders.Validate(noOrder); !v.Valid {
		for _, e := range v.Errors {
			verrs = append(verrs, "no leg: "+e)
		}
	}
	if len(verrs) > 0 {
		return nil, &domain.InvalidOrderError{Errors: verrs}
	}

	executionID := "exec_" + uuid.NewString()
	now := ex.now()
	yesTrade := domain.NewTradeExecution(executionID, opp.MarketID, "YES", yesUSD, opp.YesPrice, now)
	noTrade := domain.NewTradeExecution(executionID, opp.MarketID, "NO", noUSD, opp.NoPrice, now)
	yesTrade.ExpectedSlippage = yesSlip
	noTrade.ExpectedSlippage = noSlip

	if err := ex.register(&yesTrade, &noTrade); err != nil {
		return nil, err
	}

	ex.risk.RecordPending(userID, yesTrade)
	ex.risk.RecordPending(userID, noTrade)
	ex.publishTrade(yesTrade)
	ex.publishTrade(noTrade)

	slog.Info("executing paired trade",
		"execution", executionID,
		"opportunity", opp.ID,
		"user", userID,
		"investment", fmt.Sprintf("$%.2f", investmentUSD),
		"net_profit_est", fmt.Sprintf("$%.4f", netProfit),
	)

	// Ambas patas en paralelo, con el contexto del caller sin derivar:
	// el fallo de una pata no debe abortar la otra en vuelo.
	var g errgroup.Group
	g.Go(func() error { return ex.submitLeg(ctx, userID, yesTrade.ID, yesOrder) })
	g.Go(func() error { return ex.submitLeg(ctx, userID, noTrade.ID, noOrder) })
	legErr := g.Wait()

	yesFinal := ex.tradeByID(yesTrade.ID)
	noFinal := ex.tradeByID(noTrade.ID)

	result := &Result{
		YesTrade:       yesFinal,
		NoTrade:        noFinal,
		TotalInvested:  investmentUSD,
		ExpectedProfit: netProfit,
		CostEstimate:   cost,
	}
	result.Success = yesFinal.Status == domain.TradeConfirmed && noFinal.Status == domain.TradeConfirmed
	if legErr != nil {
		result.Error = legErr.Error()
	}

	if !result.Success {
		slog.Warn("paired trade incomplete",
			"execution", executionID,
			"yes_status", yesFinal.Status,
			"no_status", noFinal.Status,
			"err", result.Error,
		)
	}
	return result, nil
}

// Cancel aborts a PENDING leg: removes it from the active set, flips it
// to CANCELLED and emits the event. Any other state returns false — an
// outcome, not an error.
func (ex *Executor) Cancel(tradeID string, userID string) bool {
	ex.mu.Lock()
	t, ok := ex.active[tradeID]
	if !ok || t.Status != domain.TradePending {
		ex.mu.Unlock()
		return false
	}
	t.Status = domain.TradeCancelled
	t.UpdatedAt = ex.now()
	delete(ex.active, tradeID)
	cancelled := *t
	ex.resolved[tradeID] = cancelled
	ex.mu.Unlock()

	ex.risk.RecordTrade(userID, cancelled)
	ex.publishTrade(cancelled)
	slog.Info("trade cancelled", "trade", tradeID)
	return true
}

// ActiveTrades returns a snapshot of the in-flight legs.
func (ex *Executor) ActiveTrades() []domain.TradeExecution {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]domain.TradeExecution, 0, len(ex.active))
	for _, t := range ex.active {
		out = append(out, *t)
	}
	return out
}

// register adds both legs to the active set atomically. The set is the
// authoritative concurrency gate: the ledger's check is advisory and two
// racing admissions cannot both pass here. The incoming legs count against
// the cap, so a pair never pushes the set past maxConcurrent.
func (ex *Executor) register(legs ...*domain.TradeExecution) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if len(ex.active)+len(legs) > ex.maxConcurrent {
		return &domain.RiskDeniedError{
			Reason: fmt.Sprintf("max concurrent trades reached (%d)", ex.maxConcurrent),
		}
	}
	for _, t := range legs {
		ex.active[t.ID] = t
	}
	ex.pruneResolved(ex.now())
	return nil
}

// submitLeg drives one leg PENDING → SUBMITTED → {CONFIRMED | FAILED}.
// The network call happens with no executor lock held; a cancellation
// that won the race leaves the leg untouched.
func (ex *Executor) submitLeg(ctx context.Context, userID, tradeID string, order domain.Order) error {
	ex.mu.Lock()
	t, ok := ex.active[tradeID]
	if !ok || !t.Status.CanTransition(domain.TradeSubmitted) {
		// cancelled while pending
		ex.mu.Unlock()
		return nil
	}
	t.Status = domain.TradeSubmitted
	t.UpdatedAt = ex.now()
	submitted := *t
	ex.mu.Unlock()

	ex.publishTrade(submitted)

	res, submitErr := ex.orders.Submit(ctx, order)

	ex.mu.Lock()
	t, ok = ex.active[tradeID]
	if !ok {
		ex.mu.Unlock()
		return nil
	}
	if submitErr != nil {
		t.Status = domain.TradeFailed
		t.Error = submitErr.Error()
	} else {
		t.Status = domain.TradeConfirmed
		t.Fill(res.ExecutedPrice)
		t.SettlementRef = res.SettlementRef
	}
	t.UpdatedAt = ex.now()
	final := *t
	delete(ex.active, tradeID)
	ex.resolved[tradeID] = final
	ex.mu.Unlock()

	ex.publishTrade(final)
	ex.risk.RecordTrade(userID, final)
	ex.saveTrade(final)

	if submitErr != nil {
		return &domain.ExecutionFailedError{Outcome: final.Outcome, Cause: submitErr.Error()}
	}
	return nil
}

// tradeByID returns the latest snapshot of a leg, in flight or terminal.
func (ex *Executor) tradeByID(tradeID string) domain.TradeExecution {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if t, ok := ex.active[tradeID]; ok {
		return *t
	}
	return ex.resolved[tradeID]
}

// pruneResolved drops old terminal legs so the index stays bounded.
// Callers hold ex.mu.
func (ex *Executor) pruneResolved(now time.Time) {
	if len(ex.resolved) < resolvedHighWater {
		return
	}
	cutoff := now.Add(-resolvedRetention)
	for id, t := range ex.resolved {
		if t.UpdatedAt.Before(cutoff) {
			delete(ex.resolved, id)
		}
	}
}

func (ex *Executor) publishTrade(t domain.TradeExecution) {
	if ex.sink == nil {
		return
	}
	ex.sink.PublishTrade(domain.TradeEvent{Trade: t, Timestamp: ex.now()})
}

func (ex *Executor) saveTrade(t domain.TradeExecution) {
	if ex.history == nil {
		return
	}
	if err := ex.history.SaveTrade(context.Background(), t); err != nil {
		slog.Warn("history save failed", "trade", t.ID, "err", err)
	}
}
