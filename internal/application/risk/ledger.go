package risk

// ledger.go — per-user admission gate and rolling risk metrics.
//
// Each user's state carries its own mutex: checks and recordings for one
// user never block another. The admission check is advisory for
// concurrency (the executor's bounded active set is the authoritative
// gate); everything else it decides is final.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

const (
	// cooldownLossFraction: daily loss over this fraction of the cap
	// triggers cooldown even without a failed trade.
	cooldownLossFraction = 0.8

	// lowWinRateThreshold and lowWinRateMinTrades gate the low win-rate
	// alert so it never fires on a tiny sample.
	lowWinRateThreshold = 0.4
	lowWinRateMinTrades = 10

	minLimitUSD = 1.0
)

// userState is the full risk state of one user. All access goes through
// its mutex.
type userState struct {
	mu             sync.Mutex
	limits         domain.RiskLimits
	metrics        domain.RiskMetrics
	dailyTrades    []domain.TradeExecution
	inCooldown     bool
	cooldownEndsAt time.Time
}

// LimitsPatch is a partial update of a user's limits.
type LimitsPatch struct {
	MaxDailyLoss        *float64
	MaxPositionSize     *float64
	MaxConcurrentTrades *int
	CooldownAfterLoss   *time.Duration
	MaxSlippage         *float64
}

// Ledger tracks per-user risk state and admits or denies trade attempts.
type Ledger struct {
	mu       sync.RWMutex
	users    map[string]*userState
	defaults domain.RiskLimits
	sink     ports.EventSink

	now func() time.Time // injectable clock for tests
}

// NewLedger creates a Ledger with the given default limits.
func NewLedger(defaults domain.RiskLimits, sink ports.EventSink) *Ledger {
	return &Ledger{
		users:    make(map[string]*userState),
		defaults: defaults,
		sink:     sink,
		now:      time.Now,
	}
}

// state returns the user's state, creating it lazily on first touch.
func (l *Ledger) state(userID string) *userState {
	l.mu.RLock()
	st, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.users[userID]; ok {
		return st
	}
	st = &userState{
		limits: l.defaults,
		metrics: domain.RiskMetrics{
			UserID:      userID,
			RiskScore:   50,
			LastUpdated: l.now(),
		},
	}
	l.users[userID] = st
	return st
}

// CanExecute runs the admission checks in order; the first failing check
// wins. Returns (false, reason) on denial.
//
// Order: cooldown → daily loss → position size → concurrency →
// low-confidence guard.
func (l *Ledger) CanExecute(userID string, opp domain.ArbitrageOpportunity, investmentUSD float64) (bool, string) {
	st := l.state(userID)
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	// 1. Cooldown, with lazy expiry: no per-user background timer.
	if st.inCooldown {
		if remaining := st.cooldownEndsAt.Sub(now); remaining > 0 {
			mins := int(math.Ceil(remaining.Minutes()))
			return false, fmt.Sprintf("in cooldown period, %d minutes remaining", mins)
		}
		st.inCooldown = false
		st.cooldownEndsAt = time.Time{}
	}

	// 2. Daily loss.
	if dailyLoss(st)+investmentUSD > st.limits.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached ($%.0f)", st.limits.MaxDailyLoss)
	}

	// 3. Position size.
	if investmentUSD > st.limits.MaxPositionSize {
		return false, fmt.Sprintf("position size exceeds limit ($%.0f)", st.limits.MaxPositionSize)
	}

	// 4. Concurrency.
	active := 0
	for _, t := range st.dailyTrades {
		if t.Active() {
			active++
		}
	}
	if active >= st.limits.MaxConcurrentTrades {
		return false, fmt.Sprintf("max concurrent trades reached (%d)", st.limits.MaxConcurrentTrades)
	}

	// 5. Confidence guard.
	if opp.Confidence == domain.ConfidenceLow && investmentUSD > st.limits.MaxPositionSize*0.5 {
		return false, "investment too high for a low-confidence opportunity"
	}

	return true, ""
}

// RecordPending registers a newly created leg so the concurrency check
// sees it while in flight. Metrics are untouched until the leg is terminal.
func (l *Ledger) RecordPending(userID string, trade domain.TradeExecution) {
	st := l.state(userID)
	st.mu.Lock()
	st.dailyTrades = append(st.dailyTrades, trade)
	st.mu.Unlock()
}

// RecordTrade records a terminal leg: replaces the in-flight entry,
// recomputes rolling metrics and the risk score, and triggers cooldown
// when the leg failed or the daily loss crossed the cooldown fraction.
func (l *Ledger) RecordTrade(userID string, trade domain.TradeExecution) {
	st := l.state(userID)
	now := l.now()

	st.mu.Lock()

	replaced := false
	for i := range st.dailyTrades {
		if st.dailyTrades[i].ID == trade.ID {
			st.dailyTrades[i] = trade
			replaced = true
			break
		}
	}
	if !replaced {
		st.dailyTrades = append(st.dailyTrades, trade)
	}

	// Una pata cancelada deja de contar para concurrencia pero no es un
	// trade ejecutado: no toca métricas ni cooldown.
	if trade.Status == domain.TradeCancelled {
		st.mu.Unlock()
		return
	}

	updateMetrics(st, trade, now)

	cooldown := trade.Status == domain.TradeFailed ||
		dailyLoss(st) > st.limits.MaxDailyLoss*cooldownLossFraction
	if cooldown && !st.inCooldown {
		st.inCooldown = true
		st.cooldownEndsAt = now.Add(st.limits.CooldownAfterLoss)
	}
	endsAt := st.cooldownEndsAt
	st.mu.Unlock()

	if cooldown {
		slog.Warn("cooldown triggered",
			"user", userID,
			"ends_at", endsAt.Format(time.RFC3339),
		)
		if l.sink != nil {
			l.sink.PublishAlert(domain.RiskAlert{
				ID:        "alert_" + uuid.NewString(),
				UserID:    userID,
				Type:      domain.AlertDailyLossLimit,
				Severity:  domain.SeverityWarning,
				Message:   fmt.Sprintf("cooldown active until %s", endsAt.Format("15:04:05")),
				Timestamp: now,
			})
		}
	}
}

// Metrics returns a copy of the user's rolling metrics.
func (l *Ledger) Metrics(userID string) domain.RiskMetrics {
	st := l.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.metrics
}

// Limits returns a copy of the user's limits.
func (l *Ledger) Limits(userID string) domain.RiskLimits {
	st := l.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.limits
}

// UpdateLimits applies a partial limits update, validating bounds.
func (l *Ledger) UpdateLimits(userID string, patch LimitsPatch) (domain.RiskLimits, error) {
	if patch.MaxDailyLoss != nil && *patch.MaxDailyLoss < minLimitUSD {
		return domain.RiskLimits{}, fmt.Errorf("risk.UpdateLimits: maxDailyLoss must be at least $%.0f", minLimitUSD)
	}
	if patch.MaxPositionSize != nil && *patch.MaxPositionSize < minLimitUSD {
		return domain.RiskLimits{}, fmt.Errorf("risk.UpdateLimits: maxPositionSize must be at least $%.0f", minLimitUSD)
	}
	if patch.MaxConcurrentTrades != nil && *patch.MaxConcurrentTrades < 1 {
		return domain.RiskLimits{}, fmt.Errorf("risk.UpdateLimits: maxConcurrentTrades must be at least 1")
	}

	st := l.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if patch.MaxDailyLoss != nil {
		st.limits.MaxDailyLoss = *patch.MaxDailyLoss
	}
	if patch.MaxPositionSize != nil {
		st.limits.MaxPositionSize = *patch.MaxPositionSize
	}
	if patch.MaxConcurrentTrades != nil {
		st.limits.MaxConcurrentTrades = *patch.MaxConcurrentTrades
	}
	if patch.CooldownAfterLoss != nil {
		st.limits.CooldownAfterLoss = *patch.CooldownAfterLoss
	}
	if patch.MaxSlippage != nil {
		st.limits.MaxSlippage = *patch.MaxSlippage
	}

	slog.Info("risk limits updated", "user", userID,
		"max_daily_loss", st.limits.MaxDailyLoss,
		"max_position", st.limits.MaxPositionSize,
	)
	return st.limits, nil
}

// CheckAlerts evaluates the user's state and publishes any alerts.
func (l *Ledger) CheckAlerts(userID string) []domain.RiskAlert {
	st := l.state(userID)
	now := l.now()

	st.mu.Lock()
	loss := dailyLoss(st)
	lossPct := 0.0
	if st.limits.MaxDailyLoss > 0 {
		lossPct = loss / st.limits.MaxDailyLoss * 100
	}
	metrics := st.metrics
	st.mu.Unlock()

	var alerts []domain.RiskAlert

	if lossPct >= cooldownLossFraction*100 {
		severity := domain.SeverityWarning
		if lossPct >= 100 {
			severity = domain.SeverityCritical
		}
		alerts = append(alerts, domain.RiskAlert{
			ID:        "alert_" + uuid.NewString(),
			UserID:    userID,
			Type:      domain.AlertDailyLossLimit,
			Severity:  severity,
			Message:   fmt.Sprintf("used %.0f%% of the daily loss limit", lossPct),
			Timestamp: now,
		})
	}

	if metrics.TotalTrades >= lowWinRateMinTrades && metrics.WinRate < lowWinRateThreshold {
		alerts = append(alerts, domain.RiskAlert{
			ID:        "alert_" + uuid.NewString(),
			UserID:    userID,
			Type:      domain.AlertUnusualActivity,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("win rate is low (%.0f%%)", metrics.WinRate*100),
			Timestamp: now,
		})
	}

	if l.sink != nil {
		for _, a := range alerts {
			l.sink.PublishAlert(a)
		}
	}
	return alerts
}

// RunDailyReset blocks until the context is cancelled, resetting all
// users at local midnight and every 24h after.
func (l *Ledger) RunDailyReset(ctx context.Context) {
	for {
		now := l.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return
		case <-time.After(midnight.Sub(now)):
			l.ResetDaily()
		}
	}
}

// ResetDaily folds daily PnL into the weekly/monthly aggregates, clears
// the day's trade list and the cooldown flag, for every known user.
func (l *Ledger) ResetDaily() {
	l.mu.RLock()
	users := make([]*userState, 0, len(l.users))
	for _, st := range l.users {
		users = append(users, st)
	}
	l.mu.RUnlock()

	for _, st := range users {
		st.mu.Lock()
		st.metrics.WeeklyPnL += st.metrics.DailyPnL
		st.metrics.MonthlyPnL += st.metrics.DailyPnL
		st.metrics.DailyPnL = 0
		st.dailyTrades = nil
		st.inCooldown = false
		st.cooldownEndsAt = time.Time{}
		st.mu.Unlock()
	}

	slog.Info("daily risk metrics reset", "users", len(users))
}

// dailyLoss sums the loss side of today's terminal trades. Callers hold
// the user lock.
func dailyLoss(st *userState) float64 {
	loss := 0.0
	for _, t := range st.dailyTrades {
		if t.Status != domain.TradeConfirmed && t.Status != domain.TradeFailed {
			continue
		}
		if pnl := t.PnL(); pnl < 0 {
			loss += -pnl
		}
	}
	return loss
}

// updateMetrics recomputes the rolling metrics after a terminal leg.
// Callers hold the user lock.
func updateMetrics(st *userState, trade domain.TradeExecution, now time.Time) {
	m := &st.metrics
	m.TotalTrades++

	wins := int(math.Round(m.WinRate * float64(m.TotalTrades-1)))

	switch trade.Status {
	case domain.TradeConfirmed:
		// weekly/monthly accumulate at the midnight fold, not here
		pnl := trade.PnL()
		m.DailyPnL += pnl

		if pnl > 0 {
			wins++
		} else if -pnl > m.MaxDrawdown {
			m.MaxDrawdown = -pnl
		}
	case domain.TradeFailed:
		if trade.RequestedAmount > m.MaxDrawdown {
			m.MaxDrawdown = trade.RequestedAmount
		}
	}

	m.WinRate = float64(wins) / float64(m.TotalTrades)
	m.AverageProfit = m.DailyPnL / float64(m.TotalTrades)
	m.RiskScore = domain.RiskScore(*m, dailyLoss(st), st.limits)
	m.LastUpdated = now
}
