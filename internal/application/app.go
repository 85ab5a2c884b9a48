package application

// app.go — superficie de consulta y comando sobre los tres subsistemas.
// No añade semántica propia: delega en scanner, ledger y executor, y es
// el único punto que un frontend (CLI, HTTP) necesita conocer.

import (
	"context"

	"github.com/alejandrodnm/polyarb/internal/application/executor"
	"github.com/alejandrodnm/polyarb/internal/application/risk"
	"github.com/alejandrodnm/polyarb/internal/application/scanner"
	"github.com/alejandrodnm/polyarb/internal/domain"
)

// App agrupa el scanner, el ledger de riesgo y el executor.
type App struct {
	Scanner  *scanner.Scanner
	Risk     *risk.Ledger
	Executor *executor.Executor
}

// New crea la fachada sobre los subsistemas ya construidos.
func New(s *scanner.Scanner, l *risk.Ledger, ex *executor.Executor) *App {
	return &App{Scanner: s, Risk: l, Executor: ex}
}

// Start arranca el scanner.
func (a *App) Start(ctx context.Context) error {
	return a.Scanner.Start(ctx)
}

// Stop detiene el scanner. Los trades en vuelo terminan por su cuenta.
func (a *App) Stop() {
	a.Scanner.Stop()
}

// ListOpportunities devuelve las oportunidades vivas, mejor beneficio primero.
func (a *App) ListOpportunities() []domain.ArbitrageOpportunity {
	return a.Scanner.Opportunities()
}

// GetOpportunity busca una oportunidad viva por ID.
func (a *App) GetOpportunity(id string) (domain.ArbitrageOpportunity, bool) {
	return a.Scanner.Opportunity(id)
}

// Status devuelve el estado observable del scanner.
func (a *App) Status() scanner.Status {
	return a.Scanner.GetStatus()
}

// UpdateScannerConfig aplica un patch de configuración en caliente.
func (a *App) UpdateScannerConfig(patch scanner.ConfigPatch) domain.ArbitrageConfig {
	return a.Scanner.UpdateConfig(patch)
}

// Execute ejecuta una oportunidad para un usuario. En modo watch-only
// (sin executor) devuelve ErrExecutionDisabled.
func (a *App) Execute(ctx context.Context, opportunityID, userID string, investmentUSD float64) (*executor.Result, error) {
	if a.Executor == nil {
		return nil, domain.ErrExecutionDisabled
	}
	return a.Executor.Execute(ctx, opportunityID, userID, investmentUSD)
}

// Cancel intenta cancelar una pata PENDING. Devuelve false si ya avanzó.
func (a *App) Cancel(tradeID, userID string) bool {
	if a.Executor == nil {
		return false
	}
	return a.Executor.Cancel(tradeID, userID)
}

// ActiveTrades devuelve las patas en vuelo.
func (a *App) ActiveTrades() []domain.TradeExecution {
	if a.Executor == nil {
		return nil
	}
	return a.Executor.ActiveTrades()
}

// RiskMetrics devuelve las métricas rodantes de un usuario.
func (a *App) RiskMetrics(userID string) domain.RiskMetrics {
	return a.Risk.Metrics(userID)
}

// RiskLimits devuelve los límites vigentes de un usuario.
func (a *App) RiskLimits(userID string) domain.RiskLimits {
	return a.Risk.Limits(userID)
}

// UpdateRiskLimits aplica un patch de límites validado.
func (a *App) UpdateRiskLimits(userID string, patch risk.LimitsPatch) (domain.RiskLimits, error) {
	return a.Risk.UpdateLimits(userID, patch)
}

// CheckRiskAlerts evalúa y publica las alertas del usuario.
func (a *App) CheckRiskAlerts(userID string) []domain.RiskAlert {
	return a.Risk.CheckAlerts(userID)
}
