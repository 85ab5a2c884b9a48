package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de la superficie de ejecución. La conectividad del feed nunca
// llega aquí: se recupera localmente y solo degrada la frescura.
var (
	// ErrScannerNotReady: el store de oportunidades no está disponible.
	ErrScannerNotReady = errors.New("scanner not ready")

	// ErrOpportunityNotFound cubre tanto "nunca existió" como "expiró".
	ErrOpportunityNotFound = errors.New("opportunity not found or expired")

	// ErrExceedsMaxPosition: la inversión supera el cap del usuario.
	ErrExceedsMaxPosition = errors.New("investment exceeds max position size")

	// ErrNotProfitable: el beneficio neto tras costes es <= 0.
	ErrNotProfitable = errors.New("trade not profitable after estimated costs")

	// ErrExecutionDisabled: la app corre en modo watch-only, sin executor.
	ErrExecutionDisabled = errors.New("execution disabled: watch-only mode")
)

// RiskDeniedError transporta la razón de denegación del ledger de riesgo
// tal cual, sin reinterpretar.
type RiskDeniedError struct {
	Reason string
}

func (e *RiskDeniedError) Error() string {
	return "risk denied: " + e.Reason
}

// InvalidOrderError lista todos los fallos de validación de ambas patas.
type InvalidOrderError struct {
	Errors []string
}

func (e *InvalidOrderError) Error() string {
	return "invalid orders: " + strings.Join(e.Errors, ", ")
}

// ExecutionFailedError envuelve el error terminal de una pata.
type ExecutionFailedError struct {
	Outcome string
	Cause   string
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("%s leg failed: %s", e.Outcome, e.Cause)
}
