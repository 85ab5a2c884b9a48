package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus es el estado de una pata dentro de su máquina de estados:
//
//	PENDING → SUBMITTED → {CONFIRMED | FAILED}
//	PENDING → CANCELLED
//
// La cancelación solo es legal en PENDING; tras SUBMITTED la pata es final.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeSubmitted TradeStatus = "SUBMITTED"
	TradeConfirmed TradeStatus = "CONFIRMED"
	TradeFailed    TradeStatus = "FAILED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Terminal devuelve true si el estado no admite más transiciones.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeConfirmed, TradeFailed, TradeCancelled:
		return true
	}
	return false
}

// CanTransition valida una transición de la máquina de estados.
func (s TradeStatus) CanTransition(to TradeStatus) bool {
	switch s {
	case TradePending:
		return to == TradeSubmitted || to == TradeCancelled
	case TradeSubmitted:
		return to == TradeConfirmed || to == TradeFailed
	}
	return false
}

// TradeExecution es el registro de una pata (YES o NO) de un trade
// emparejado. Dos registros comparten ExecutionID; los estados terminales
// son inmutables.
type TradeExecution struct {
	ID               string
	ExecutionID      string // id compartido por las dos patas del par
	MarketID         string
	Side             string // siempre "BUY" en este motor
	Outcome          string // "YES" | "NO"
	RequestedAmount  float64
	RequestedPrice   float64
	ExecutedPrice    float64
	Slippage         float64 // (executed - requested) / requested
	ExpectedSlippage float64 // estimación pre-envío según liquidez
	Status           TradeStatus
	SettlementRef    string // hash de la tx de liquidación, si existe
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewTradeExecution crea el registro de una pata en PENDING.
func NewTradeExecution(executionID, marketID, outcome string, amount, price float64, now time.Time) TradeExecution {
	return TradeExecution{
		ID:              "trade_" + uuid.NewString(),
		ExecutionID:     executionID,
		MarketID:        marketID,
		Side:            "BUY",
		Outcome:         outcome,
		RequestedAmount: amount,
		RequestedPrice:  price,
		Status:          TradePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Fill registra el precio ejecutado y calcula el slippage.
func (t *TradeExecution) Fill(executedPrice float64) {
	t.ExecutedPrice = executedPrice
	if t.RequestedPrice > 0 {
		t.Slippage = (executedPrice - t.RequestedPrice) / t.RequestedPrice
	}
}

// PnL devuelve el P&L realizado de la pata. Una pata FAILED cuenta como
// pérdida total del importe solicitado.
func (t TradeExecution) PnL() float64 {
	switch t.Status {
	case TradeFailed:
		return -t.RequestedAmount
	case TradeConfirmed:
		return (t.ExecutedPrice - t.RequestedPrice) * t.RequestedAmount
	}
	return 0
}

// Active devuelve true si la pata cuenta para el límite de concurrencia.
func (t TradeExecution) Active() bool {
	return t.Status == TradePending || t.Status == TradeSubmitted
}
