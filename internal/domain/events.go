package domain

import "time"

// OpportunityAction describe el cambio que dispara un evento de oportunidad.
type OpportunityAction string

const (
	OpportunityNew     OpportunityAction = "NEW"
	OpportunityUpdate  OpportunityAction = "UPDATE"
	OpportunityExpired OpportunityAction = "EXPIRED"
)

// OpportunityEvent notifica altas, actualizaciones y expiraciones del store.
type OpportunityEvent struct {
	Action      OpportunityAction
	Opportunity ArbitrageOpportunity
	Timestamp   time.Time
}

// TradeEvent notifica cada transición de estado de una pata.
type TradeEvent struct {
	Trade     TradeExecution
	Timestamp time.Time
}
