package ports

import "github.com/alejandrodnm/polyarb/internal/domain"

// EventSink recibe los cambios de estado de oportunidades y trades.
// Entrega at-most-once, best-effort: no hay replay ni acks, y las
// implementaciones no deben bloquear al emisor.
type EventSink interface {
	PublishOpportunity(ev domain.OpportunityEvent)
	PublishTrade(ev domain.TradeEvent)
	PublishAlert(alert domain.RiskAlert)
}
