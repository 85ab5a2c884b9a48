package ports

import (
	"context"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// PriceUpdate es una actualización de precio empujada por el feed.
type PriceUpdate struct {
	TokenID   string
	Price     float64
	BestBid   float64
	BestAsk   float64
	Timestamp int64 // unix millis
}

// MarketFeed provee el snapshot inicial de mercados y el stream de precios.
// La implementación debe reconectar y re-suscribirse de forma transparente;
// una caída del feed nunca se propaga al consumidor como error.
type MarketFeed interface {
	// ListMarkets devuelve todos los mercados disponibles.
	// El llamador filtra los inactivos/cerrados.
	ListMarkets(ctx context.Context) ([]domain.Market, error)

	// Subscribe abre el stream de actualizaciones para los tokens dados.
	// El canal se cierra cuando el contexto se cancela.
	Subscribe(ctx context.Context, tokenIDs []string) (<-chan PriceUpdate, error)
}
