package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// History persiste el histórico de oportunidades y trades fuera del hot
// path. El core nunca lee de aquí durante la evaluación; es una frontera
// sustituible por cualquier backing store real.
type History interface {
	// SaveOpportunity hace upsert del avistamiento de una oportunidad
	// (first/last seen, pico de beneficio) por mercado.
	SaveOpportunity(ctx context.Context, opp domain.ArbitrageOpportunity, action domain.OpportunityAction) error

	// SaveTrade añade el registro de una pata al log de trades.
	SaveTrade(ctx context.Context, trade domain.TradeExecution) error

	// TradesSince devuelve las patas registradas desde el instante dado.
	TradesSince(ctx context.Context, from time.Time) ([]domain.TradeExecution, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
