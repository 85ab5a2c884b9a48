package ports

import (
	"context"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// OrderService construye, valida, firma y somete órdenes al CLOB.
// Es la frontera con el firmante/ejecutor externo: ninguna de estas
// llamadas debe invocarse con locks del store o del ledger tomados.
type OrderService interface {
	// EstimateCost devuelve el coste estimado (gas/fees) en USD de
	// ejecutar un par de órdenes.
	EstimateCost(ctx context.Context) (float64, error)

	// BuildOrder construye una orden limit para el token dado.
	BuildOrder(tokenID string, price, size float64, side string) domain.Order

	// Validate comprueba que la orden sea ejecutable.
	Validate(order domain.Order) domain.OrderValidation

	// Submit firma y somete la orden. Bloquea hasta la respuesta del
	// ejecutor externo.
	Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error)
}
