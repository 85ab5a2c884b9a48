package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en markets.go.

// --- CLOB API ---

// clobMarketsResponse es la respuesta paginada de GET /markets.
type clobMarketsResponse struct {
	Limit      int          `json:"limit"`
	Count      int          `json:"count"`
	NextCursor string       `json:"next_cursor"`
	Data       []clobMarket `json:"data"`
}

// clobMarket es un mercado binario del CLOB.
type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Tokens      []clobToken `json:"tokens"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata enriquecida de un mercado.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
type gammaMarket struct {
	ConditionID string      `json:"conditionId"`
	Question    string      `json:"question"`
	Slug        string      `json:"slug"`
	Volume24h   json.Number `json:"volume24hr"`
	Liquidity   json.Number `json:"liquidity"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// --- WebSocket ---

// wsCommand es el mensaje de suscripción enviado al WS del CLOB.
type wsCommand struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// wsEnvelope identifica el tipo de mensaje entrante.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// wsBookMessage es el snapshot de book del canal "book".
type wsBookMessage struct {
	AssetID   string       `json:"asset_id"`
	Bids      []wsBookLevel `json:"bids"`
	Asks      []wsBookLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsPriceChange es un cambio incremental del canal "price_change".
type wsPriceChange struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// wsLastTrade es el último precio cruzado del canal "last_trade_price".
type wsLastTrade struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}
