package domain

import "time"

// Market representa un mercado de predicción binario en Polymarket.
type Market struct {
	ID        string // condition ID del mercado
	Question  string
	Slug      string
	Volume24h float64 // volumen últimas 24h en USDC, enriquecido desde Gamma
	Outcomes  [2]Outcome
	Active    bool
	Closed    bool
}

// Outcome es uno de los dos lados del mercado (YES/NO).
type Outcome struct {
	TokenID   string
	Name      string  // "YES" | "NO"
	Price     float64 // último precio conocido, actualizado por el feed
	BestBid   float64
	BestAsk   float64
	UpdatedAt time.Time
}

// Tradeable devuelve true si el mercado está activo y sin cerrar.
func (m Market) Tradeable() bool {
	return m.Active && !m.Closed
}

// YesOutcome devuelve el lado YES del mercado.
func (m Market) YesOutcome() Outcome {
	for _, o := range m.Outcomes {
		if o.Name == "YES" {
			return o
		}
	}
	return m.Outcomes[0]
}

// NoOutcome devuelve el lado NO del mercado.
func (m Market) NoOutcome() Outcome {
	for _, o := range m.Outcomes {
		if o.Name == "NO" {
			return o
		}
	}
	return m.Outcomes[1]
}

// TokenIDs devuelve los token IDs de ambos lados, omitiendo los vacíos.
func (m Market) TokenIDs() []string {
	ids := make([]string, 0, 2)
	for _, o := range m.Outcomes {
		if o.TokenID != "" {
			ids = append(ids, o.TokenID)
		}
	}
	return ids
}

// Quote construye el PriceQuote actual del mercado con los últimos
// precios cacheados. Los best bid/ask se aproximan desde el último precio
// cuando el feed no ha entregado todavía datos de book.
func (m Market) Quote(now time.Time) PriceQuote {
	yes := m.YesOutcome()
	no := m.NoOutcome()

	q := PriceQuote{
		MarketID:   m.ID,
		YesPrice:   yes.Price,
		NoPrice:    no.Price,
		YesBestBid: yes.BestBid,
		YesBestAsk: yes.BestAsk,
		NoBestBid:  no.BestBid,
		NoBestAsk:  no.BestAsk,
		Liquidity:  m.Volume24h,
		Timestamp:  now,
	}
	if q.YesBestBid == 0 {
		q.YesBestBid = yes.Price * 0.99
	}
	if q.YesBestAsk == 0 {
		q.YesBestAsk = yes.Price * 1.01
	}
	if q.NoBestBid == 0 {
		q.NoBestBid = no.Price * 0.99
	}
	if q.NoBestAsk == 0 {
		q.NoBestAsk = no.Price * 1.01
	}
	return q
}

// PriceQuote es el par de precios YES/NO de un mercado en un instante.
// Es efímero: se produce por evaluación y no se persiste.
type PriceQuote struct {
	MarketID   string
	YesPrice   float64
	NoPrice    float64
	YesBestBid float64
	YesBestAsk float64
	NoBestBid  float64
	NoBestAsk  float64
	Liquidity  float64 // proxy: volumen 24h en USDC, 0 si no se conoce
	Timestamp  time.Time
}

// HasPrices devuelve true si ambos lados tienen precio en (0,1).
func (q PriceQuote) HasPrices() bool {
	return q.YesPrice > 0 && q.YesPrice < 1 && q.NoPrice > 0 && q.NoPrice < 1
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del ID como fallback.
func TruncateQuestion(question, marketID string, maxLen int) string {
	q := question
	if q == "" {
		if len(marketID) > 20 {
			q = marketID[:20] + "..."
		} else {
			q = marketID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
