package domain

import (
	"fmt"
	"math"
	"time"
)

// ArbitrageType clasifica la oportunidad según el lado del desajuste.
type ArbitrageType string

const (
	// BuyBoth: YES + NO < 1.00 → comprar ambos lados garantiza 1.00 al resolverse.
	BuyBoth ArbitrageType = "BUY_BOTH"
	// SellBoth: YES + NO > 1.00 → vender ambos lados captura el exceso.
	SellBoth ArbitrageType = "SELL_BOTH"
)

// Confidence es el bucket cualitativo derivado del porcentaje de beneficio.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ArbitrageConfig parametriza el detector.
type ArbitrageConfig struct {
	MinProfitPercentage float64
	MaxPositionSizeUSD  float64
	MinLiquidity        float64
	SlippageTolerance   float64
	MaxGasPriceGwei     int
	MaxConcurrentTrades int
}

// Umbrales de confianza por porcentaje de beneficio:
//
//	>= 2.0% → HIGH    desajuste grande, improbable que sea ruido
//	>= 1.0% → MEDIUM
//	<  1.0% → LOW     puede evaporarse antes de ejecutar
const (
	highConfidenceThreshold   = 2.0
	mediumConfidenceThreshold = 1.0
)

const (
	// maxInvestmentCeiling es el techo duro por oportunidad en USDC,
	// independiente del cap configurado.
	maxInvestmentCeiling = 100.0

	// opportunityTTL es el horizonte de vida fijo de una oportunidad.
	// Los desajustes de precio duran segundos; no es configurable.
	opportunityTTL = 30 * time.Second

	// minTradeSizeUSD es el mínimo razonable por trade; por debajo
	// el gas se come cualquier beneficio.
	minTradeSizeUSD = 5.0
)

// ArbitrageOpportunity es un desajuste YES+NO != 1.00 detectado y acotado
// en el tiempo. Inmutable una vez creada: las actualizaciones reemplazan,
// nunca mutan, para que los lectores no necesiten locks.
type ArbitrageOpportunity struct {
	ID               string
	MarketID         string
	MarketQuestion   string
	Type             ArbitrageType
	YesPrice         float64
	NoPrice          float64
	TotalPrice       float64
	ProfitPercentage float64
	ProfitAbsolute   float64
	MaxInvestment    float64
	EstimatedProfit  float64
	Confidence       Confidence
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired devuelve true si la oportunidad ya pasó su horizonte de vida.
func (o ArbitrageOpportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Detect evalúa un par de precios y devuelve la oportunidad si existe.
//
// Pura y determinista: todo el estado entra por parámetros (el timestamp
// del quote fija createdAt/expiresAt y el ID), así que es segura desde
// cualquier goroutine sin sincronización.
//
// El beneficio se normaliza por el coste total del par:
// profitPercentage = |1 - total| / total × 100.
func Detect(q PriceQuote, cfg ArbitrageConfig, marketQuestion string) (ArbitrageOpportunity, bool) {
	if !q.HasPrices() {
		return ArbitrageOpportunity{}, false
	}

	total := q.YesPrice + q.NoPrice
	var typ ArbitrageType
	switch {
	case total < 1.0:
		typ = BuyBoth
	case total > 1.0:
		typ = SellBoth
	default:
		// exactamente 1.00 — mercado bien preciado
		return ArbitrageOpportunity{}, false
	}

	profitAbs := math.Abs(1.0 - total)
	profitPct := profitAbs / total * 100

	if profitPct < cfg.MinProfitPercentage {
		return ArbitrageOpportunity{}, false
	}

	maxInvestment := math.Min(cfg.MaxPositionSizeUSD, maxInvestmentCeiling)

	opp := ArbitrageOpportunity{
		ID:               opportunityID(q.MarketID, q.Timestamp),
		MarketID:         q.MarketID,
		MarketQuestion:   marketQuestion,
		Type:             typ,
		YesPrice:         q.YesPrice,
		NoPrice:          q.NoPrice,
		TotalPrice:       total,
		ProfitPercentage: profitPct,
		ProfitAbsolute:   profitAbs,
		MaxInvestment:    maxInvestment,
		EstimatedProfit:  maxInvestment * profitPct / 100,
		Confidence:       confidenceFor(profitPct),
		CreatedAt:        q.Timestamp,
		ExpiresAt:        q.Timestamp.Add(opportunityTTL),
	}
	return opp, true
}

// StillValid re-evalúa la oportunidad contra precios frescos antes de
// ejecutar. Expiración, cambio de tipo o beneficio por debajo del umbral
// la invalidan.
func (o ArbitrageOpportunity) StillValid(q PriceQuote, cfg ArbitrageConfig, now time.Time) bool {
	if o.Expired(now) {
		return false
	}
	fresh, ok := Detect(q, cfg, o.MarketQuestion)
	if !ok || fresh.Type != o.Type {
		return false
	}
	return fresh.ProfitPercentage >= cfg.MinProfitPercentage
}

// OptimalPositionSize calcula el tamaño de posición dado el balance
// disponible, escalado según la confianza. Devuelve 0 si el resultado
// queda por debajo del mínimo (no compensa el gas).
func (o ArbitrageOpportunity) OptimalPositionSize(availableBalance float64, cfg ArbitrageConfig) float64 {
	size := math.Min(availableBalance, cfg.MaxPositionSizeUSD)

	switch o.Confidence {
	case ConfidenceLow:
		size *= 0.5
	case ConfidenceMedium:
		size *= 0.75
	}

	if size < minTradeSizeUSD {
		return 0
	}
	return size
}

// ExpectedSlippage estima el slippage según la liquidez disponible.
// Modelo cuadrático simple: crece con el cuadrado del ratio orden/liquidez.
func ExpectedSlippage(orderSize, availableLiquidity float64) float64 {
	if availableLiquidity <= 0 {
		return 1 // 100% si no hay liquidez
	}
	ratio := orderSize / availableLiquidity
	return math.Min(ratio*ratio, 1)
}

func confidenceFor(profitPct float64) Confidence {
	switch {
	case profitPct >= highConfidenceThreshold:
		return ConfidenceHigh
	case profitPct >= mediumConfidenceThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// opportunityID deriva un ID estable de mercado + timestamp. Lleva el
// condition ID completo: dos mercados detectados en el mismo milisegundo
// nunca comparten ID.
func opportunityID(marketID string, ts time.Time) string {
	return fmt.Sprintf("arb_%s_%d", marketID, ts.UnixMilli())
}
