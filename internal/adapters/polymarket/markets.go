package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

const (
	clobMarketsPath   = "/markets"
	gammaMarketsPath  = "/markets"
	pageSize          = 100
	gammaConditionMax = 20
)

// Feed implementa ports.MarketFeed sobre el CLOB REST + WebSocket.
type Feed struct {
	*Client
	wsURL string
}

// NewFeed crea un Feed. Si wsURL está vacío usa el endpoint de producción.
func NewFeed(client *Client, wsURL string) *Feed {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &Feed{Client: client, wsURL: wsURL}
}

// ListMarkets devuelve todos los mercados binarios del CLOB, enriquecidos
// con metadata de Gamma. Pagina automáticamente usando next_cursor hasta
// agotar los resultados.
func (f *Feed) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for {
		url := fmt.Sprintf("%s%s?limit=%d", f.clobBase, clobMarketsPath, pageSize)
		if cursor != "" {
			url += "&next_cursor=" + cursor
		}

		var resp clobMarketsResponse
		if err := f.get(ctx, f.clobLimiter, url, &resp); err != nil {
			return nil, fmt.Errorf("polymarket.ListMarkets: %w", err)
		}

		for _, r := range resp.Data {
			m, ok := mapCLOBMarket(r)
			if !ok {
				continue
			}
			all = append(all, m)
		}

		slog.Debug("fetched markets page",
			"count", len(resp.Data),
			"total", len(all),
			"has_more", resp.NextCursor != "" && resp.NextCursor != "LTE=",
		)

		// "LTE=" es el cursor vacío codificado en base64 que indica última página
		if resp.NextCursor == "" || resp.NextCursor == "LTE=" {
			break
		}
		cursor = resp.NextCursor
	}

	slog.Info("markets fetched", "total", len(all))

	// Enriquecer con metadata de Gamma (slug, volumen 24h)
	enriched, err := f.enrichWithGamma(ctx, all)
	if err != nil {
		// El enriquecimiento es opcional — logueamos pero no fallamos
		slog.Warn("gamma enrichment failed, continuing without metadata", "err", err)
	} else {
		all = enriched
	}

	return all, nil
}

// mapCLOBMarket convierte un clobMarket DTO a domain.Market.
// Descarta mercados que no sean binarios YES/NO bien formados.
func mapCLOBMarket(r clobMarket) (domain.Market, bool) {
	if len(r.Tokens) < 2 {
		return domain.Market{}, false
	}

	m := domain.Market{
		ID:       r.ConditionID,
		Question: r.Question,
		Active:   r.Active,
		Closed:   r.Closed,
	}

	now := time.Now()
	for i, t := range r.Tokens {
		if i >= 2 {
			break
		}
		name := strings.ToUpper(t.Outcome)
		if name != "YES" && name != "NO" {
			// Mercados multi-outcome no aplican para este par
			return domain.Market{}, false
		}
		m.Outcomes[i] = domain.Outcome{
			TokenID:   t.TokenID,
			Name:      name,
			Price:     t.Price,
			UpdatedAt: now,
		}
	}

	if m.Outcomes[0].TokenID == "" || m.Outcomes[1].TokenID == "" {
		return domain.Market{}, false
	}
	return m, true
}

// enrichWithGamma obtiene metadata de Gamma (question, slug, volume24h)
// y la añade a los mercados. Los mercados sin datos en Gamma se devuelven
// sin enriquecer.
func (f *Feed) enrichWithGamma(ctx context.Context, markets []domain.Market) ([]domain.Market, error) {
	conditionIDs := make([]string, len(markets))
	for i, m := range markets {
		conditionIDs[i] = m.ID
	}

	metadata, err := f.fetchGammaMetadata(ctx, conditionIDs)
	if err != nil {
		return nil, fmt.Errorf("polymarket.enrichWithGamma: %w", err)
	}

	enriched := 0
	for i, m := range markets {
		if gm, ok := metadata[m.ID]; ok {
			enrichFromGamma(&markets[i], gm)
			enriched++
		}
	}

	slog.Debug("gamma enrichment complete",
		"markets", len(markets),
		"enriched", enriched,
	)
	return markets, nil
}

// fetchGammaMetadata obtiene la metadata de Gamma para los condition_ids dados.
func (f *Feed) fetchGammaMetadata(ctx context.Context, conditionIDs []string) (map[string]gammaMarket, error) {
	result := make(map[string]gammaMarket, len(conditionIDs))

	for i := 0; i < len(conditionIDs); i += gammaConditionMax {
		end := i + gammaConditionMax
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}
		batch := conditionIDs[i:end]

		url := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
			f.gammaBase,
			gammaMarketsPath,
			strings.Join(batch, ","),
			gammaConditionMax,
		)

		var resp gammaMarketsResponse
		if err := f.get(ctx, f.gammaLimiter, url, &resp); err != nil {
			slog.Debug("gamma batch failed, skipping",
				"batch", fmt.Sprintf("%d-%d", i, end),
				"err", err,
			)
			continue
		}

		for _, gm := range resp {
			result[gm.ConditionID] = gm
		}
	}

	return result, nil
}

// enrichFromGamma aplica la metadata de Gamma sobre un mercado existente.
func enrichFromGamma(m *domain.Market, gm gammaMarket) {
	if gm.Question != "" && m.Question == "" {
		m.Question = gm.Question
	}
	m.Slug = gm.Slug

	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
}
