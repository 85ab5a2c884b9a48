package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

// Config contiene la configuración del scanner.
type Config struct {
	Arbitrage    domain.ArbitrageConfig
	ScanInterval time.Duration
}

// ConfigPatch es una actualización parcial de la configuración de
// detección. Los campos nil se dejan como están.
type ConfigPatch struct {
	MinProfitPercentage *float64
	MaxPositionSizeUSD  *float64
	MinLiquidity        *float64
	SlippageTolerance   *float64
	MaxGasPriceGwei     *int
	MaxConcurrentTrades *int
}

// Status es el estado observable del scanner.
type Status struct {
	Running       bool
	Markets       int
	Opportunities int
	Config        domain.ArbitrageConfig
}

// marketState es la entrada del registro con su propio lock: actualizar
// el precio de un mercado no bloquea lecturas/escrituras de otro.
type marketState struct {
	mu     sync.Mutex
	market domain.Market
}

// Scanner es el orquestador: carga el registro de mercados, consume el
// feed de precios y el timer periódico, y alimenta el Store vía detector.
type Scanner struct {
	feed    ports.MarketFeed
	store   *Store
	history ports.History // opcional, persistencia fuera del hot path

	cfgMu        sync.RWMutex
	cfg          domain.ArbitrageConfig
	scanInterval time.Duration

	mu         sync.RWMutex
	running    bool
	starting   bool // Start en curso: bloquea arranques concurrentes
	markets    map[string]*marketState
	tokenIndex map[string]string // tokenID → marketID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New crea un Scanner con todas las dependencias inyectadas.
// history puede ser nil (sin persistencia de histórico).
func New(cfg Config, feed ports.MarketFeed, store *Store, history ports.History) *Scanner {
	return &Scanner{
		feed:         feed,
		store:        store,
		history:      history,
		cfg:          cfg.Arbitrage,
		scanInterval: cfg.ScanInterval,
		markets:      make(map[string]*marketState),
		tokenIndex:   make(map[string]string),
	}
}

// Start carga los mercados, abre la suscripción al feed y arranca el
// timer. Idempotente, también frente a llamadas concurrentes: mientras un
// arranque está en curso cualquier otro Start es no-op con warning.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.starting {
		s.mu.Unlock()
		slog.Warn("scanner already running")
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	markets, err := s.feed.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("scanner.Start: list markets: %w", err)
	}

	var tokenIDs []string
	registry := make(map[string]*marketState)
	index := make(map[string]string)
	for _, m := range markets {
		if !m.Tradeable() {
			continue
		}
		registry[m.ID] = &marketState{market: m}
		for _, id := range m.TokenIDs() {
			index[id] = m.ID
			tokenIDs = append(tokenIDs, id)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	updates, err := s.feed.Subscribe(runCtx, tokenIDs)
	if err != nil {
		cancel()
		return fmt.Errorf("scanner.Start: subscribe: %w", err)
	}

	s.mu.Lock()
	s.markets = registry
	s.tokenIndex = index
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.consumeFeed(runCtx, updates)
	go s.runTimer(runCtx)

	slog.Info("scanner started",
		"markets", len(registry),
		"tokens", len(tokenIDs),
		"interval", s.scanInterval,
	)
	return nil
}

// Stop cancela el timer, cierra la suscripción y limpia todo el estado.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.markets = make(map[string]*marketState)
	s.tokenIndex = make(map[string]string)
	s.mu.Unlock()
	s.store.Clear()

	slog.Info("scanner stopped")
}

// Running devuelve true si el scanner está activo.
func (s *Scanner) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// UpdateConfig aplica un patch de configuración en caliente, sin restart.
func (s *Scanner) UpdateConfig(patch ConfigPatch) domain.ArbitrageConfig {
	s.cfgMu.Lock()
	if patch.MinProfitPercentage != nil {
		s.cfg.MinProfitPercentage = *patch.MinProfitPercentage
	}
	if patch.MaxPositionSizeUSD != nil {
		s.cfg.MaxPositionSizeUSD = *patch.MaxPositionSizeUSD
	}
	if patch.MinLiquidity != nil {
		s.cfg.MinLiquidity = *patch.MinLiquidity
	}
	if patch.SlippageTolerance != nil {
		s.cfg.SlippageTolerance = *patch.SlippageTolerance
	}
	if patch.MaxGasPriceGwei != nil {
		s.cfg.MaxGasPriceGwei = *patch.MaxGasPriceGwei
	}
	if patch.MaxConcurrentTrades != nil {
		s.cfg.MaxConcurrentTrades = *patch.MaxConcurrentTrades
	}
	cfg := s.cfg
	s.cfgMu.Unlock()

	slog.Info("scanner config updated",
		"min_profit_pct", cfg.MinProfitPercentage,
		"max_position_usd", cfg.MaxPositionSizeUSD,
	)
	return cfg
}

// ArbitrageConfig devuelve una copia de la configuración vigente.
func (s *Scanner) ArbitrageConfig() domain.ArbitrageConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// GetStatus devuelve el estado observable del scanner.
func (s *Scanner) GetStatus() Status {
	s.mu.RLock()
	running := s.running
	markets := len(s.markets)
	s.mu.RUnlock()

	return Status{
		Running:       running,
		Markets:       markets,
		Opportunities: s.store.Len(),
		Config:        s.ArbitrageConfig(),
	}
}

// Ready informa si el scanner está listo para servir oportunidades.
func (s *Scanner) Ready() bool {
	return s.Running()
}

// Opportunity busca una oportunidad viva por ID en el Store.
func (s *Scanner) Opportunity(id string) (domain.ArbitrageOpportunity, bool) {
	return s.store.Get(id, time.Now())
}

// Opportunities devuelve las oportunidades vivas ordenadas por beneficio.
func (s *Scanner) Opportunities() []domain.ArbitrageOpportunity {
	return s.store.List(time.Now())
}

// MarketTokens devuelve los token IDs YES/NO del mercado registrado.
func (s *Scanner) MarketTokens(marketID string) (yesToken, noToken string, ok bool) {
	s.mu.RLock()
	ms, exists := s.markets[marketID]
	s.mu.RUnlock()
	if !exists {
		return "", "", false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	yes := ms.market.YesOutcome()
	no := ms.market.NoOutcome()
	if yes.TokenID == "" || no.TokenID == "" {
		return "", "", false
	}
	return yes.TokenID, no.TokenID, true
}

// Quote devuelve el quote actual del mercado, si está registrado.
// Lo usa el executor para revalidar una oportunidad antes de ejecutar.
func (s *Scanner) Quote(marketID string) (domain.PriceQuote, bool) {
	s.mu.RLock()
	ms, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return domain.PriceQuote{}, false
	}

	ms.mu.Lock()
	q := ms.market.Quote(time.Now())
	ms.mu.Unlock()
	return q, true
}

// consumeFeed es el loop consumidor del stream de precios. Una caída del
// feed no llega aquí: el adapter reconecta solo y el canal sigue vivo.
func (s *Scanner) consumeFeed(ctx context.Context, updates <-chan ports.PriceUpdate) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				slog.Warn("feed channel closed, serving last-known state")
				return
			}
			s.handleUpdate(u)
		}
	}
}

// handleUpdate localiza el mercado del token, actualiza el precio cacheado
// de ese lado y re-evalúa el mercado contra el detector.
func (s *Scanner) handleUpdate(u ports.PriceUpdate) {
	s.mu.RLock()
	marketID, ok := s.tokenIndex[u.TokenID]
	var ms *marketState
	if ok {
		ms = s.markets[marketID]
	}
	s.mu.RUnlock()
	if ms == nil {
		return
	}

	now := time.UnixMilli(u.Timestamp)

	ms.mu.Lock()
	for i := range ms.market.Outcomes {
		if ms.market.Outcomes[i].TokenID == u.TokenID {
			ms.market.Outcomes[i].Price = u.Price
			if u.BestBid > 0 {
				ms.market.Outcomes[i].BestBid = u.BestBid
			}
			if u.BestAsk > 0 {
				ms.market.Outcomes[i].BestAsk = u.BestAsk
			}
			ms.market.Outcomes[i].UpdatedAt = now
			break
		}
	}
	quote := ms.market.Quote(now)
	question := ms.market.Question
	ms.mu.Unlock()

	s.evaluate(quote, question)
}

// evaluate corre el detector con la config vigente y actualiza el Store.
func (s *Scanner) evaluate(q domain.PriceQuote, question string) {
	cfg := s.ArbitrageConfig()

	opp, ok := domain.Detect(q, cfg, question)
	if !ok {
		s.store.Evict(q.MarketID)
		return
	}
	s.store.Upsert(opp)
}

// runTimer ejecuta el ciclo periódico: sweep de expiradas + re-evaluación
// de todos los mercados registrados. Cubre mercados que el feed no ha
// refrescado y garantiza consistencia eventual aunque se pierda un push.
func (s *Scanner) runTimer(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle hace un barrido completo. Un mercado problemático se loguea y
// se salta: nunca aborta el escaneo del resto.
func (s *Scanner) runCycle(ctx context.Context) {
	start := time.Now()

	swept := s.store.Sweep(start)

	s.mu.RLock()
	states := make([]*marketState, 0, len(s.markets))
	for _, ms := range s.markets {
		states = append(states, ms)
	}
	s.mu.RUnlock()

	evaluated := 0
	for _, ms := range states {
		ms.mu.Lock()
		quote := ms.market.Quote(start)
		question := ms.market.Question
		ms.mu.Unlock()

		if !quote.HasPrices() {
			slog.Debug("skipping market without prices", "market", quote.MarketID)
			continue
		}
		s.evaluate(quote, question)
		evaluated++
	}

	s.persistCycle(ctx)

	slog.Debug("scan cycle complete",
		"evaluated", evaluated,
		"swept", swept,
		"opportunities", s.store.Len(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// persistCycle guarda las oportunidades vivas en el histórico.
// Best-effort: un error de storage se loguea y el ciclo sigue.
func (s *Scanner) persistCycle(ctx context.Context) {
	if s.history == nil {
		return
	}
	for _, opp := range s.store.List(time.Now()) {
		if err := s.history.SaveOpportunity(ctx, opp, domain.OpportunityUpdate); err != nil {
			slog.Warn("history save failed", "opportunity", opp.ID, "err", err)
			return
		}
	}
}
