package scanner

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

// profitDeltaThreshold: variación mínima de profitPercentage (en puntos
// porcentuales) para reemplazar una oportunidad viva y emitir UPDATE.
// Evita tormentas de eventos por jitter de precio.
const profitDeltaThreshold = 0.1

// Store es la colección concurrente de oportunidades vivas.
//
// Mapa primario por ID más índice secundario por mercado (como mucho una
// oportunidad viva por mercado). Las oportunidades son inmutables: Upsert
// reemplaza el valor entero, así los lectores ven siempre un snapshot
// consistente sin retener el lock durante el consumo.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]domain.ArbitrageOpportunity
	byMarket map[string]string // marketID → opportunity ID
	sink     ports.EventSink
}

// NewStore crea un Store vacío que publica cambios en el sink dado.
func NewStore(sink ports.EventSink) *Store {
	return &Store{
		byID:     make(map[string]domain.ArbitrageOpportunity),
		byMarket: make(map[string]string),
		sink:     sink,
	}
}

// Upsert inserta o reemplaza la oportunidad viva del mercado.
//
// Sin oportunidad previa → inserta y emite NEW. Con previa y delta de
// beneficio > profitDeltaThreshold → reemplaza y emite UPDATE. En otro
// caso es no-op.
func (s *Store) Upsert(opp domain.ArbitrageOpportunity) {
	s.mu.Lock()

	// Un ID ya vivo de otro mercado no se pisa: dejaría el índice del otro
	// mercado colgando. No puede ocurrir con IDs que llevan el condition ID
	// completo, pero el store no depende de ello.
	if cur, ok := s.byID[opp.ID]; ok && cur.MarketID != opp.MarketID {
		s.mu.Unlock()
		return
	}

	action := domain.OpportunityNew
	if prevID, ok := s.byMarket[opp.MarketID]; ok {
		prev := s.byID[prevID]
		delta := opp.ProfitPercentage - prev.ProfitPercentage
		if delta < 0 {
			delta = -delta
		}
		if delta <= profitDeltaThreshold {
			s.mu.Unlock()
			return
		}
		delete(s.byID, prevID)
		action = domain.OpportunityUpdate
	}

	s.byID[opp.ID] = opp
	s.byMarket[opp.MarketID] = opp.ID
	s.mu.Unlock()

	s.sink.PublishOpportunity(domain.OpportunityEvent{
		Action:      action,
		Opportunity: opp,
		Timestamp:   time.Now(),
	})
}

// Evict elimina la oportunidad viva del mercado, si existe, y emite
// EXPIRED. Se llama cuando el detector deja de ver desajuste.
func (s *Store) Evict(marketID string) {
	s.mu.Lock()
	id, ok := s.byMarket[marketID]
	if !ok {
		s.mu.Unlock()
		return
	}
	opp := s.byID[id]
	delete(s.byID, id)
	delete(s.byMarket, marketID)
	s.mu.Unlock()

	s.sink.PublishOpportunity(domain.OpportunityEvent{
		Action:      domain.OpportunityExpired,
		Opportunity: opp,
		Timestamp:   time.Now(),
	})
}

// Sweep elimina toda oportunidad expirada, emitiendo EXPIRED por cada una.
// Corre una vez por ciclo de escaneo; devuelve cuántas barrió.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	var expired []domain.ArbitrageOpportunity
	for id, opp := range s.byID {
		if opp.Expired(now) {
			expired = append(expired, opp)
			delete(s.byID, id)
			delete(s.byMarket, opp.MarketID)
		}
	}
	s.mu.Unlock()

	for _, opp := range expired {
		s.sink.PublishOpportunity(domain.OpportunityEvent{
			Action:      domain.OpportunityExpired,
			Opportunity: opp,
			Timestamp:   now,
		})
	}
	return len(expired)
}

// Get devuelve la oportunidad solo si sigue sin expirar. Un ID que
// resuelve a una entrada expirada o inexistente es not-found, no error.
func (s *Store) Get(id string, now time.Time) (domain.ArbitrageOpportunity, bool) {
	s.mu.RLock()
	opp, ok := s.byID[id]
	s.mu.RUnlock()

	if !ok || opp.Expired(now) {
		return domain.ArbitrageOpportunity{}, false
	}
	return opp, true
}

// List devuelve las oportunidades no expiradas ordenadas por
// profitPercentage descendente. Este orden es el contrato para cualquier
// consumidor de "top N".
func (s *Store) List(now time.Time) []domain.ArbitrageOpportunity {
	s.mu.RLock()
	opps := make([]domain.ArbitrageOpportunity, 0, len(s.byID))
	for _, opp := range s.byID {
		if !opp.Expired(now) {
			opps = append(opps, opp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].ProfitPercentage > opps[j].ProfitPercentage
	})
	return opps
}

// Len devuelve el número de oportunidades almacenadas (expiradas incluidas
// hasta el próximo Sweep).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear vacía el store sin emitir eventos. Lo usa Stop().
func (s *Store) Clear() {
	s.mu.Lock()
	s.byID = make(map[string]domain.ArbitrageOpportunity)
	s.byMarket = make(map[string]string)
	s.mu.Unlock()
}
