package scanner_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyarb/internal/application/scanner"
	"github.com/alejandrodnm/polyarb/internal/domain"
)

// recordingSink acumula los eventos publicados para inspección.
type recordingSink struct {
	mu     sync.Mutex
	opps   []domain.OpportunityEvent
	trades []domain.TradeEvent
	alerts []domain.RiskAlert
}

func (r *recordingSink) PublishOpportunity(ev domain.OpportunityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opps = append(r.opps, ev)
}

func (r *recordingSink) PublishTrade(ev domain.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, ev)
}

func (r *recordingSink) PublishAlert(alert domain.RiskAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *recordingSink) oppEvents() []domain.OpportunityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OpportunityEvent, len(r.opps))
	copy(out, r.opps)
	return out
}

var storeCfg = domain.ArbitrageConfig{
	MinProfitPercentage: 0.5,
	MaxPositionSizeUSD:  100,
}

func detectAt(t *testing.T, marketID string, yes, no float64, ts time.Time) domain.ArbitrageOpportunity {
	t.Helper()
	opp, ok := domain.Detect(domain.PriceQuote{
		MarketID:  marketID,
		YesPrice:  yes,
		NoPrice:   no,
		Timestamp: ts,
	}, storeCfg, "q")
	require.True(t, ok)
	return opp
}

func TestStoreUpsert_New(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	opp := detectAt(t, "0xmarket1", 0.40, 0.55, ts)
	store.Upsert(opp)

	assert.Equal(t, 1, store.Len())
	events := sink.oppEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OpportunityNew, events[0].Action)
	assert.Equal(t, opp.ID, events[0].Opportunity.ID)
}

func TestStoreUpsert_SmallDeltaIsNoop(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	first := detectAt(t, "0xmarket1", 0.40, 0.55, ts)
	store.Upsert(first)

	// 0.4005/0.55 → 5.208% frente a 5.263%: delta 0.055pp, bajo el umbral
	jitter := detectAt(t, "0xmarket1", 0.4005, 0.55, ts.Add(time.Second))
	store.Upsert(jitter)

	assert.Equal(t, 1, store.Len())
	got, ok := store.Get(first.ID, ts.Add(2*time.Second))
	require.True(t, ok)
	assert.Equal(t, first.ProfitPercentage, got.ProfitPercentage)
	assert.Len(t, sink.oppEvents(), 1)
}

func TestStoreUpsert_LargeDeltaReplaces(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	first := detectAt(t, "0xmarket1", 0.40, 0.55, ts)
	store.Upsert(first)

	// 0.38/0.55 → 7.527%: delta 2.26pp → reemplazo
	better := detectAt(t, "0xmarket1", 0.38, 0.55, ts.Add(time.Second))
	store.Upsert(better)

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get(first.ID, ts.Add(2*time.Second))
	assert.False(t, ok)
	got, ok := store.Get(better.ID, ts.Add(2*time.Second))
	require.True(t, ok)
	assert.InDelta(t, 7.527, got.ProfitPercentage, 0.001)

	events := sink.oppEvents()
	require.Len(t, events, 2)
	assert.Equal(t, domain.OpportunityUpdate, events[1].Action)
}

func TestStoreUpsert_SamePrefixMarketsCoexist(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	// mismo prefijo de mercado y mismo milisegundo de detección
	ts := time.Now()

	a := detectAt(t, "0xmarket-alpha", 0.40, 0.55, ts)
	b := detectAt(t, "0xmarket-beta", 0.38, 0.55, ts)
	c := detectAt(t, "0xmarket-gamma", 0.42, 0.55, ts)
	store.Upsert(a)
	store.Upsert(b)
	store.Upsert(c)

	assert.Equal(t, 3, store.Len())
	assert.Len(t, store.List(ts), 3)
	for _, opp := range []domain.ArbitrageOpportunity{a, b, c} {
		got, ok := store.Get(opp.ID, ts)
		require.True(t, ok)
		assert.Equal(t, opp.MarketID, got.MarketID)
	}
}

func TestStoreUpsert_ForeignIDCollisionIgnored(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	a := detectAt(t, "0xmarket-alpha", 0.40, 0.55, ts)
	store.Upsert(a)

	// un ID forjado que ya pertenece a otro mercado no toca los índices
	b := detectAt(t, "0xmarket-beta", 0.38, 0.55, ts)
	b.ID = a.ID
	store.Upsert(b)

	assert.Equal(t, 1, store.Len())
	got, ok := store.Get(a.ID, ts)
	require.True(t, ok)
	assert.Equal(t, "0xmarket-alpha", got.MarketID)
	assert.Len(t, sink.oppEvents(), 1)
}

func TestStoreEvict(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	opp := detectAt(t, "0xmarket1", 0.40, 0.55, ts)
	store.Upsert(opp)

	store.Evict("0xmarket1")
	assert.Equal(t, 0, store.Len())

	events := sink.oppEvents()
	require.Len(t, events, 2)
	assert.Equal(t, domain.OpportunityExpired, events[1].Action)

	// evict de un mercado sin oportunidad es no-op
	store.Evict("0xunknown")
	assert.Len(t, sink.oppEvents(), 2)
}

func TestStoreSweep(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	store.Upsert(detectAt(t, "0xmarket1", 0.40, 0.55, ts))
	store.Upsert(detectAt(t, "0xmarket2", 0.38, 0.55, ts.Add(20*time.Second)))

	// a ts+31s solo la primera ha expirado
	swept := store.Sweep(ts.Add(31 * time.Second))
	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, store.Len())
}

func TestStoreGet_Expired(t *testing.T) {
	store := scanner.NewStore(&recordingSink{})
	ts := time.Now()

	opp := detectAt(t, "0xmarket1", 0.40, 0.55, ts)
	store.Upsert(opp)

	_, ok := store.Get(opp.ID, ts.Add(time.Second))
	assert.True(t, ok)

	// expirada pero aún sin barrer → not found
	_, ok = store.Get(opp.ID, ts.Add(31*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestStoreList_SortedByProfit(t *testing.T) {
	store := scanner.NewStore(&recordingSink{})
	ts := time.Now()

	// beneficios: market1 5.26%, market2 7.53%, market3 1.52%
	store.Upsert(detectAt(t, "0xmarket1", 0.40, 0.55, ts))
	store.Upsert(detectAt(t, "0xmarket2", 0.38, 0.55, ts))
	store.Upsert(detectAt(t, "0xmarket3", 0.485, 0.50, ts))

	opps := store.List(ts.Add(time.Second))
	require.Len(t, opps, 3)
	assert.Equal(t, "0xmarket2", opps[0].MarketID)
	assert.Equal(t, "0xmarket1", opps[1].MarketID)
	assert.Equal(t, "0xmarket3", opps[2].MarketID)
}

func TestStoreClear(t *testing.T) {
	sink := &recordingSink{}
	store := scanner.NewStore(sink)
	ts := time.Now()

	store.Upsert(detectAt(t, "0xmarket1", 0.40, 0.55, ts))
	store.Clear()

	assert.Equal(t, 0, store.Len())
	// clear no emite eventos
	assert.Len(t, sink.oppEvents(), 1)
}
