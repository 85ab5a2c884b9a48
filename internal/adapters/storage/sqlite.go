package storage

// sqlite.go — histórico de oportunidades y trades.
//
// Estrategia:
//   - `opportunities`: UNA fila por mercado (UPSERT) con first/last seen
//     y el pico de beneficio visto. No se guarda cada avistamiento:
//     una oportunidad que parpadea 30 veces por segundo sería puro ruido.
//   - `trades`: log append-only, una fila por pata terminal.
//   - Prune automático al arrancar: opportunities no vistas en 14d,
//     trades > 90d.

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

const schema = `
-- Una fila por mercado con arbitraje visto, sin duplicados
CREATE TABLE IF NOT EXISTS opportunities (
    market_id       TEXT PRIMARY KEY,
    question        TEXT,
    arb_type        TEXT    NOT NULL,
    yes_price       REAL    NOT NULL DEFAULT 0,
    no_price        REAL    NOT NULL DEFAULT 0,
    total_price     REAL    NOT NULL DEFAULT 0,
    profit_pct      REAL    NOT NULL DEFAULT 0,
    peak_profit_pct REAL    NOT NULL DEFAULT 0,
    confidence      TEXT    NOT NULL,
    sightings       INTEGER NOT NULL DEFAULT 1,
    first_seen      DATETIME NOT NULL,
    last_seen       DATETIME NOT NULL
);

-- Log append-only de patas terminales
CREATE TABLE IF NOT EXISTS trades (
    id              TEXT PRIMARY KEY,
    execution_id    TEXT    NOT NULL,
    market_id       TEXT    NOT NULL,
    side            TEXT    NOT NULL,
    outcome         TEXT    NOT NULL,
    requested_usd   REAL    NOT NULL DEFAULT 0,
    requested_price REAL    NOT NULL DEFAULT 0,
    executed_price  REAL    NOT NULL DEFAULT 0,
    slippage        REAL    NOT NULL DEFAULT 0,
    status          TEXT    NOT NULL,
    settlement_ref  TEXT,
    error           TEXT,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opp_last     ON opportunities(last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_opp_profit   ON opportunities(peak_profit_pct DESC);
CREATE INDEX IF NOT EXISTS idx_trades_exec  ON trades(execution_id);
CREATE INDEX IF NOT EXISTS idx_trades_at    ON trades(updated_at DESC);
`

const (
	retentionOpps   = 14 * 24 * time.Hour
	retentionTrades = 90 * 24 * time.Hour
)

// SQLiteHistory implementa ports.History usando SQLite (pure Go, sin CGo).
type SQLiteHistory struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteHistory abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteHistory: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteHistory: apply schema: %w", err)
	}

	s := &SQLiteHistory{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveOpportunity hace upsert del avistamiento: first_seen se conserva,
// last_seen avanza, sightings incrementa y el pico de beneficio se queda
// con el máximo visto.
func (s *SQLiteHistory) SaveOpportunity(ctx context.Context, opp domain.ArbitrageOpportunity, action domain.OpportunityAction) error {
	if action == domain.OpportunityExpired {
		return nil // la expiración no aporta señal: last_seen ya la refleja
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities
			(market_id, question, arb_type, yes_price, no_price, total_price,
			 profit_pct, peak_profit_pct, confidence, sightings, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			question        = excluded.question,
			arb_type        = excluded.arb_type,
			yes_price       = excluded.yes_price,
			no_price        = excluded.no_price,
			total_price     = excluded.total_price,
			profit_pct      = excluded.profit_pct,
			peak_profit_pct = MAX(peak_profit_pct, excluded.profit_pct),
			confidence      = excluded.confidence,
			sightings       = sightings + 1,
			last_seen       = excluded.last_seen
	`,
		opp.MarketID,
		opp.MarketQuestion,
		string(opp.Type),
		opp.YesPrice,
		opp.NoPrice,
		opp.TotalPrice,
		opp.ProfitPercentage,
		opp.ProfitPercentage,
		string(opp.Confidence),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOpportunity: upsert %s: %w", opp.MarketID, err)
	}
	return nil
}

// SaveTrade añade (o actualiza) el registro de una pata. El mismo ID puede
// llegar dos veces si la pata transita por varios estados terminales
// observados; la última escritura gana.
func (s *SQLiteHistory) SaveTrade(ctx context.Context, trade domain.TradeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, execution_id, market_id, side, outcome, requested_usd,
			 requested_price, executed_price, slippage, status,
			 settlement_ref, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			executed_price = excluded.executed_price,
			slippage       = excluded.slippage,
			status         = excluded.status,
			settlement_ref = excluded.settlement_ref,
			error          = excluded.error,
			updated_at     = excluded.updated_at
	`,
		trade.ID,
		trade.ExecutionID,
		trade.MarketID,
		trade.Side,
		trade.Outcome,
		trade.RequestedAmount,
		trade.RequestedPrice,
		trade.ExecutedPrice,
		trade.Slippage,
		string(trade.Status),
		trade.SettlementRef,
		trade.Error,
		trade.CreatedAt.UTC(),
		trade.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: insert %s: %w", trade.ID, err)
	}
	return nil
}

// TradesSince devuelve las patas registradas desde el instante dado,
// más recientes primero.
func (s *SQLiteHistory) TradesSince(ctx context.Context, from time.Time) ([]domain.TradeExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, market_id, side, outcome, requested_usd,
		       requested_price, executed_price, slippage, status,
		       settlement_ref, error, created_at, updated_at
		FROM trades
		WHERE updated_at >= ?
		ORDER BY updated_at DESC
	`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.TradesSince: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeExecution
	for rows.Next() {
		var t domain.TradeExecution
		var status string
		var settlementRef, errMsg sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(
			&t.ID,
			&t.ExecutionID,
			&t.MarketID,
			&t.Side,
			&t.Outcome,
			&t.RequestedAmount,
			&t.RequestedPrice,
			&t.ExecutedPrice,
			&t.Slippage,
			&status,
			&settlementRef,
			&errMsg,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.TradesSince: scan row: %w", err)
		}

		t.Status = domain.TradeStatus(status)
		t.SettlementRef = settlementRef.String
		t.Error = errMsg.String
		t.CreatedAt = parseStoredTime(createdAt)
		t.UpdatedAt = parseStoredTime(updatedAt)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

// parseStoredTime parsea los formatos con los que el driver serializa
// time.Time.
func parseStoredTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteHistory) pruneOld(ctx context.Context) {
	cutoffOpps := time.Now().UTC().Add(-retentionOpps)
	cutoffTrades := time.Now().UTC().Add(-retentionTrades)
	s.db.ExecContext(ctx, `DELETE FROM opportunities WHERE last_seen < ?`, cutoffOpps)
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE updated_at < ?`, cutoffTrades)
}
