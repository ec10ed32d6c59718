package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

const schema = `
-- Trade journal: one row per execution attempt, never pruned
CREATE TABLE IF NOT EXISTS trades (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    opportunity_id TEXT    NOT NULL,
    strategy       TEXT    NOT NULL,
    success        INTEGER NOT NULL DEFAULT 0,
    order_ids      TEXT,
    filled_size    REAL    NOT NULL DEFAULT 0,
    avg_price      REAL    NOT NULL DEFAULT 0,
    pnl            REAL    NOT NULL DEFAULT 0,
    error          TEXT,
    executed_at    TEXT    NOT NULL
);

-- Periodic risk snapshots, one row per risk cycle
CREATE TABLE IF NOT EXISTS risk_metrics (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    total_exposure  REAL    NOT NULL DEFAULT 0,
    max_position    REAL    NOT NULL DEFAULT 0,
    drawdown        REAL    NOT NULL DEFAULT 0,
    drawdown_pct    REAL    NOT NULL DEFAULT 0,
    max_drawdown    REAL    NOT NULL DEFAULT 0,
    position_count  INTEGER NOT NULL DEFAULT 0,
    unrealized_pnl  REAL    NOT NULL DEFAULT 0,
    realized_pnl    REAL    NOT NULL DEFAULT 0,
    total_pnl       REAL    NOT NULL DEFAULT 0,
    risk_score      REAL    NOT NULL DEFAULT 0,
    recorded_at     TEXT    NOT NULL
);

-- Lifecycle and risk event log
CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    type       TEXT NOT NULL,
    strategy   TEXT,
    detail     TEXT,
    created_at TEXT NOT NULL
);

-- Open-position snapshot, one row per token, refreshed each risk cycle
CREATE TABLE IF NOT EXISTS positions (
    token_id     TEXT PRIMARY KEY,
    position_id  TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    side         TEXT NOT NULL,
    size         REAL NOT NULL DEFAULT 0,
    avg_price    REAL NOT NULL DEFAULT 0,
    mark_price   REAL NOT NULL DEFAULT 0,
    realized_pnl REAL NOT NULL DEFAULT 0,
    opened_at    TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_at    ON trades(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_strat ON trades(strategy);
CREATE INDEX IF NOT EXISTS idx_metrics_at   ON risk_metrics(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_at    ON events(created_at DESC);
`

const (
	retentionMetrics = 30 * 24 * time.Hour
	retentionEvents  = 30 * 24 * time.Hour
)

// Timestamps are stored as RFC3339 UTC strings so lexicographic order in
// SQLite matches chronological order.
const timeLayout = time.RFC3339

// SQLiteStore implements ports.Store on SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path, applies
// the schema and prunes stale metric/event rows. Use ":memory:" in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveTrade appends one trade to the journal.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade domain.TradeResult) error {
	success := 0
	if trade.Success {
		success = 1
	}
	executedAt := trade.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(opportunity_id, strategy, success, order_ids, filled_size, avg_price, pnl, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.OpportunityID,
		trade.Strategy,
		success,
		strings.Join(trade.OrderIDs, ","),
		trade.FilledSize,
		trade.AvgPrice,
		trade.PnL,
		trade.Error,
		executedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storage.SaveTrade: insert %s: %w", trade.OpportunityID, err)
	}
	return nil
}

// SaveMetrics appends one risk snapshot.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m domain.RiskMetrics) error {
	recordedAt := m.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_metrics
			(total_exposure, max_position, drawdown, drawdown_pct, max_drawdown,
			 position_count, unrealized_pnl, realized_pnl, total_pnl, risk_score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TotalExposure,
		m.MaxPositionSize,
		m.CurrentDrawdown,
		m.DrawdownPercent,
		m.MaxDrawdown,
		m.PositionCount,
		m.UnrealizedPnL,
		m.RealizedPnL,
		m.TotalPnL,
		m.RiskScore,
		recordedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storage.SaveMetrics: insert: %w", err)
	}
	return nil
}

// SaveEvent appends one event. The payload is flattened to a short text
// detail; the journal is for humans, not for replay.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event domain.Event) error {
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (type, strategy, detail, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type),
		event.Strategy,
		eventDetail(event),
		createdAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storage.SaveEvent: insert %s: %w", event.Type, err)
	}
	return nil
}

// SavePositions refreshes the open-position snapshot in one transaction:
// each position is upserted by token, then rows for tokens no longer open
// are swept out.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions []domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePositions: begin: %w", err)
	}
	defer tx.Rollback()

	if len(positions) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
			return fmt.Errorf("storage.SavePositions: sweep: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage.SavePositions: commit: %w", err)
		}
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions
			(token_id, position_id, market_id, side, size, avg_price, mark_price, realized_pnl, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			position_id  = excluded.position_id,
			side         = excluded.side,
			size         = excluded.size,
			avg_price    = excluded.avg_price,
			mark_price   = excluded.mark_price,
			realized_pnl = excluded.realized_pnl,
			opened_at    = excluded.opened_at,
			updated_at   = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("storage.SavePositions: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeLayout)
	tokens := make([]any, 0, len(positions))
	for _, p := range positions {
		openedAt := p.OpenedAt
		if openedAt.IsZero() {
			openedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			p.TokenID, p.ID, p.MarketID, string(p.Side),
			p.Size, p.AvgEntryPrice, p.CurrentPrice, p.RealizedPnL,
			openedAt.UTC().Format(timeLayout), now,
		); err != nil {
			return fmt.Errorf("storage.SavePositions: upsert %s: %w", p.TokenID, err)
		}
		tokens = append(tokens, p.TokenID)
	}

	marks := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM positions WHERE token_id NOT IN (`+marks+`)`, tokens...,
	); err != nil {
		return fmt.Errorf("storage.SavePositions: sweep: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePositions: commit: %w", err)
	}
	return nil
}

// OpenPositions returns the last persisted snapshot, ordered by market then
// token. Used by the offline report.
func (s *SQLiteStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, position_id, market_id, side, size, avg_price, mark_price, realized_pnl, opened_at
		FROM positions
		ORDER BY market_id, token_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, openedAt string
		if err := rows.Scan(
			&p.TokenID, &p.ID, &p.MarketID, &side,
			&p.Size, &p.AvgEntryPrice, &p.CurrentPrice, &p.RealizedPnL, &openedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.OpenPositions: scan row: %w", err)
		}
		p.Side = domain.PositionSide(side)
		p.OpenedAt, _ = time.Parse(timeLayout, openedAt)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Summary aggregates the successful trades in the journal, overall and per
// strategy. A win is a trade with positive booked PnL.
func (s *SQLiteStore) Summary(ctx context.Context) (domain.LedgerSummary, error) {
	var out domain.LedgerSummary
	var first, last sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0),
		       MIN(executed_at), MAX(executed_at)
		FROM trades
		WHERE success = 1`,
	).Scan(&out.TotalTrades, &out.Wins, &out.TotalPnL, &first, &last)
	if err != nil {
		return out, fmt.Errorf("storage.Summary: totals: %w", err)
	}
	if first.Valid {
		out.FirstTrade, _ = time.Parse(timeLayout, first.String)
	}
	if last.Valid {
		out.LastTrade, _ = time.Parse(timeLayout, last.String)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE success = 1
		GROUP BY strategy
		ORDER BY strategy`,
	)
	if err != nil {
		return out, fmt.Errorf("storage.Summary: by strategy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.StrategyLedger
		if err := rows.Scan(&row.Strategy, &row.Trades, &row.Wins, &row.PnL); err != nil {
			return out, fmt.Errorf("storage.Summary: scan row: %w", err)
		}
		out.ByStrategy = append(out.ByStrategy, row)
	}
	return out, rows.Err()
}

// MetricsHistory returns risk snapshots recorded in the given range, newest
// first. Used by the offline report.
func (s *SQLiteStore) MetricsHistory(ctx context.Context, from, to time.Time) ([]domain.RiskMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT total_exposure, max_position, drawdown, drawdown_pct, max_drawdown,
		       position_count, unrealized_pnl, realized_pnl, total_pnl, risk_score, recorded_at
		FROM risk_metrics
		WHERE recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at DESC`,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.MetricsHistory: query: %w", err)
	}
	defer rows.Close()

	var history []domain.RiskMetrics
	for rows.Next() {
		var m domain.RiskMetrics
		var recordedAt string
		if err := rows.Scan(
			&m.TotalExposure, &m.MaxPositionSize, &m.CurrentDrawdown, &m.DrawdownPercent,
			&m.MaxDrawdown, &m.PositionCount, &m.UnrealizedPnL, &m.RealizedPnL,
			&m.TotalPnL, &m.RiskScore, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.MetricsHistory: scan row: %w", err)
		}
		m.Timestamp, _ = time.Parse(timeLayout, recordedAt)
		history = append(history, m)
	}
	return history, rows.Err()
}

// RecentEvents returns the latest events, newest first. The payload comes
// back as the flattened text detail.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, strategy, detail, created_at
		FROM events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentEvents: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var typ, detail, createdAt string
		if err := rows.Scan(&typ, &e.Strategy, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("storage.RecentEvents: scan row: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.Payload = detail
		e.Timestamp, _ = time.Parse(timeLayout, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- internal helpers ---

// pruneOld keeps the database light. Trades are the journal of record and
// are never pruned.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoffMetrics := time.Now().UTC().Add(-retentionMetrics).Format(timeLayout)
	cutoffEvents := time.Now().UTC().Add(-retentionEvents).Format(timeLayout)
	s.db.ExecContext(ctx, `DELETE FROM risk_metrics WHERE recorded_at < ?`, cutoffMetrics)
	s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoffEvents)
}

// eventDetail flattens an event payload to one line of text.
func eventDetail(event domain.Event) string {
	switch p := event.Payload.(type) {
	case *domain.Opportunity:
		return fmt.Sprintf("%s %s profit=%.4f conf=%.2f", p.Type, p.ID, p.ExpectedProfit, p.Confidence)
	case domain.TradeResult:
		return fmt.Sprintf("%s pnl=%.4f size=%.0f", p.OpportunityID, p.PnL, p.FilledSize)
	case domain.RiskAlert:
		return fmt.Sprintf("[%s] %s", p.Level, p.Message)
	case error:
		return p.Error()
	case string:
		return p
	default:
		return fmt.Sprintf("%v", p)
	}
}
