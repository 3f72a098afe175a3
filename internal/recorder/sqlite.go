package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so readers (dashboards, the API) do not block the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			price           REAL,
			total_score     REAL,
			is_valid        INTEGER,
			direction       TEXT,
			signal_trend    TEXT,
			effective_trend TEXT,
			counter_trend   INTEGER,
			regime          TEXT,
			ml_probability  REAL,
			ml_driven       INTEGER,
			confirmations   INTEGER,
			strength        TEXT,
			reason          TEXT,
			components      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_sym_ts ON signals(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS outcomes (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			monitor_id    TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			timeframe     TEXT,
			direction     TEXT,
			entry         REAL,
			is_win        INTEGER,
			pnl           REAL,
			leveraged_pnl REAL,
			targets_hit   INTEGER,
			reason        TEXT,
			opened_at     INTEGER,
			closed_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_sym_ts ON outcomes(symbol, closed_at)`,

		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			monitor_id TEXT,
			symbol     TEXT NOT NULL,
			kind       TEXT NOT NULL,
			price      REAL,
			pnl        REAL,
			note       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_monitor ON lifecycle_events(monitor_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *SQLiteRecorder) RecordSignal(res *model.SignalResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO signals
		(timestamp, symbol, timeframe, price, total_score, is_valid, direction,
		 signal_trend, effective_trend, counter_trend, regime,
		 ml_probability, ml_driven, confirmations, strength, reason, components)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		unix(res.EvaluatedAt), res.Symbol, res.Timeframe, res.Price, res.TotalScore,
		boolInt(res.IsValid), string(res.Direction),
		string(res.SignalTrend), string(res.EffectiveTrend), boolInt(res.CounterTrend), string(res.Regime),
		res.MLProbability, boolInt(res.IsMLDriven), res.ConfirmationCount,
		strings.Join(res.StrengthFactors, ","), res.Reason, auditJSON(res),
	)
	return err
}

func (r *SQLiteRecorder) RecordOutcome(o *model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO outcomes
		(monitor_id, symbol, timeframe, direction, entry, is_win, pnl, leveraged_pnl,
		 targets_hit, reason, opened_at, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.MonitorID, o.Symbol, o.Timeframe, string(o.Direction), o.Entry, boolInt(o.IsWin),
		o.PnL, o.LeveragedPnL, o.TargetsHit, o.Reason, unix(o.OpenedAt), unix(o.ClosedAt),
	)
	return err
}

func (r *SQLiteRecorder) RecordEvent(evt *LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO lifecycle_events
		(timestamp, monitor_id, symbol, kind, price, pnl, note)
		VALUES (?,?,?,?,?,?,?)`,
		unix(evt.At), evt.MonitorID, evt.Symbol, evt.Kind, evt.Price, evt.PnL, evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	logger.Infof("closing sqlite recorder")
	return r.db.Close()
}
