package adaptive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

const defaultHistoryLimit = 50

// OutcomeRecorder persists completed-position outcomes.
type OutcomeRecorder interface {
	RecordOutcome(o *model.Outcome) error
}

// Stats summarizes the recorded outcomes of one symbol.
type Stats struct {
	Symbol          string  `json:"symbol"`
	Trades          int     `json:"trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	AvgLeveragedPnL float64 `json:"avg_leveraged_pnl"`
}

// Store is the adaptive state shared by the scoring engine and the position monitor.
// All reads and writes are serialized on one mutex; construct one per process and inject it.
type Store struct {
	mu           sync.Mutex
	state        *State
	filePath     string
	now          func() time.Time
	recorder     OutcomeRecorder
	historyLimit int
}

// Option configures a Store.
type Option func(*Store)

// WithFile persists the state to a JSON file.
func WithFile(path string) Option { return func(s *Store) { s.filePath = path } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithRecorder forwards outcomes to a recorder.
func WithRecorder(r OutcomeRecorder) Option { return func(s *Store) { s.recorder = r } }

// WithHistoryLimit bounds the per-symbol outcome history.
func WithHistoryLimit(n int) Option { return func(s *Store) { s.historyLimit = n } }

// NewStore creates a Store, loading existing state when a file is configured.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{now: time.Now, historyLimit: defaultHistoryLimit}
	for _, opt := range opts {
		opt(s)
	}
	if s.filePath == "" {
		s.state = newState()
		return s, nil
	}
	state, err := LoadState(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("load adaptive state: %w", err)
	}
	s.state = state
	return s, nil
}

// Key builds the decision key for a (symbol, timeframe) pair.
func Key(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// LastDecision returns the stored decision for key.
func (s *Store) LastDecision(key string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.Decisions[key]
	return d, ok
}

// UpdateDecision runs fn with the previous decision and stores its result, atomically.
func (s *Store) UpdateDecision(key string, fn func(prev Decision, ok bool) Decision) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.state.Decisions[key]
	next := fn(prev, ok)
	if next.At.IsZero() {
		next.At = s.now()
	}
	s.state.Decisions[key] = next
	return next
}

// Decisions returns a copy of all stored decisions.
func (s *Store) Decisions() map[string]Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Decision, len(s.state.Decisions))
	for k, v := range s.state.Decisions {
		out[k] = v
	}
	return out
}

// CounterTrendUsage returns today's counter-trend grant count and the time of the last grant.
func (s *Store) CounterTrendUsage() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	return s.state.CounterTrendCountToday, s.state.LastCounterTrendAt
}

// TryRecordCounterTrend records one counter-trend grant unless the daily cap is already reached.
func (s *Store) TryRecordCounterTrend(dailyCap int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	if s.state.CounterTrendCountToday >= dailyCap {
		return false
	}
	s.state.CounterTrendCountToday++
	s.state.LastCounterTrendAt = s.now()
	s.persist()
	return true
}

// ResetDaily clears the counter-trend counter. The cooldown timestamp survives the reset.
func (s *Store) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CounterTrendCountToday = 0
	s.state.CounterTrendDay = s.now().UTC().Format("2006-01-02")
	s.persist()
}

// RecordOutcome appends a completed-position outcome and forwards it to the recorder.
func (s *Store) RecordOutcome(_ context.Context, o model.Outcome) error {
	s.mu.Lock()
	hist := append(s.state.Outcomes[o.Symbol], o)
	if len(hist) > s.historyLimit {
		hist = hist[len(hist)-s.historyLimit:]
	}
	s.state.Outcomes[o.Symbol] = hist
	s.persist()
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.RecordOutcome(&o); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	}
	return nil
}

// SymbolStats summarizes the outcome history of a symbol.
func (s *Store) SymbolStats(symbol string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Symbol: symbol}
	sum := 0.0
	for _, o := range s.state.Outcomes[symbol] {
		st.Trades++
		if o.IsWin {
			st.Wins++
		} else {
			st.Losses++
		}
		sum += o.LeveragedPnL
	}
	if st.Trades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Trades)
		st.AvgLeveragedPnL = sum / float64(st.Trades)
	}
	return st
}

// Symbols returns the symbols that have recorded outcomes, sorted.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.state.Outcomes))
	for sym := range s.state.Outcomes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Save writes the full state to disk. It is a no-op without a configured file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// rollover resets the counter on UTC date change. Callers hold mu.
func (s *Store) rollover() {
	day := s.now().UTC().Format("2006-01-02")
	if s.state.CounterTrendDay != day {
		s.state.CounterTrendDay = day
		s.state.CounterTrendCountToday = 0
	}
}

func (s *Store) persist() {
	if err := s.save(); err != nil {
		logger.Errorf("failed to save adaptive state: %v", err)
	}
}

func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}
	return SaveState(s.filePath, s.state, s.now())
}
