package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/trace"
)

// Manager owns the active monitors, at most one per symbol.
//
// Lock order: the map lock mu is never acquired while a position lock is held.
// Sinks and the tick source are always called with no lock held.
type Manager struct {
	mu       sync.Mutex
	monitors map[string]*position

	leverage float64
	source   TickSource
	sink     EventSink
	outcomes OutcomeSink
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a Manager. sink and outcomes may be nil.
func NewManager(cfg config.Monitor, source TickSource, sink EventSink, outcomes OutcomeSink, opts ...Option) *Manager {
	m := &Manager{
		monitors: make(map[string]*position),
		leverage: cfg.Leverage,
		source:   source,
		sink:     sink,
		outcomes: outcomes,
		now:      time.Now,
	}
	if m.leverage < 1 {
		m.leverage = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validRequest(req OpenRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	case !(req.Entry > 0) || math.IsInf(req.Entry, 0):
		return fmt.Errorf("%w: entry %v", ErrInvalidPosition, req.Entry)
	case req.Direction != model.DirectionLong && req.Direction != model.DirectionShort:
		return fmt.Errorf("%w: direction %q", ErrInvalidPosition, req.Direction)
	case len(req.Targets) == 0:
		return fmt.Errorf("%w: no targets", ErrInvalidPosition)
	case !(req.StopLoss > 0):
		return fmt.Errorf("%w: stop loss %v", ErrInvalidPosition, req.StopLoss)
	}
	return nil
}

// Open registers a monitor for the symbol and subscribes to its ticks.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Snapshot, error) {
	if err := validRequest(req); err != nil {
		return Snapshot{}, err
	}

	p := &position{
		snap: Snapshot{
			ID:        uuid.NewString(),
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Direction: req.Direction,
			Status:    model.StatusActive,
			Entry:     req.Entry,
			Targets:   append([]float64(nil), req.Targets...),
			StopLoss:  req.StopLoss,
			LastPrice: req.Entry,
			OpenedAt:  m.now(),
		},
		indicators: req.IndicatorsAtEntry,
	}

	m.mu.Lock()
	if _, ok := m.monitors[req.Symbol]; ok {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%s: %w", req.Symbol, ErrMonitorExists)
	}
	m.monitors[req.Symbol] = p
	m.mu.Unlock()

	if err := m.source.Subscribe(req.Symbol, func(t model.Tick) { m.OnTick(t) }); err != nil {
		m.remove(req.Symbol, p)
		return Snapshot{}, fmt.Errorf("subscribe %s: %w", req.Symbol, err)
	}

	logger.Infof("monitor %s opened: %s %s entry=%.6g targets=%v stop=%.6g",
		p.snap.ID, req.Symbol, req.Direction, req.Entry, req.Targets, req.StopLoss)
	return p.snapshot(), nil
}

func (m *Manager) lookup(symbol string) *position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitors[symbol]
}

// remove deletes the entry only if it still belongs to p.
func (m *Manager) remove(symbol string, p *position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitors[symbol] == p {
		delete(m.monitors, symbol)
	}
}

func (m *Manager) unsubscribe(symbol string) {
	if err := m.source.Unsubscribe(symbol); err != nil {
		logger.Warnf("unsubscribe %s: %v", symbol, err)
	}
}

// OnTick applies a tick to the symbol's monitor. Ticks for symbols without an active monitor
// tear the subscription down.
func (m *Manager) OnTick(tick model.Tick) (result TickResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("monitor %s: panic handling tick: %v", tick.Symbol, r)
			result = TickIgnored
		}
	}()

	p := m.lookup(tick.Symbol)
	if p == nil {
		m.unsubscribe(tick.Symbol)
		return TickOrphan
	}
	if !(tick.Price > 0) || math.IsInf(tick.Price, 0) {
		return TickIgnored
	}
	at := tick.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	events, done, ok := m.apply(p, tick.Price, at)
	if !ok {
		m.unsubscribe(tick.Symbol)
		return TickOrphan
	}

	ctx := context.Background()
	for _, ev := range events {
		logger.Infof("monitor %s: target %d hit at %.6g (%+.2f%%)", ev.Symbol, ev.Index+1, ev.Price, ev.PnL)
		if m.sink != nil {
			m.sink.TargetHit(ctx, ev)
		}
	}
	if done != nil {
		m.finish(ctx, p, done)
	}
	return TickProcessed
}

// apply updates p under its lock. ok is false when p already completed.
func (m *Manager) apply(p *position, price float64, at time.Time) (events []model.TargetHitEvent, done *completion, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Status != model.StatusActive {
		return nil, nil, false
	}

	for _, i := range p.update(price, at) {
		events = append(events, model.TargetHitEvent{
			MonitorID: p.snap.ID,
			Symbol:    p.snap.Symbol,
			Direction: p.snap.Direction,
			Index:     i,
			Target:    p.snap.Targets[i],
			Price:     price,
			PnL:       p.snap.PnL,
			At:        at,
		})
	}
	switch {
	case p.snap.TargetsHit == len(p.snap.Targets):
		done = m.completeLocked(p, model.ReasonAllTargets, p.snap.PnL)
	case p.stopped(price):
		done = m.completeLocked(p, model.ReasonStopLoss, p.snap.PnL)
	}
	return events, done, true
}

// completion carries what must be published after a monitor leaves the active state.
type completion struct {
	outcome model.Outcome
	event   model.CompletedEvent
}

// completeLocked marks p completed. Callers hold p.mu and must call finish after releasing it.
func (m *Manager) completeLocked(p *position, reason string, pnl float64) *completion {
	now := m.now()
	s := &p.snap
	s.Status = model.StatusCompleted
	s.Reason = reason
	s.PnL = pnl
	s.ClosedAt = now
	leveraged := pnl * m.leverage

	return &completion{
		outcome: model.Outcome{
			MonitorID:         s.ID,
			Symbol:            s.Symbol,
			Timeframe:         s.Timeframe,
			Direction:         s.Direction,
			Entry:             s.Entry,
			IndicatorsAtEntry: p.indicators,
			IsWin:             pnl > 0,
			PnL:               pnl,
			LeveragedPnL:      leveraged,
			TargetsHit:        s.TargetsHit,
			Reason:            reason,
			OpenedAt:          s.OpenedAt,
			ClosedAt:          now,
		},
		event: model.CompletedEvent{
			MonitorID:    s.ID,
			Symbol:       s.Symbol,
			Timeframe:    s.Timeframe,
			Direction:    s.Direction,
			Reason:       reason,
			FinalPnL:     pnl,
			LeveragedPnL: leveraged,
			DurationMs:   now.Sub(s.OpenedAt).Milliseconds(),
			TargetsHit:   s.TargetsHit,
			PeakProfit:   s.PeakProfit,
			At:           now,
		},
	}
}

func (m *Manager) finish(ctx context.Context, p *position, c *completion) {
	defer func() {
		m.unsubscribe(c.event.Symbol)
		m.remove(c.event.Symbol, p)
	}()
	ctx, span := trace.StartSpan(ctx, "monitor.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", c.event.Symbol),
		attribute.String("reason", c.event.Reason),
		attribute.Float64("pnl", c.event.FinalPnL),
	)

	logger.Infof("monitor %s completed: %s, pnl %+.2f%% (x%.0f = %+.2f%%), %d targets",
		c.event.Symbol, c.event.Reason, c.event.FinalPnL, m.leverage, c.event.LeveragedPnL, c.event.TargetsHit)

	if m.outcomes != nil {
		if err := m.outcomes.RecordOutcome(ctx, c.outcome); err != nil {
			logger.Errorf("monitor %s: record outcome: %v", c.event.Symbol, err)
		}
	}
	if m.sink != nil {
		m.sink.Completed(ctx, c.event)
	}
}

// Complete finishes the symbol's monitor with an explicit reason and P&L.
func (m *Manager) Complete(ctx context.Context, symbol, reason string, finalPnL float64) (model.CompletedEvent, error) {
	return m.complete(ctx, symbol, reason, func(*position) float64 { return finalPnL })
}

// Close finishes the symbol's monitor at its last seen price.
func (m *Manager) Close(ctx context.Context, symbol, reason string) (model.CompletedEvent, error) {
	if reason == "" {
		reason = model.ReasonManual
	}
	return m.complete(ctx, symbol, reason, func(p *position) float64 { return p.pnlAt(p.snap.LastPrice) })
}

func (m *Manager) complete(ctx context.Context, symbol, reason string, pnl func(*position) float64) (model.CompletedEvent, error) {
	p := m.lookup(symbol)
	if p == nil {
		return model.CompletedEvent{}, fmt.Errorf("%s: %w", symbol, ErrNoMonitor)
	}
	p.mu.Lock()
	if p.snap.Status != model.StatusActive {
		p.mu.Unlock()
		return model.CompletedEvent{}, fmt.Errorf("%s: %w", symbol, ErrNoMonitor)
	}
	done := m.completeLocked(p, reason, pnl(p))
	p.mu.Unlock()

	m.finish(ctx, p, done)
	return done.event, nil
}

// CloseAll closes every active monitor with reason and returns how many were closed.
func (m *Manager) CloseAll(ctx context.Context, reason string) int {
	n := 0
	for _, s := range m.Active() {
		if _, err := m.Close(ctx, s.Symbol, reason); err == nil {
			n++
		}
	}
	return n
}

// Get returns a copy of the symbol's active monitor.
func (m *Manager) Get(symbol string) (Snapshot, bool) {
	p := m.lookup(symbol)
	if p == nil {
		return Snapshot{}, false
	}
	s := p.snapshot()
	return s, s.Status == model.StatusActive
}

// Active returns copies of all active monitors sorted by symbol.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	ps := make([]*position, 0, len(m.monitors))
	for _, p := range m.monitors {
		ps = append(ps, p)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(ps))
	for _, p := range ps {
		if s := p.snapshot(); s.Status == model.StatusActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Has reports whether the symbol has an active monitor.
func (m *Manager) Has(symbol string) bool {
	_, ok := m.Get(symbol)
	return ok
}

// Len returns the number of registered monitors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitors)
}
