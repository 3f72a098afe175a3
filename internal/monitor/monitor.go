// Package monitor tracks open positions against live ticks until every target or the stop is hit.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"PerpSentinel/internal/model"
)

var (
	ErrMonitorExists   = errors.New("monitor already active for symbol")
	ErrNoMonitor       = errors.New("no active monitor for symbol")
	ErrInvalidPosition = errors.New("invalid position")
)

// TickResult reports what OnTick did with a tick.
type TickResult int

const (
	TickProcessed TickResult = iota
	TickIgnored
	TickOrphan
)

func (r TickResult) String() string {
	switch r {
	case TickProcessed:
		return "processed"
	case TickIgnored:
		return "ignored"
	case TickOrphan:
		return "orphan"
	}
	return "unknown"
}

// TickSource delivers live ticks for subscribed symbols, in order, one symbol at a time.
type TickSource interface {
	Subscribe(symbol string, handler func(model.Tick)) error
	Unsubscribe(symbol string) error
}

// EventSink receives lifecycle events.
type EventSink interface {
	TargetHit(ctx context.Context, ev model.TargetHitEvent)
	Completed(ctx context.Context, ev model.CompletedEvent)
}

// OutcomeSink stores the outcome of a completed position.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, o model.Outcome) error
}

// MultiSink fans events out to every non-nil sink in order.
type MultiSink []EventSink

func (s MultiSink) TargetHit(ctx context.Context, ev model.TargetHitEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.TargetHit(ctx, ev)
		}
	}
}

func (s MultiSink) Completed(ctx context.Context, ev model.CompletedEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Completed(ctx, ev)
		}
	}
}

// OpenRequest describes a position to monitor.
type OpenRequest struct {
	Symbol            string
	Timeframe         string
	Entry             float64
	Targets           []float64
	StopLoss          float64
	Direction         model.Direction
	IndicatorsAtEntry *model.IndicatorSnapshot
}

// Snapshot is a point-in-time copy of a monitor.
type Snapshot struct {
	ID          string              `json:"id"`
	Symbol      string              `json:"symbol"`
	Timeframe   string              `json:"timeframe"`
	Direction   model.Direction     `json:"direction"`
	Status      model.MonitorStatus `json:"status"`
	Entry       float64             `json:"entry"`
	Targets     []float64           `json:"targets"`
	StopLoss    float64             `json:"stop_loss"`
	TargetsHit  int                 `json:"targets_hit"`
	LastPrice   float64             `json:"last_price"`
	PnL         float64             `json:"pnl"`
	PeakProfit  float64             `json:"peak_profit"`
	MaxDrawdown float64             `json:"max_drawdown"`

	// CurrentDrawdown is PeakProfit - PnL as of the last tick.
	CurrentDrawdown float64   `json:"current_drawdown"`
	Reason          string    `json:"reason,omitempty"`
	OpenedAt        time.Time `json:"opened_at"`
	LastTickAt      time.Time `json:"last_tick_at,omitempty"`
	ClosedAt        time.Time `json:"closed_at,omitempty"`
}

// position is the mutable state of one monitor. All fields are guarded by mu.
type position struct {
	mu         sync.Mutex
	snap       Snapshot
	indicators *model.IndicatorSnapshot
}

func (p *position) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.snap
	s.Targets = append([]float64(nil), p.snap.Targets...)
	return s
}

// pnlAt is the unleveraged P&L in percent of entry at price.
func (p *position) pnlAt(price float64) float64 {
	pnl := (price - p.snap.Entry) / p.snap.Entry * 100
	if p.snap.Direction == model.DirectionShort {
		pnl = -pnl
	}
	return pnl
}

func (p *position) reached(price, level float64) bool {
	if p.snap.Direction == model.DirectionShort {
		return price <= level
	}
	return price >= level
}

func (p *position) stopped(price float64) bool {
	if p.snap.Direction == model.DirectionShort {
		return price >= p.snap.StopLoss
	}
	return price <= p.snap.StopLoss
}

// update applies a price and returns the newly crossed target indexes. Callers hold mu.
func (p *position) update(price float64, at time.Time) []int {
	s := &p.snap
	s.LastPrice = price
	s.LastTickAt = at
	s.PnL = p.pnlAt(price)
	if s.PnL > s.PeakProfit {
		s.PeakProfit = s.PnL
	}
	s.CurrentDrawdown = s.PeakProfit - s.PnL
	if s.CurrentDrawdown > s.MaxDrawdown {
		s.MaxDrawdown = s.CurrentDrawdown
	}

	var hits []int
	for i := s.TargetsHit; i < len(s.Targets); i++ {
		if !p.reached(price, s.Targets[i]) {
			break
		}
		hits = append(hits, i)
	}
	s.TargetsHit += len(hits)
	return hits
}
