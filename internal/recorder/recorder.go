package recorder

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

// Lifecycle event kinds.
const (
	EventOpened    = "OPENED"
	EventTargetHit = "TARGET_HIT"
	EventCompleted = "COMPLETED"
)

// LifecycleEvent records one step of a monitored position.
type LifecycleEvent struct {
	MonitorID string
	Symbol    string
	Kind      string
	Price     float64
	PnL       float64
	Note      string
	At        time.Time
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordSignal(res *model.SignalResult) error
	RecordOutcome(o *model.Outcome) error
	RecordEvent(evt *LifecycleEvent) error
	Close() error
}

// auditJSON encodes the score components for the signals table.
func auditJSON(res *model.SignalResult) string {
	b, err := sonic.ConfigFastest.Marshal(res.ScoreComponents)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

// EventLog writes monitor lifecycle events to a Recorder.
type EventLog struct {
	rec Recorder
}

func NewEventLog(rec Recorder) *EventLog { return &EventLog{rec: rec} }

func (l *EventLog) TargetHit(_ context.Context, ev model.TargetHitEvent) {
	l.record(&LifecycleEvent{
		MonitorID: ev.MonitorID,
		Symbol:    ev.Symbol,
		Kind:      EventTargetHit,
		Price:     ev.Price,
		PnL:       ev.PnL,
		Note:      "target " + strconv.Itoa(ev.Index+1),
		At:        ev.At,
	})
}

func (l *EventLog) Completed(_ context.Context, ev model.CompletedEvent) {
	l.record(&LifecycleEvent{
		MonitorID: ev.MonitorID,
		Symbol:    ev.Symbol,
		Kind:      EventCompleted,
		PnL:       ev.FinalPnL,
		Note:      ev.Reason,
		At:        ev.At,
	})
}

func (l *EventLog) record(evt *LifecycleEvent) {
	if err := l.rec.RecordEvent(evt); err != nil {
		logger.Errorf("record %s event for %s: %v", evt.Kind, evt.Symbol, err)
	}
}
