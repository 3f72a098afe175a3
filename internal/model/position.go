package model

import "time"

// MonitorStatus is the lifecycle state of a position monitor.
type MonitorStatus string

const (
	StatusActive    MonitorStatus = "ACTIVE"
	StatusCompleted MonitorStatus = "COMPLETED"
)

// Completion reasons.
const (
	ReasonAllTargets = "all targets"
	ReasonStopLoss   = "stop loss"
	ReasonManual     = "manual"
	ReasonShutdown   = "shutdown"
)

// Outcome is the record of a completed position, fed back into adaptive state.
type Outcome struct {
	MonitorID         string             `json:"monitor_id"`
	Symbol            string             `json:"symbol"`
	Timeframe         string             `json:"timeframe"`
	Direction         Direction          `json:"direction"`
	Entry             float64            `json:"entry"`
	IndicatorsAtEntry *IndicatorSnapshot `json:"-"`
	IsWin             bool               `json:"is_win"`
	PnL               float64            `json:"pnl"`
	LeveragedPnL      float64            `json:"leveraged_pnl"`
	TargetsHit        int                `json:"targets_hit"`
	Reason            string             `json:"reason"`
	OpenedAt          time.Time          `json:"opened_at"`
	ClosedAt          time.Time          `json:"closed_at"`
}

// TargetHitEvent is emitted once for each newly crossed target.
type TargetHitEvent struct {
	MonitorID string    `json:"monitor_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Index     int       `json:"index"` // zero-based
	Target    float64   `json:"target"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
	At        time.Time `json:"at"`
}

// CompletedEvent is emitted exactly once when a monitor completes.
type CompletedEvent struct {
	MonitorID    string    `json:"monitor_id"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Direction    Direction `json:"direction"`
	Reason       string    `json:"reason"`
	FinalPnL     float64   `json:"final_pnl"`
	LeveragedPnL float64   `json:"leveraged_pnl"`
	DurationMs   int64     `json:"duration_ms"`
	TargetsHit   int       `json:"targets_hit"`
	PeakProfit   float64   `json:"peak_profit"`
	At           time.Time `json:"at"`
}
