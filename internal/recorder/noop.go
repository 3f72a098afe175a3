package recorder

import "PerpSentinel/internal/model"

// NoopRecorder is a no-op implementation used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSignal(_ *model.SignalResult) error { return nil }
func (n *NoopRecorder) RecordOutcome(_ *model.Outcome) error     { return nil }
func (n *NoopRecorder) RecordEvent(_ *LifecycleEvent) error      { return nil }
func (n *NoopRecorder) Close() error                             { return nil }
