// Package strategyobs decorates an Evaluator with tracing and debug logging.
package strategyobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/strategy"
	"PerpSentinel/internal/trace"
)

type observed struct {
	next strategy.Evaluator
}

// Wrap returns an Evaluator that records a span and a debug line per evaluation.
func Wrap(next strategy.Evaluator) strategy.Evaluator {
	return &observed{next: next}
}

func (o *observed) Evaluate(ctx context.Context, in strategy.Input) model.SignalResult {
	ctx, span := trace.StartSpan(ctx, "strategy.Evaluate")
	defer span.End()

	start := time.Now()
	res := o.next.Evaluate(ctx, in)

	span.SetAttributes(
		attribute.String("symbol", in.Symbol),
		attribute.String("timeframe", in.Timeframe),
		attribute.Float64("score", res.TotalScore),
		attribute.Bool("valid", res.IsValid),
		attribute.String("direction", string(res.Direction)),
		attribute.Bool("counter_trend", res.CounterTrend),
	)
	logger.Debugf("evaluate %s %s: score=%.1f valid=%v dir=%s reason=%q (%s)",
		in.Symbol, in.Timeframe, res.TotalScore, res.IsValid, res.Direction, res.Reason, time.Since(start))
	return res
}
