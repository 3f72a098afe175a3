package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/collector"
	"PerpSentinel/internal/config"
	"PerpSentinel/internal/indicator"
	"PerpSentinel/internal/levels"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
	"PerpSentinel/internal/notifier"
	"PerpSentinel/internal/recorder"
	"PerpSentinel/internal/strategy"
	"PerpSentinel/internal/trace"
)

// Notifier queues outbound messages.
type Notifier interface {
	Enqueue(text string) error
}

// Deps are the collaborators of one evaluation cycle. Detector, Estimator, Regime and Correlation
// are optional; a nil collaborator contributes its neutral default.
type Deps struct {
	Fetcher     collector.Fetcher
	Aggregator  *indicator.Aggregator
	Detector    collector.PatternDetector
	Estimator   collector.ProbabilityEstimator
	Regime      collector.RegimeClassifier
	Correlation collector.CorrelationSource
	Engine      strategy.Evaluator
	Levels      *levels.Calculator
	Monitors    *monitor.Manager
	State       *adaptive.Store
	Notifier    Notifier
	Recorder    recorder.Recorder
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Deps

	symbols     []string
	timeframes  []string
	candleLimit int
	sched       config.Schedule
	ctx         context.Context

	running sync.Mutex
}

// NewScheduler creates a new Scheduler. ctx bounds every cycle it runs.
func NewScheduler(ctx context.Context, cfg *config.Config, deps Deps) *Scheduler {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:        cron.New(cron.WithSeconds()),
		Deps:        deps,
		symbols:     cfg.Symbols,
		timeframes:  cfg.Timeframes,
		candleLimit: cfg.DataSource.CandleLimit,
		sched:       cfg.Schedule,
		ctx:         ctx,
	}
}

// RegisterAll registers the evaluation cycle and the daily counter reset.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.Cron.AddFunc(s.sched.EvaluateCron, s.cycle); err != nil {
		return fmt.Errorf("register evaluate task: %w", err)
	}
	if _, err := s.Cron.AddFunc(s.sched.DailyResetCron, func() {
		s.State.ResetDaily()
		logger.Infof("counter-trend allowance reset")
	}); err != nil {
		return fmt.Errorf("register daily reset: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.Infof("scheduler started: %d symbols x %d timeframes", len(s.symbols), len(s.timeframes))
}

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	logger.Infof("scheduler stopped")
}

// RunNow executes one evaluation cycle immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.cycle()
}

// cycle evaluates every (symbol, timeframe) pair. A cycle still running when the next one fires is skipped.
func (s *Scheduler) cycle() {
	if !s.running.TryLock() {
		logger.Warnf("previous evaluation cycle still running, skipping")
		return
	}
	defer s.running.Unlock()

	ctx, span := trace.StartSpan(s.ctx, "scheduler.Cycle")
	defer span.End()

	start := time.Now()
	limit := s.sched.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, symbol := range s.symbols {
		for _, tf := range s.timeframes {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(symbol, tf string) {
				defer func() {
					<-sem
					wg.Done()
				}()
				s.runPair(ctx, symbol, tf)
			}(symbol, tf)
		}
	}
	wg.Wait()
	span.SetAttributes(attribute.Int("pairs", len(s.symbols)*len(s.timeframes)))
	logger.Infof("evaluation cycle finished in %s", time.Since(start).Round(time.Millisecond))
}

// runPair is the recover boundary for one pair.
func (s *Scheduler) runPair(ctx context.Context, symbol, tf string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("evaluate %s %s panicked: %v", symbol, tf, r)
		}
	}()
	if _, err := s.Evaluate(ctx, symbol, tf); err != nil {
		logger.Warnf("evaluate %s %s: %v", symbol, tf, err)
	}
}

// Evaluate runs the full pipeline for one pair: candles, indicators, collaborators, scoring, audit
// record and, for a valid signal on a symbol without an active monitor, alert and monitor.
func (s *Scheduler) Evaluate(ctx context.Context, symbol, tf string) (*model.SignalResult, error) {
	timeout := s.sched.CallTimeout
	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	candles, err := s.Fetcher.FetchCandles(fetchCtx, symbol, tf, s.candleLimit)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	snap, err := s.Aggregator.GetIndicators(ctx, symbol, tf, candles)
	if err != nil {
		return nil, fmt.Errorf("indicators: %w", err)
	}
	candles = snap.Candles

	in := strategy.Input{
		Symbol:        symbol,
		Timeframe:     tf,
		Candles:       candles,
		Snapshot:      snap,
		Patterns:      collector.DetectPatterns(ctx, s.Detector, timeout, symbol, tf, candles),
		MLProbability: collector.EstimateProbability(ctx, s.Estimator, timeout, symbol, tf, snap),
		Regime:        collector.ClassifyRegime(ctx, s.Regime, timeout, symbol, snap),
		Correlation:   collector.Correlate(ctx, s.Correlation, timeout, symbol, tf, candles),
	}
	res := s.Engine.Evaluate(ctx, in)
	if err := s.Recorder.RecordSignal(&res); err != nil {
		logger.Errorf("record signal %s %s: %v", symbol, tf, err)
	}
	logger.Debugf("%s %s score %.1f valid=%v: %s", symbol, tf, res.TotalScore, res.IsValid, res.Reason)

	if res.IsValid {
		s.act(ctx, &res, snap)
	}
	return &res, nil
}

// act turns a valid signal into levels, a monitor and an alert.
func (s *Scheduler) act(ctx context.Context, res *model.SignalResult, snap *model.IndicatorSnapshot) {
	if s.Monitors.Has(res.Symbol) {
		logger.Infof("%s already monitored, skipping %s signal on %s", res.Symbol, res.Direction, res.Timeframe)
		return
	}
	lv, err := s.Levels.Compute(res.Price, res.Direction, snap.ATR)
	if err != nil {
		logger.Errorf("levels %s: %v", res.Symbol, err)
		return
	}
	_, err = s.Monitors.Open(ctx, monitor.OpenRequest{
		Symbol:            res.Symbol,
		Timeframe:         res.Timeframe,
		Entry:             lv.Entry,
		Targets:           lv.Targets,
		StopLoss:          lv.StopLoss,
		Direction:         lv.Direction,
		IndicatorsAtEntry: snap,
	})
	switch {
	case errors.Is(err, monitor.ErrMonitorExists):
		logger.Infof("%s monitor opened concurrently, dropping signal", res.Symbol)
		return
	case err != nil:
		logger.Errorf("open monitor %s: %v", res.Symbol, err)
		return
	}
	if s.Notifier != nil {
		if err := s.Notifier.Enqueue(notifier.FormatSignalAlert(res, &lv)); err != nil {
			logger.Warnf("queue signal alert %s: %v", res.Symbol, err)
		}
	}
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	arg := ""
	if len(fields) > 1 {
		arg = strings.ToUpper(fields[1])
	}
	switch strings.ToLower(fields[0]) {
	case "/status", "查看监控":
		return notifier.FormatMonitorStatus(s.Monitors.Active())
	case "/close":
		if arg == "" {
			return "用法: /close SYMBOL"
		}
		ev, err := s.Monitors.Close(s.ctx, arg, model.ReasonManual)
		if errors.Is(err, monitor.ErrNoMonitor) {
			return fmt.Sprintf("%s 没有活跃监控", arg)
		}
		if err != nil {
			return fmt.Sprintf("平仓失败: %v", err)
		}
		return notifier.FormatCompleted(ev)
	case "/stats":
		if arg == "" {
			return "用法: /stats SYMBOL"
		}
		return notifier.FormatStats(s.State.SymbolStats(arg))
	default:
		return notifier.FormatHelp()
	}
}
