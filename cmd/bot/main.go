package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/api"
	"PerpSentinel/internal/collector"
	"PerpSentinel/internal/config"
	"PerpSentinel/internal/indicator"
	"PerpSentinel/internal/levels"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
	"PerpSentinel/internal/notifier"
	"PerpSentinel/internal/recorder"
	"PerpSentinel/internal/scheduler"
	"PerpSentinel/internal/strategy"
	"PerpSentinel/internal/strategy/strategyobs"
	"PerpSentinel/internal/stream"
	"PerpSentinel/internal/trace"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()
	_ = logger.Init(logger.Options{Level: "info"})

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config validation: %v", err)
	}

	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Infof("PerpSentinel starting: symbols=%v timeframes=%v", cfg.Symbols, cfg.Timeframes)

	if err := trace.Init(cfg.Trace.ServiceName, cfg.Trace.Enabled); err != nil {
		logger.Fatalf("init tracing: %v", err)
	}
	if stopProfiler := startProfiler(cfg); stopProfiler != nil {
		defer stopProfiler()
	}

	rec := openRecorder(cfg)

	state, err := adaptive.NewStore(adaptive.WithFile(cfg.State.File), adaptive.WithRecorder(rec))
	if err != nil {
		logger.Fatalf("init adaptive state: %v", err)
	}

	// Init fetcher
	var fetcher collector.Fetcher
	if cfg.DataSource.Mock {
		fetcher = &collector.MockFetcher{}
	} else {
		fetcher = collector.NewBinanceFetcher(cfg.DataSource.BaseURL, cfg.Proxy, cfg.DataSource.Timeout)
	}
	logger.Infof("data source: %s", fetcher.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notifications are optional; without a bot token alerts only reach the log and the recorder.
	var tn *notifier.TelegramNotifier
	sinks := monitor.MultiSink{recorder.NewEventLog(rec)}
	notifyDone := make(chan struct{})
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		tn.MaxRetries = cfg.Telegram.MaxRetries
		sinks = append(sinks, tn)
		go func() {
			defer close(notifyDone)
			tn.Run(context.Background())
		}()
	} else {
		logger.Warnf("telegram.bot_token not set, notifications disabled")
		close(notifyDone)
	}

	ticks := stream.NewBinanceStream(cfg.Stream)
	monitors := monitor.NewManager(cfg.Monitor, ticks, sinks, state)

	deps := scheduler.Deps{
		Fetcher:     fetcher,
		Aggregator:  indicator.NewAggregator(cfg.Indicators, indicator.NewGridTuner()),
		Detector:    collector.NewBreakoutDetector(),
		Estimator:   collector.OutcomeEstimator{Stats: state},
		Regime:      collector.NewIndicatorRegime(),
		Correlation: collector.NewBenchmarkCorrelation(fetcher, cfg.DataSource.Benchmark),
		Engine:      strategyobs.Wrap(strategy.NewEngine(cfg.Scoring, state)),
		Levels:      levels.NewCalculator(cfg.Levels),
		Monitors:    monitors,
		State:       state,
		Recorder:    rec,
	}
	if tn != nil {
		deps.Notifier = tn
	}
	sched := scheduler.NewScheduler(ctx, cfg, deps)
	if err := sched.RegisterAll(); err != nil {
		logger.Fatalf("register cron tasks: %v", err)
	}
	sched.Start()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Infof("Telegram polling started")
	}

	var apiServer *api.Server
	if cfg.API.Addr != "" {
		apiServer = api.NewServer(cfg.API.Addr, api.NewHandler(monitors, state, cfg.Timeframes))
		apiServer.Start()
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		logger.Infof("RUN_ON_START enabled, running an evaluation cycle now")
		go sched.RunNow()
	}

	logger.Infof("PerpSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("shutdown signal received, stopping...")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	cancel()
	sched.Stop()
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("api shutdown: %v", err)
		}
	}
	if cfg.Monitor.CloseOnShutdown {
		n := monitors.CloseAll(shutdownCtx, model.ReasonShutdown)
		logger.Infof("closed %d monitors on shutdown", n)
	} else if n := monitors.Len(); n > 0 {
		logger.Infof("leaving %d monitors open", n)
	}
	if err := ticks.Close(); err != nil {
		logger.Warnf("close stream: %v", err)
	}
	if tn != nil {
		tn.Close()
	}
	select {
	case <-notifyDone:
	case <-shutdownCtx.Done():
		logger.Warnf("notification queue not drained before timeout")
	}
	if err := state.Save(); err != nil {
		logger.Errorf("save adaptive state: %v", err)
	}
	if err := rec.Close(); err != nil {
		logger.Warnf("close recorder: %v", err)
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("trace shutdown: %v", err)
	}
	logger.Infof("PerpSentinel stopped")
}
