package main

import (
	"github.com/grafana/pyroscope-go"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/recorder"
)

// openRecorder prefers PostgreSQL when a DSN is configured, then SQLite, then a no-op.
func openRecorder(cfg *config.Config) recorder.Recorder {
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pr, err := recorder.NewPostgresRecorder(recorder.PostgresOption{ConnString: dsn})
		if err == nil {
			logger.Infof("recorder: postgres")
			return pr
		}
		logger.Warnf("init postgres recorder failed, trying sqlite: %v", err)
	}
	if path := cfg.Database.SQLitePath; path != "" {
		sr, err := recorder.NewSQLiteRecorder(path)
		if err == nil {
			logger.Infof("recorder: sqlite %s", path)
			return sr
		}
		logger.Warnf("init sqlite recorder failed, using noop: %v", err)
	}
	return recorder.NewNoopRecorder()
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{})  { logger.Debugf(format, args...) }
func (profilerLogger) Debugf(format string, args ...interface{}) { logger.Debugf(format, args...) }
func (profilerLogger) Errorf(format string, args ...interface{}) { logger.Errorf(format, args...) }

// startProfiler starts continuous profiling when profiling.server_address is set.
func startProfiler(cfg *config.Config) func() {
	if cfg.Profiling.ServerAddress == "" {
		return nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Trace.ServiceName,
		ServerAddress:   cfg.Profiling.ServerAddress,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		logger.Warnf("pyroscope start failed: %v", err)
		return nil
	}
	logger.Infof("profiling to %s", cfg.Profiling.ServerAddress)
	return func() { _ = profiler.Stop() }
}
