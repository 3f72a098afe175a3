package recorder

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key != "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// SignalRow is the gorm model of the signals table.
type SignalRow struct {
	ID             uint      `gorm:"primaryKey"`
	Timestamp      time.Time `gorm:"index:idx_signals_sym_ts,priority:2;not null"`
	Symbol         string    `gorm:"index:idx_signals_sym_ts,priority:1;not null"`
	Timeframe      string    `gorm:"not null"`
	Price          float64
	TotalScore     float64
	IsValid        bool
	Direction      string
	SignalTrend    string
	EffectiveTrend string
	CounterTrend   bool
	Regime         string
	MLProbability  float64
	MLDriven       bool
	Confirmations  int
	Strength       string
	Reason         string
	Components     string `gorm:"type:jsonb"`
}

func (SignalRow) TableName() string { return "signals" }

// OutcomeRow is the gorm model of the outcomes table.
type OutcomeRow struct {
	ID           uint   `gorm:"primaryKey"`
	MonitorID    string `gorm:"not null"`
	Symbol       string `gorm:"index:idx_outcomes_sym_ts,priority:1;not null"`
	Timeframe    string
	Direction    string
	Entry        float64
	IsWin        bool
	PnL          float64
	LeveragedPnL float64
	TargetsHit   int
	Reason       string
	OpenedAt     time.Time
	ClosedAt     time.Time `gorm:"index:idx_outcomes_sym_ts,priority:2;not null"`
}

func (OutcomeRow) TableName() string { return "outcomes" }

// EventRow is the gorm model of the lifecycle_events table.
type EventRow struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"not null"`
	MonitorID string    `gorm:"index"`
	Symbol    string    `gorm:"not null"`
	Kind      string    `gorm:"not null"`
	Price     float64
	PnL       float64
	Note      string
}

func (EventRow) TableName() string { return "lifecycle_events" }

// PostgresRecorder persists historical data to PostgreSQL through gorm.
type PostgresRecorder struct {
	db *gorm.DB
}

// NewPostgresRecorder connects and auto-migrates the tables.
func NewPostgresRecorder(opt PostgresOption) (*PostgresRecorder, error) {
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&SignalRow{}, &OutcomeRow{}, &EventRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Infof("postgres recorder opened")
	return &PostgresRecorder{db: db}, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func newSignalRow(res *model.SignalResult) *SignalRow {
	return &SignalRow{
		Timestamp:      orNow(res.EvaluatedAt),
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		Price:          res.Price,
		TotalScore:     res.TotalScore,
		IsValid:        res.IsValid,
		Direction:      string(res.Direction),
		SignalTrend:    string(res.SignalTrend),
		EffectiveTrend: string(res.EffectiveTrend),
		CounterTrend:   res.CounterTrend,
		Regime:         string(res.Regime),
		MLProbability:  res.MLProbability,
		MLDriven:       res.IsMLDriven,
		Confirmations:  res.ConfirmationCount,
		Strength:       strings.Join(res.StrengthFactors, ","),
		Reason:         res.Reason,
		Components:     auditJSON(res),
	}
}

func newOutcomeRow(o *model.Outcome) *OutcomeRow {
	return &OutcomeRow{
		MonitorID:    o.MonitorID,
		Symbol:       o.Symbol,
		Timeframe:    o.Timeframe,
		Direction:    string(o.Direction),
		Entry:        o.Entry,
		IsWin:        o.IsWin,
		PnL:          o.PnL,
		LeveragedPnL: o.LeveragedPnL,
		TargetsHit:   o.TargetsHit,
		Reason:       o.Reason,
		OpenedAt:     orNow(o.OpenedAt),
		ClosedAt:     orNow(o.ClosedAt),
	}
}

func (r *PostgresRecorder) RecordSignal(res *model.SignalResult) error {
	return r.db.Create(newSignalRow(res)).Error
}

func (r *PostgresRecorder) RecordOutcome(o *model.Outcome) error {
	return r.db.Create(newOutcomeRow(o)).Error
}

func (r *PostgresRecorder) RecordEvent(evt *LifecycleEvent) error {
	return r.db.Create(&EventRow{
		Timestamp: orNow(evt.At),
		MonitorID: evt.MonitorID,
		Symbol:    evt.Symbol,
		Kind:      evt.Kind,
		Price:     evt.Price,
		PnL:       evt.PnL,
		Note:      evt.Note,
	}).Error
}

func (r *PostgresRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	logger.Infof("closing postgres recorder")
	return sqlDB.Close()
}
