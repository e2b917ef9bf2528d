package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/logger"
)

// LogKeeper is the part of the record store the maintenance jobs drive.
type LogKeeper interface {
	FlushLogs(ctx context.Context)
	SweepLogs(ctx context.Context, horizon time.Duration) int
}

// MaintenanceConfig holds the maintenance job schedules.
type MaintenanceConfig struct {
	FlushEvery time.Duration
	// SweepSchedule is a five-field cron expression in the clock's zone.
	SweepSchedule string
	Retention     time.Duration
}

// Maintenance runs the periodic log flush and the daily retention sweep on
// a cron scheduler.
type Maintenance struct {
	logs LogKeeper
	cfg  MaintenanceConfig
	cron *cron.Cron
	log  *zap.Logger
	ctx  context.Context
}

// NewMaintenance registers both jobs. It fails on an invalid schedule.
func NewMaintenance(logs LogKeeper, clk clock.Clock, cfg MaintenanceConfig, log *zap.Logger) (*Maintenance, error) {
	log = log.Named("maintenance")
	cl := logger.CronLogger{L: log}
	m := &Maintenance{
		logs: logs,
		cfg:  cfg,
		log:  log,
		ctx:  context.Background(),
		cron: cron.New(
			cron.WithLocation(clk.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.FlushEvery), m.Flush); err != nil {
		return nil, fmt.Errorf("invalid flush interval %s: %w", cfg.FlushEvery, err)
	}
	if _, err := m.cron.AddFunc(cfg.SweepSchedule, m.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	return m, nil
}

// Start runs the cron scheduler in the background.
func (m *Maintenance) Start(ctx context.Context) {
	m.ctx = context.WithoutCancel(ctx)
	m.log.Info("starting log maintenance",
		zap.Duration("flush_every", m.cfg.FlushEvery),
		zap.String("sweep_schedule", m.cfg.SweepSchedule),
		zap.Duration("retention", m.cfg.Retention),
	)
	m.cron.Start()
}

// Stop stops scheduling and waits for a running job to finish or ctx to
// expire.
func (m *Maintenance) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
		m.log.Info("log maintenance stopped")
	case <-ctx.Done():
		m.log.Warn("log maintenance stop timed out", zap.Error(ctx.Err()))
	}
}

// Flush writes the access log if it changed since the last write.
func (m *Maintenance) Flush() {
	m.logs.FlushLogs(m.ctx)
}

// Sweep removes access log records older than the retention period.
func (m *Maintenance) Sweep() {
	removed := m.logs.SweepLogs(m.ctx, m.cfg.Retention)
	m.log.Info("retention sweep finished", zap.Int("removed", removed))
}
