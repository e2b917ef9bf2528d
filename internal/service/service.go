// Package service is the operation surface the admin API is built on. It
// delegates to the record store and the notifier and logs every change.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"keepwarm/internal/logger"
	"keepwarm/internal/models"
	"keepwarm/internal/notifier"
	"keepwarm/internal/records"
	"keepwarm/internal/scheduler"
)

// TargetStore is the record store as seen by the service.
type TargetStore interface {
	Targets() (continuous, scheduled []models.Target)
	AddTarget(ctx context.Context, in models.TargetInput) (models.Target, error)
	AddTargets(ctx context.Context, items []models.TargetInput) (records.BatchResult, error)
	DeleteTarget(ctx context.Context, id int64)
	SetActive(ctx context.Context, id int64, active bool) (models.Target, error)
	EditTarget(ctx context.Context, id int64, in models.TargetInput) (models.Target, error)
	Logs(page, pageSize int) ([]models.AccessLog, int)
	ClearLogs(ctx context.Context)
	PersistTargets(ctx context.Context)
	PersistLogs(ctx context.Context)
}

// NotifierControl is the notifier as seen by the service.
type NotifierControl interface {
	Status() notifier.Status
	SetConfig(ctx context.Context, chatID, botToken string) error
	Clear(ctx context.Context)
	Enable(ctx context.Context)
	Disable(ctx context.Context)
	Persist(ctx context.Context)
}

// StateReporter reports the windowed scheduler state.
type StateReporter interface {
	State() scheduler.State
}

// TargetList groups both partitions.
type TargetList struct {
	Continuous []models.Target `json:"targets"`
	Scheduled  []models.Target `json:"scheduledTargets"`
}

// LogPage is one page of the access log.
type LogPage struct {
	Logs  []models.AccessLog `json:"logs"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

// Health summarizes the running process.
type Health struct {
	Status          string `json:"status"`
	Windowed        string `json:"windowed"`
	ContinuousCount int    `json:"continuousTargets"`
	ScheduledCount  int    `json:"scheduledTargets"`
	LogCount        int    `json:"logs"`
}

// Service is safe for concurrent use.
type Service struct {
	targets  TargetStore
	notifier NotifierControl
	windowed StateReporter
	log      *zap.Logger
}

// New creates a Service. windowed may be nil.
func New(targets TargetStore, n NotifierControl, windowed StateReporter, log *zap.Logger) *Service {
	return &Service{targets: targets, notifier: n, windowed: windowed, log: log}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.log)
}

// ListTargets returns both partitions.
func (s *Service) ListTargets() TargetList {
	c, sc := s.targets.Targets()
	return TargetList{Continuous: c, Scheduled: sc}
}

// CreateTarget adds one active target.
func (s *Service) CreateTarget(ctx context.Context, in models.TargetInput) (models.Target, error) {
	t, err := s.targets.AddTarget(ctx, in)
	if err != nil {
		return models.Target{}, err
	}
	s.logger(ctx).Info("target added", zap.Int64("target_id", t.ID), zap.String("mode", string(t.Mode)))
	return t, nil
}

// CreateTargetsBatch adds every valid item. records.ErrPartialBatch is
// returned with the result when some items were rejected.
func (s *Service) CreateTargetsBatch(ctx context.Context, items []models.TargetInput) (records.BatchResult, error) {
	if len(items) == 0 {
		return records.BatchResult{}, &records.ValidationError{Field: "urls", Reason: "must be a non-empty list"}
	}
	res, err := s.targets.AddTargets(ctx, items)
	s.logger(ctx).Info("target batch processed", zap.Int("added", len(res.Added)), zap.Int("rejected", len(res.Errors)))
	return res, err
}

// DeleteTarget removes id. Unknown ids are not an error.
func (s *Service) DeleteTarget(ctx context.Context, id int64) {
	s.targets.DeleteTarget(ctx, id)
	s.logger(ctx).Info("target deleted", zap.Int64("target_id", id))
}

// SetTargetActive pauses or resumes visits to id.
func (s *Service) SetTargetActive(ctx context.Context, id int64, active bool) (models.Target, error) {
	t, err := s.targets.SetActive(ctx, id, active)
	if err != nil {
		return models.Target{}, err
	}
	s.logger(ctx).Info("target toggled", zap.Int64("target_id", id), zap.Bool("active", active))
	return t, nil
}

// EditTarget replaces the url, name and mode of id.
func (s *Service) EditTarget(ctx context.Context, id int64, in models.TargetInput) (models.Target, error) {
	t, err := s.targets.EditTarget(ctx, id, in)
	if err != nil {
		return models.Target{}, err
	}
	s.logger(ctx).Info("target edited", zap.Int64("target_id", id), zap.String("mode", string(t.Mode)))
	return t, nil
}

// ListLogs returns one page of the access log, most recent first.
func (s *Service) ListLogs(page, pageSize int) LogPage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = records.DefaultPageSize
	}
	items, total := s.targets.Logs(page, pageSize)
	return LogPage{Logs: items, Total: total, Page: page, Limit: pageSize}
}

// ClearLogs empties the access log.
func (s *Service) ClearLogs(ctx context.Context) {
	s.targets.ClearLogs(ctx)
	s.logger(ctx).Info("access logs cleared")
}

// NotifierStatus reports the notifier config without secrets.
func (s *Service) NotifierStatus() notifier.Status {
	return s.notifier.Status()
}

// SetNotifierConfig stores new credentials and sends a test message.
func (s *Service) SetNotifierConfig(ctx context.Context, chatID, botToken string) error {
	err := s.notifier.SetConfig(ctx, chatID, botToken)
	switch {
	case errors.Is(err, notifier.ErrDeliveryTestFailed):
		s.logger(ctx).Warn("notifier configured but test message failed", zap.Error(err))
	case err == nil:
		s.logger(ctx).Info("notifier configured")
	}
	return err
}

// ClearNotifierConfig forgets the credentials.
func (s *Service) ClearNotifierConfig(ctx context.Context) {
	s.notifier.Clear(ctx)
	s.logger(ctx).Info("notifier config cleared")
}

// SetNotifierPush pauses or resumes alert delivery.
func (s *Service) SetNotifierPush(ctx context.Context, enabled bool) {
	if enabled {
		s.notifier.Enable(ctx)
	} else {
		s.notifier.Disable(ctx)
	}
	s.logger(ctx).Info("notifier push toggled", zap.Bool("enabled", enabled))
}

// Health reports scheduler state and record counts.
func (s *Service) Health() Health {
	c, sc := s.targets.Targets()
	_, total := s.targets.Logs(1, 1)
	h := Health{
		Status:          "ok",
		ContinuousCount: len(c),
		ScheduledCount:  len(sc),
		LogCount:        total,
	}
	if s.windowed != nil {
		h.Windowed = s.windowed.State().String()
	}
	return h
}

// Flush writes every document. It is called once on shutdown.
func (s *Service) Flush(ctx context.Context) {
	s.targets.PersistTargets(ctx)
	s.targets.PersistLogs(ctx)
	s.notifier.Persist(ctx)
	s.log.Info("final flush complete")
}
