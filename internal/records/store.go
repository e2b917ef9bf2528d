// Package records owns the target partitions and the access log buffer.
// The in-memory state is authoritative; documents are written best-effort.
package records

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/models"
	"keepwarm/internal/storage"
	"keepwarm/internal/urlutil"
)

// DefaultMaxLogs caps the in-memory access log.
const DefaultMaxLogs = 1000

// Default page size for Logs.
const DefaultPageSize = 50

// BatchError describes one rejected item of a batch add.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult is the outcome of AddTargets.
type BatchResult struct {
	Added  []models.Target `json:"added"`
	Errors []BatchError    `json:"errors"`
}

// Option configures a Store.
type Option func(*Store)

// WithMaxLogs overrides DefaultMaxLogs.
func WithMaxLogs(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLogs = n
		}
	}
}

// WithSeed replaces DefaultSeed.
func WithSeed(seed []models.TargetInput) Option {
	return func(s *Store) { s.seed = seed }
}

// Store serializes every mutation behind one mutex.
type Store struct {
	docs    storage.DocumentStore
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Measures
	maxLogs int
	seed    []models.TargetInput
	jitter  func() int64

	// persistMu orders document writes so an older snapshot never lands
	// after a newer one.
	persistMu sync.Mutex

	mu         sync.Mutex
	continuous []models.Target
	scheduled  []models.Target
	logs       []models.AccessLog
	logsDirty  bool
	lastLogID  int64
}

// New creates an empty Store. Call Load before use.
func New(docs storage.DocumentStore, clk clock.Clock, log *zap.Logger, m *metrics.Measures, opts ...Option) *Store {
	s := &Store{
		docs:    docs,
		clock:   clk,
		log:     log,
		metrics: m,
		maxLogs: DefaultMaxLogs,
		seed:    DefaultSeed(),
		jitter:  func() int64 { return rand.Int64N(1000) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads durable state. A missing or unreadable targets document is
// replaced by the seed set, which is then written back; a missing or
// unreadable logs document yields an empty log. Load never fails.
func (s *Store) Load(ctx context.Context) {
	var targets storage.TargetsDocument
	err := s.docs.Load(ctx, storage.DocTargets, &targets)
	seeded := err != nil

	s.mu.Lock()
	switch {
	case err == nil:
		s.continuous = normalize(targets.Targets, models.ModeContinuous)
		s.scheduled = normalize(targets.ScheduledTargets, models.ModeScheduled)
		s.log.Info("targets loaded", zap.Int("continuous", len(s.continuous)), zap.Int("scheduled", len(s.scheduled)))
	default:
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("targets document unreadable, using seed targets", zap.Error(err))
		}
		s.continuous, s.scheduled = s.seedTargets()
	}
	s.mu.Unlock()

	if seeded {
		s.PersistTargets(ctx)
	}

	var logs storage.LogsDocument
	err = s.docs.Load(ctx, storage.DocLogs, &logs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	if err == nil {
		s.logs = logs.Logs
		if len(s.logs) > s.maxLogs {
			s.logs = s.logs[:s.maxLogs]
		}
		for _, l := range s.logs {
			if l.ID > s.lastLogID {
				s.lastLogID = l.ID
			}
		}
		s.log.Info("access logs loaded", zap.Int("count", len(s.logs)))
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("logs document unreadable, starting empty", zap.Error(err))
	}
	s.metrics.LogRecords.Set(float64(len(s.logs)))
}

func normalize(in []models.Target, mode models.Mode) []models.Target {
	out := make([]models.Target, 0, len(in))
	for _, t := range in {
		if strings.TrimSpace(t.Name) == "" {
			t.Name = PlaceholderName
		}
		t.Mode = mode
		out = append(out, t)
	}
	return out
}

func (s *Store) seedTargets() (continuous, scheduled []models.Target) {
	continuous, scheduled = []models.Target{}, []models.Target{}
	for i, in := range s.seed {
		url, name, mode, err := validate(in)
		if err != nil {
			s.log.Warn("skipping invalid seed target", zap.Int("index", i), zap.Error(err))
			continue
		}
		t := models.Target{ID: int64(i + 1), URL: url, Name: name, Mode: mode, Active: in.Active == nil || *in.Active}
		if mode == models.ModeContinuous {
			continuous = append(continuous, t)
		} else {
			scheduled = append(scheduled, t)
		}
	}
	return continuous, scheduled
}

func validate(in models.TargetInput) (url, name string, mode models.Mode, err error) {
	switch {
	case strings.TrimSpace(in.URL) == "":
		return "", "", "", &ValidationError{Field: "url", Reason: "is required"}
	case strings.TrimSpace(in.Name) == "":
		return "", "", "", &ValidationError{Field: "name", Reason: "is required"}
	case strings.TrimSpace(in.Mode) == "":
		return "", "", "", &ValidationError{Field: "mode", Reason: "is required"}
	}
	url, err = urlutil.Validate(in.URL)
	if err != nil {
		return "", "", "", &ValidationError{Field: "url", Reason: err.Error()}
	}
	mode, err = models.ParseMode(in.Mode)
	if err != nil {
		return "", "", "", &ValidationError{Field: "mode", Reason: "must be continuous or scheduled"}
	}
	return url, strings.TrimSpace(in.Name), mode, nil
}

// newTargetID must be called with s.mu held.
func (s *Store) newTargetID() int64 {
	id := s.clock.Now().UnixMilli() + s.jitter()
	for s.hasID(id) {
		id++
	}
	return id
}

func (s *Store) hasID(id int64) bool {
	_, _, ok := s.find(id)
	return ok
}

// find returns the partition holding id and the index within it.
func (s *Store) find(id int64) (*[]models.Target, int, bool) {
	for _, p := range []*[]models.Target{&s.continuous, &s.scheduled} {
		for i := range *p {
			if (*p)[i].ID == id {
				return p, i, true
			}
		}
	}
	return nil, 0, false
}

func (s *Store) partition(mode models.Mode) *[]models.Target {
	if mode == models.ModeContinuous {
		return &s.continuous
	}
	return &s.scheduled
}

// insert must be called with s.mu held.
func (s *Store) insert(url, name string, mode models.Mode, active bool) models.Target {
	t := models.Target{ID: s.newTargetID(), URL: url, Name: name, Mode: mode, Active: active}
	p := s.partition(mode)
	*p = append(*p, t)
	return t
}

// AddTarget validates and appends a new active target.
func (s *Store) AddTarget(ctx context.Context, in models.TargetInput) (models.Target, error) {
	url, name, mode, err := validate(in)
	if err != nil {
		return models.Target{}, err
	}
	s.mu.Lock()
	t := s.insert(url, name, mode, true)
	s.mu.Unlock()

	s.PersistTargets(ctx)
	return t, nil
}

// AddTargets validates each item independently. Valid items are committed
// even when others fail; in that case ErrPartialBatch is returned alongside
// the result.
func (s *Store) AddTargets(ctx context.Context, items []models.TargetInput) (BatchResult, error) {
	res := BatchResult{Added: []models.Target{}, Errors: []BatchError{}}

	s.mu.Lock()
	for i, in := range items {
		url, name, mode, err := validate(in)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, Error: err.Error()})
			continue
		}
		res.Added = append(res.Added, s.insert(url, name, mode, in.Active == nil || *in.Active))
	}
	s.mu.Unlock()

	if len(res.Added) > 0 {
		s.PersistTargets(ctx)
	}
	if len(res.Errors) > 0 {
		return res, ErrPartialBatch
	}
	return res, nil
}

// DeleteTarget removes id from both partitions. Absent ids are ignored.
func (s *Store) DeleteTarget(ctx context.Context, id int64) {
	s.mu.Lock()
	s.continuous = without(s.continuous, id)
	s.scheduled = without(s.scheduled, id)
	s.mu.Unlock()

	s.PersistTargets(ctx)
}

func without(in []models.Target, id int64) []models.Target {
	out := in[:0:0]
	for _, t := range in {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// SetActive flips the active flag of id.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) (models.Target, error) {
	s.mu.Lock()
	p, i, ok := s.find(id)
	if !ok {
		s.mu.Unlock()
		return models.Target{}, &NotFoundError{ID: id}
	}
	(*p)[i].Active = active
	t := (*p)[i]
	s.mu.Unlock()

	s.PersistTargets(ctx)
	return t, nil
}

// EditTarget replaces url, name and mode of id. A mode change moves the
// target to the other partition, keeping its id and active flag.
func (s *Store) EditTarget(ctx context.Context, id int64, in models.TargetInput) (models.Target, error) {
	url, name, mode, err := validate(in)
	if err != nil {
		return models.Target{}, err
	}

	s.mu.Lock()
	p, i, ok := s.find(id)
	if !ok {
		s.mu.Unlock()
		return models.Target{}, &NotFoundError{ID: id}
	}
	t := (*p)[i]
	t.URL, t.Name = url, name
	if t.Mode == mode {
		(*p)[i] = t
	} else {
		*p = append((*p)[:i:i], (*p)[i+1:]...)
		t.Mode = mode
		dst := s.partition(mode)
		*dst = append(*dst, t)
	}
	s.mu.Unlock()

	s.PersistTargets(ctx)
	return t, nil
}

// Targets returns copies of both partitions.
func (s *Store) Targets() (continuous, scheduled []models.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Target{}, s.continuous...), append([]models.Target{}, s.scheduled...)
}

// ActiveTargets returns the active targets of one partition.
func (s *Store) ActiveTargets(mode models.Mode) []models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Target
	for _, t := range *s.partition(mode) {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// AppendLog assigns an id (and a timestamp when empty) and prepends rec,
// evicting the oldest records beyond the cap.
func (s *Store) AppendLog(rec models.AccessLog) models.AccessLog {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	id := now.UnixMilli()
	if id <= s.lastLogID {
		id = s.lastLogID + 1
	}
	s.lastLogID = id
	rec.ID = id
	if rec.Timestamp == "" {
		rec.Timestamp = clock.Format(s.clock, now)
	}

	if len(s.logs) >= s.maxLogs {
		s.logs = s.logs[:s.maxLogs-1]
	}
	s.logs = append(s.logs, models.AccessLog{})
	copy(s.logs[1:], s.logs)
	s.logs[0] = rec
	s.logsDirty = true
	s.metrics.LogRecords.Set(float64(len(s.logs)))
	return rec
}

// Logs returns one 1-based page of the log, most recent first, and the
// total number of records.
func (s *Store) Logs(page, pageSize int) ([]models.AccessLog, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.logs)
	start := (page - 1) * pageSize
	if start >= total {
		return []models.AccessLog{}, total
	}
	end := min(start+pageSize, total)
	return append([]models.AccessLog{}, s.logs[start:end]...), total
}

// SweepLogs drops records older than horizon and persists the log if any
// were removed. Records with unreadable timestamps are dropped too.
func (s *Store) SweepLogs(ctx context.Context, horizon time.Duration) int {
	cutoff := s.clock.Now().Add(-horizon)

	s.mu.Lock()
	kept := s.logs[:0:0]
	for _, l := range s.logs {
		ts, err := clock.Parse(s.clock, l.Timestamp)
		if err == nil && ts.After(cutoff) {
			kept = append(kept, l)
		}
	}
	removed := len(s.logs) - len(kept)
	s.logs = kept
	if removed > 0 {
		s.logsDirty = true
	}
	s.metrics.LogRecords.Set(float64(len(s.logs)))
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.LogsSwept.Add(float64(removed))
		s.log.Info("expired access logs removed", zap.Int("removed", removed), zap.Duration("horizon", horizon))
		s.PersistLogs(ctx)
	}
	return removed
}

// ClearLogs empties the log and persists immediately.
func (s *Store) ClearLogs(ctx context.Context) {
	s.mu.Lock()
	s.logs = []models.AccessLog{}
	s.logsDirty = true
	s.metrics.LogRecords.Set(0)
	s.mu.Unlock()

	s.PersistLogs(ctx)
}

// PersistTargets writes both partitions. Failures are logged, not returned.
func (s *Store) PersistTargets(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	doc := storage.TargetsDocument{
		Targets:          append([]models.Target{}, s.continuous...),
		ScheduledTargets: append([]models.Target{}, s.scheduled...),
		LastUpdated:      s.clock.Now().UTC(),
	}
	s.mu.Unlock()

	if err := s.docs.Save(ctx, storage.DocTargets, doc); err != nil {
		s.persistFailed(storage.DocTargets, err)
	}
}

// PersistLogs writes the log unconditionally.
func (s *Store) PersistLogs(ctx context.Context) {
	s.persistLogs(ctx, false)
}

// FlushLogs writes the log only if it changed since the last write.
func (s *Store) FlushLogs(ctx context.Context) {
	s.persistLogs(ctx, true)
}

func (s *Store) persistLogs(ctx context.Context, onlyDirty bool) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if onlyDirty && !s.logsDirty {
		s.mu.Unlock()
		return
	}
	doc := storage.LogsDocument{
		Logs:        append([]models.AccessLog{}, s.logs...),
		LastUpdated: s.clock.Now().UTC(),
	}
	s.logsDirty = false
	s.mu.Unlock()

	if err := s.docs.Save(ctx, storage.DocLogs, doc); err != nil {
		s.mu.Lock()
		s.logsDirty = true
		s.mu.Unlock()
		s.persistFailed(storage.DocLogs, err)
		return
	}
	s.log.Debug("access logs persisted", zap.Int("count", len(doc.Logs)))
}

func (s *Store) persistFailed(doc string, err error) {
	s.metrics.PersistFailures.WithLabelValues(doc).Inc()
	s.log.Error("failed to persist document", zap.String("document", doc), zap.Error(fmt.Errorf("save %s: %w", doc, err)))
}
