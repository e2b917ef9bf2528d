package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/models"
)

// State is the windowed scheduler's visiting state.
type State int

const (
	// StateDormant means no visits are being issued.
	StateDormant State = iota
	// StateActive means exactly one tick source is issuing visits.
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "dormant"
}

// WindowedConfig holds the windowed scheduler's timing.
type WindowedConfig struct {
	Quiet Window
	// Interval between visits while active.
	Interval time.Duration
	// Supervise is how often the state is re-evaluated.
	Supervise time.Duration
}

// Windowed visits the scheduled targets on a fixed cadence except during a
// daily quiet window. A supervising loop re-evaluates the state; a single
// wake timer resumes visiting when the window closes.
type Windowed struct {
	targets TargetSource
	visitor Visitor
	clock   clock.Clock
	cfg     WindowedConfig
	log     *zap.Logger
	metrics *metrics.Measures

	mu       sync.Mutex
	visitCtx context.Context
	state    State
	ticker   clock.Ticker
	tickStop chan struct{}
	wake     clock.Timer
	wakeAt   time.Time
	wakeGen  uint64
	stopped  bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWindowed creates a dormant Windowed scheduler.
func NewWindowed(targets TargetSource, v Visitor, clk clock.Clock, cfg WindowedConfig, log *zap.Logger, m *metrics.Measures) *Windowed {
	return &Windowed{
		targets:  targets,
		visitor:  v,
		clock:    clk,
		cfg:      cfg,
		log:      log.Named("windowed"),
		metrics:  m,
		visitCtx: context.Background(),
		stopChan: make(chan struct{}),
	}
}

// Start evaluates the state once and then re-evaluates it every
// cfg.Supervise until Stop.
func (w *Windowed) Start(ctx context.Context) {
	w.mu.Lock()
	w.visitCtx = context.WithoutCancel(ctx)
	w.mu.Unlock()

	w.log.Info("starting windowed scheduler",
		zap.Stringer("quiet_window", w.cfg.Quiet),
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("supervise", w.cfg.Supervise),
	)
	w.Evaluate()

	supervisor := w.clock.NewTicker(w.cfg.Supervise)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer supervisor.Stop()
		for {
			select {
			case <-supervisor.C():
				w.Evaluate()
			case <-w.stopChan:
				return
			}
		}
	}()
}

// Stop halts supervision, visiting and any pending wake, then waits for the
// loops to exit.
func (w *Windowed) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.stopTicking()
	w.cancelWake()
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.log.Info("windowed scheduler stopped")
}

// Evaluate brings the state in line with the current time. Inside the quiet
// window the tick source is stopped and one wake is kept pending at the
// window end. Outside it any wake is cancelled and a tick source is started
// unless one is already running.
func (w *Windowed) Evaluate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	now := w.clock.Now()
	if w.cfg.Quiet.Contains(now) {
		if w.state == StateActive {
			w.log.Info("entering quiet window, visits suspended")
		}
		w.stopTicking()
		w.setState(StateDormant)

		end := w.cfg.Quiet.NextEnd(now)
		if w.wake != nil && w.wakeAt.Equal(end) {
			return
		}
		w.cancelWake()
		w.armWake(now, end)
		return
	}

	w.cancelWake()
	if w.state == StateActive {
		return
	}
	w.startTicking()
	w.setState(StateActive)
	w.log.Info("outside quiet window, visits running")
}

// State returns the current state.
func (w *Windowed) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// NextWake returns when the pending wake fires, if one is pending.
func (w *Windowed) NextWake() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakeAt, w.wake != nil
}

// armWake must be called with w.mu held.
func (w *Windowed) armWake(now, at time.Time) {
	w.wakeGen++
	gen := w.wakeGen
	w.wakeAt = at
	w.wake = w.clock.AfterFunc(at.Sub(now), func() { w.onWake(gen) })
	w.log.Info("wake scheduled", zap.String("at", clock.Format(w.clock, at)))
}

// cancelWake must be called with w.mu held.
func (w *Windowed) cancelWake() {
	if w.wake == nil {
		return
	}
	w.wake.Stop()
	w.wake = nil
	w.wakeAt = time.Time{}
}

func (w *Windowed) onWake(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || gen != w.wakeGen || w.wake == nil {
		return
	}
	w.wake = nil
	w.wakeAt = time.Time{}

	w.stopTicking()
	w.startTicking()
	w.setState(StateActive)
	w.log.Info("quiet window over, visits resumed")
}

// startTicking must be called with w.mu held and no tick source running.
func (w *Windowed) startTicking() {
	ticker := w.clock.NewTicker(w.cfg.Interval)
	stop := make(chan struct{})
	w.ticker, w.tickStop = ticker, stop
	ctx := w.visitCtx

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ticker.C():
				n := dispatch(ctx, w.targets, w.visitor, models.ModeScheduled)
				w.log.Debug("scheduled visits dispatched", zap.Int("targets", n))
			case <-stop:
				return
			}
		}
	}()
}

// stopTicking must be called with w.mu held.
func (w *Windowed) stopTicking() {
	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.tickStop)
	w.ticker, w.tickStop = nil, nil
}

func (w *Windowed) setState(s State) {
	w.state = s
	if s == StateActive {
		w.metrics.WindowedActive.Set(1)
	} else {
		w.metrics.WindowedActive.Set(0)
	}
}
