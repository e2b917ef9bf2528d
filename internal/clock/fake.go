package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock for tests. Timers and tickers fire only
// when Advance or Set moves the clock past their deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake clock set to now. The clock's location is the
// location of now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{fake: f, period: d, next: f.now.Add(d), c: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fake: f, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// PendingTimers reports how many one-shot timers have not fired or been
// stopped.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Deadlines returns the deadlines of all pending timers.
func (f *Fake) Deadlines() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.timers))
	for _, t := range f.timers {
		out = append(out, t.deadline)
	}
	return out
}

// ActiveTickers reports how many tickers are running.
func (f *Fake) ActiveTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Set moves the clock to t, firing everything due on the way.
func (f *Fake) Set(t time.Time) {
	f.Advance(t.Sub(f.Now()))
}

// Advance moves the clock forward by d. Due timers run synchronously in
// deadline order; due tickers deliver without blocking.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		var (
			when   time.Time
			timer  *fakeTimer
			ticker *fakeTicker
		)
		for _, t := range f.timers {
			if !t.deadline.After(target) && (timer == nil || t.deadline.Before(when)) {
				when, timer = t.deadline, t
			}
		}
		for _, t := range f.tickers {
			if !t.next.After(target) && (timer == nil && ticker == nil || t.next.Before(when)) {
				when, ticker, timer = t.next, t, nil
			}
		}
		if timer == nil && ticker == nil {
			break
		}
		if when.After(f.now) {
			f.now = when
		}
		if timer != nil {
			f.removeTimer(timer)
			f.mu.Unlock()
			timer.fn()
			f.mu.Lock()
			continue
		}
		ticker.next = ticker.next.Add(ticker.period)
		select {
		case ticker.c <- when:
		default:
		}
	}
	f.now = target
	f.mu.Unlock()
}

func (f *Fake) removeTimer(t *fakeTimer) bool {
	for i, p := range f.timers {
		if p == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	fake     *Fake
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	return t.fake.removeTimer(t)
}

type fakeTicker struct {
	fake   *Fake
	period time.Duration
	next   time.Time
	c      chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	for i, p := range t.fake.tickers {
		if p == t {
			t.fake.tickers = append(t.fake.tickers[:i], t.fake.tickers[i+1:]...)
			return
		}
	}
}
