// Package scheduler drives the periodic visits and the log maintenance jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/models"
)

// Visitor visits a single target.
type Visitor interface {
	Visit(ctx context.Context, target models.Target)
}

// TargetSource lists the targets a scheduler should visit.
type TargetSource interface {
	ActiveTargets(mode models.Mode) []models.Target
}

// dispatch launches one visit per active target of mode and returns how many
// were started. Visits are not awaited.
func dispatch(ctx context.Context, src TargetSource, v Visitor, mode models.Mode) int {
	targets := src.ActiveTargets(mode)
	for _, t := range targets {
		go v.Visit(ctx, t)
	}
	return len(targets)
}

// Continuous visits every active continuous target once per interval,
// around the clock.
type Continuous struct {
	targets  TargetSource
	visitor  Visitor
	clock    clock.Clock
	interval time.Duration
	log      *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewContinuous creates a Continuous scheduler.
func NewContinuous(targets TargetSource, v Visitor, clk clock.Clock, interval time.Duration, log *zap.Logger) *Continuous {
	return &Continuous{
		targets:  targets,
		visitor:  v,
		clock:    clk,
		interval: interval,
		log:      log.Named("continuous"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic loop. Visits run on a context detached from
// ctx's cancellation so shutdown does not abort requests in flight.
func (c *Continuous) Start(ctx context.Context) {
	c.log.Info("starting continuous scheduler", zap.Duration("interval", c.interval))
	visitCtx := context.WithoutCancel(ctx)
	ticker := c.clock.NewTicker(c.interval)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				n := dispatch(visitCtx, c.targets, c.visitor, models.ModeContinuous)
				c.log.Debug("continuous visits dispatched", zap.Int("targets", n))
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit. Only the first call has an
// effect.
func (c *Continuous) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.log.Info("continuous scheduler stopped")
	})
}
