package scheduler

import (
	"context"
	"fmt"
	"time"

	"vault_payday/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PaydayScheduler drives the two background passes: the frequent accrual
// tick and the much-less-frequent cache reconciliation.
type PaydayScheduler struct {
	cronEngine    *cron.Cron
	engine        *app.Engine
	cache         *app.Cache
	logger        *logrus.Logger
	tickInterval  time.Duration
	evictInterval time.Duration
}

func NewPaydayScheduler(
	engine *app.Engine,
	cache *app.Cache,
	logger *logrus.Logger,
	tickInterval time.Duration,
	evictInterval time.Duration,
) *PaydayScheduler {
	return &PaydayScheduler{
		// A slow tick must not overlap the next one; skip instead of piling up.
		cronEngine:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine:        engine,
		cache:         cache,
		logger:        logger,
		tickInterval:  tickInterval,
		evictInterval: evictInterval,
	}
}

func (s *PaydayScheduler) Start() error {
	tickSpec := fmt.Sprintf("@every %ds", int(s.tickInterval/time.Second))
	_, err := s.cronEngine.AddFunc(tickSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.tickInterval)
		defer cancel()
		s.engine.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("could not add payday tick job: %w", err)
	}

	evictSpec := fmt.Sprintf("@every %ds", int(s.evictInterval/time.Second))
	_, err = s.cronEngine.AddFunc(evictSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		s.cache.EvictInactive(ctx)
	})
	if err != nil {
		return fmt.Errorf("could not add cache reconciliation job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"tick_interval":  s.tickInterval,
		"evict_interval": s.evictInterval,
	}).Info("Payday scheduler started")
	return nil
}

// Stop stops scheduling further jobs and waits for running ones to finish.
func (s *PaydayScheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Payday scheduler stopped")
}
