// Package cartsweep по расписанию удаляет корзины, которые давно не менялись.
package cartsweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	DefaultSchedule  = "@every 1h"
	defaultRetention = 30 * 24 * time.Hour
	sweepTimeout     = time.Minute
)

// Sweeper — cron-задача очистки брошенных корзин.
type Sweeper struct {
	carts     domain.CartSweeper
	schedule  string
	retention time.Duration
	logger    *log.Entry
	metrics   *metrics.CommerceMetrics
	now       func() time.Time
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithSchedule задаёт cron-выражение или дескриптор вида "@every 30m".
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) {
		if schedule != "" {
			s.schedule = schedule
		}
	}
}

// WithRetention задаёт, сколько корзина живёт без изменений.
func WithRetention(retention time.Duration) Option {
	return func(s *Sweeper) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithLogger задаёт logger очистки.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// New создаёт Sweeper над хранилищем корзин.
func New(carts domain.CartSweeper, options ...Option) *Sweeper {
	s := &Sweeper{
		carts:     carts,
		schedule:  DefaultSchedule,
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-sweeper")
	}
	return s
}

// Run запускает планировщик и блокируется до отмены ctx.
// Ошибка возвращается только для некорректного расписания.
func (s *Sweeper) Run(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(s.schedule, func() { s.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("parse cart sweep schedule %q: %w", s.schedule, err)
	}

	s.logger.WithFields(log.Fields{
		"schedule":  s.schedule,
		"retention": s.retention.String(),
	}).Info("cart sweeper started")
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

// SweepOnce удаляет корзины, не менявшиеся дольше retention, и возвращает их число.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.retention)
	removed, err := s.carts.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Warn("cart sweep failed")
		return 0
	}

	s.metrics.RecordCartsSwept(removed)
	if removed > 0 {
		s.logger.WithFields(log.Fields{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("abandoned carts removed")
	}
	return removed
}
