package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentillhq/tillsync/internal/leader"
	"github.com/opentillhq/tillsync/internal/outbox"
	"github.com/opentillhq/tillsync/internal/scheduler"
	"github.com/opentillhq/tillsync/pkg/config"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
)

const defaultDrainInterval = 30 * time.Second

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	Elector *leader.Elector
	Drainer *outbox.Drainer
	Metrics *metrics.SyncMetrics
}

// Service ties the drain pipeline together: the scheduler coalesces trigger
// signals into single-flight passes, the elector makes sure only one
// execution context drains, and the drainer does the actual delivery work.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	elector   *leader.Elector
	drainer   *outbox.Drainer
	metrics   *metrics.SyncMetrics
	scheduler *scheduler.Scheduler
	interval  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Elector == nil {
		return nil, errors.New("elector is required")
	}
	if params.Drainer == nil {
		return nil, errors.New("drainer is required")
	}

	interval := params.Config.Sync.DrainInterval
	if interval <= 0 {
		interval = defaultDrainInterval
	}

	s := &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		elector:  params.Elector,
		drainer:  params.Drainer,
		metrics:  params.Metrics,
		interval: interval,
	}

	sched, err := scheduler.New(scheduler.Params{
		Pass: s.pass,
		OnError: func(err error) {
			s.logg.Error(context.Background(), "drain pass failed", err)
		},
	})
	if err != nil {
		return nil, err
	}
	s.scheduler = sched
	return s, nil
}

// Trigger requests a drain pass for the given reason. Requests made while a
// pass is in flight coalesce into the next pass.
func (s *Service) Trigger(ctx context.Context, reason scheduler.Reason) error {
	return s.scheduler.RequestDrain(ctx, reason)
}

// Run drives the timer trigger until the context is canceled. An immediate
// pass runs at startup to flush anything queued while the worker was down.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Trigger(ctx, scheduler.ReasonCameOnline); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sync worker context canceled")
			s.scheduler.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := s.Trigger(ctx, scheduler.ReasonTimer); err != nil {
				return err
			}
		}
	}
}

func (s *Service) pass(ctx context.Context, reasons []scheduler.Reason) error {
	joined := scheduler.JoinReasons(reasons)
	passCtx := s.logg.WithField(ctx, "reasons", joined)

	start := time.Now()
	result, err := s.elector.RunIfLeader(passCtx, func(ctx context.Context) (any, error) {
		return s.drainer.Drain(ctx)
	})
	s.metrics.ObserveDrain(joined, time.Since(start))

	if !result.Acquired {
		s.logg.Info(s.logg.WithField(passCtx, "mechanism", string(result.Mechanism)), "drain skipped, another context holds leadership")
		return nil
	}

	if report, ok := result.Value.(outbox.Report); ok {
		reportCtx := s.logg.WithFields(passCtx, map[string]any{
			"mechanism": string(result.Mechanism),
			"selected":  report.Selected,
			"sent":      report.Sent,
			"failed":    report.Failed,
			"stale":     report.Stale,
			"skipped":   report.Skipped,
		})
		s.logg.Info(reportCtx, "drain pass complete")
	}

	if err != nil {
		return fmt.Errorf("drain pass: %w", err)
	}
	return nil
}
