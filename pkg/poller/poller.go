// Package poller refreshes in-flight models from the calculation service on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInterval is the time between two sweeps.
const DefaultInterval = 10 * time.Second

var ErrAlreadyStarted = errors.New("poller already started")

// Source lists the models awaiting a remote result.
type Source interface {
	InFlight(ctx context.Context) ([]*models.Model, error)
}

// Merger refreshes one model.
type Merger interface {
	MergeResult(ctx context.Context, modelID int64) error
}

// SweepReport counts the outcome of one sweep.
type SweepReport struct {
	ID     string `json:"id"`
	Merged int    `json:"merged"`
	Failed int    `json:"failed"`
}

// Poller is the single background worker merging remote statuses.
type Poller struct {
	source   Source
	merger   Merger
	interval time.Duration
	tracer   trace.Tracer
	logger   *slog.Logger

	mutex  sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a poller. A non-positive interval falls back to DefaultInterval.
func New(source Source, merger Merger, interval time.Duration, tracer trace.Tracer, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if tracer == nil {
		tracer = otelhelper.Noop("poller")
	}

	return &Poller{
		source:   source,
		merger:   merger,
		interval: interval,
		tracer:   tracer,
		logger:   logger.With("module", "poller"),
	}
}

// Start schedules the sweep. Ticks that fire while a sweep is still running are skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cron != nil {
		return ErrAlreadyStarted
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	spec := fmt.Sprintf("@every %s", p.interval)

	_, err := p.cron.AddFunc(spec, func() {
		if _, err := p.Sweep(p.ctx); err != nil {
			p.logger.ErrorContext(p.ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		p.cancel()
		p.cron = nil

		return fmt.Errorf("failed to schedule sweep %q: %w", spec, err)
	}

	p.cron.Start()
	p.logger.InfoContext(ctx, "Poller started", "interval", p.interval)

	return nil
}

// Stop cancels the running sweep and waits for it to return or for ctx to end.
func (p *Poller) Stop(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cron == nil {
		return nil
	}

	p.cancel()
	done := p.cron.Stop()
	p.cron = nil

	select {
	case <-done.Done():
		p.logger.InfoContext(ctx, "Poller stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep merges every model that was in flight when the sweep began, one at
// a time. A failing model is logged and does not stop the sweep.
func (p *Poller) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{ID: uuid.NewString()}

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "poller.sweep",
		attribute.String(otelhelper.SweepIDKey, report.ID))
	defer span.End()

	inFlight, err := p.source.InFlight(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return report, fmt.Errorf("failed to list in-flight models: %w", err)
	}

	span.SetAttributes(attribute.Int(otelhelper.BatchSizeKey, len(inFlight)))

	logger := p.logger.With("sweep_id", report.ID)

	for _, m := range inFlight {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		err := p.merger.MergeResult(ctx, m.ID)
		if err != nil {
			report.Failed++

			logger.WarnContext(ctx, "Failed to merge model", "model_id", m.ID, "error", err)

			continue
		}

		report.Merged++
	}

	if len(inFlight) > 0 {
		logger.InfoContext(ctx, "Sweep finished", "merged", report.Merged, "failed", report.Failed)
	}

	return report, nil
}
