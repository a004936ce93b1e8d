package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/montracker/pkg/cache"
	"github.com/dukex/montracker/pkg/calcserver"
	"github.com/dukex/montracker/pkg/cmd"
	"github.com/dukex/montracker/pkg/config"
	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/otelhelper"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/poller"
	"github.com/dukex/montracker/pkg/services"
	"go.opentelemetry.io/otel/trace"
)

// runtime is the wired process shared by every command.
type runtime struct {
	config        config.Config
	logger        *slog.Logger
	persistence   persistence.Persistence
	cache         cache.StatusCache
	eventBus      eventbus.EventBus
	tracer        trace.Tracer
	actions       *services.Action
	analyses      *services.Analysis
	notifications *services.Notifications
	poller        *poller.Poller
}

func newRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &runtime{config: cfg, logger: logger}

	var err error

	rt.tracer = otelhelper.Noop("montracker")
	if cfg.Tracing {
		rt.tracer, err = otelhelper.NewTracer(ctx, "montracker")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	rt.persistence, err = cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.CatalogPath != "" {
		catalog, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, errors.Join(err, rt.Close(ctx))
		}

		if err := catalog.Seed(ctx, rt.persistence.Catalog()); err != nil {
			return nil, errors.Join(err, rt.Close(ctx))
		}
	}

	rt.cache, err = cache.New(cfg.CacheURL, cache.DefaultTTL)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	rt.eventBus, err = cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	remote := calcserver.NewClient(calcserver.Config{
		Address:    cfg.CalcServer.Address,
		APIVersion: cfg.CalcServer.APIVersion,
		Timeout:    cfg.CalcServer.Timeout,
	}, logger, rt.tracer)

	status := services.NewStatus(rt.persistence, rt.cache, logger)
	reconciler := services.NewReconciler(rt.persistence, status, cfg.DefaultWeight, logger)
	orchestrator := services.NewOrchestrator(rt.persistence, remote, status, rt.eventBus, rt.tracer, logger)
	synchronizer := services.NewSynchronizer(rt.persistence, remote, status, rt.eventBus, rt.tracer, logger)

	rt.actions = services.NewAction(rt.persistence, status, orchestrator, rt.eventBus, logger)
	rt.analyses = services.NewAnalysis(rt.persistence, status, reconciler, orchestrator, rt.eventBus, logger)
	rt.notifications = services.NewNotifications(services.DefaultNotificationBuffer)
	rt.poller = poller.New(rt.persistence.ModelRepository(), synchronizer, cfg.PollInterval, rt.tracer, logger)

	return rt, nil
}

// listen delivers status change events to the notification buffer.
func (rt *runtime) listen(ctx context.Context) error {
	if err := rt.notifications.Register(rt.eventBus); err != nil {
		return fmt.Errorf("failed to register notifications: %w", err)
	}

	if err := rt.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return nil
}

func (rt *runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.eventBus != nil {
		if err := rt.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}

	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
		}
	}

	if rt.persistence != nil {
		if err := rt.persistence.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close persistence: %w", err))
		}
	}

	return errors.Join(errs...)
}
