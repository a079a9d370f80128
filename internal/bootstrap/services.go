package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/adapters/providers"
	"github.com/Valdrix-AI/valdrix-sub000/internal/adapters/worker"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/data"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
	"github.com/Valdrix-AI/valdrix-sub000/internal/service"
)

// App holds the wired application.
type App struct {
	Cfg     config.AppConfig
	Logger  *slog.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Metrics *statsd.Client

	Admission *service.AdmissionService
	Webhook   *service.WebhookService
	SLA       *service.SLAService

	worker    *worker.Runner
	scheduler *service.SchedulerService
	reaper    *service.ReaperService

	enabled map[config.ServiceMode]bool
}

// BuildApp wires repositories and services from configuration. The Redis
// cache is optional: a connection failure logs a warning and the SLA
// service computes reports directly.
func BuildApp(cfg config.AppConfig, logger *slog.Logger) (*App, error) {
	if err := ValidateServiceConfig(&cfg); err != nil {
		return nil, err
	}
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return nil, err
	}

	db, err := ConnectDB(cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if rc, redisErr := ConnectRedis(cfg.Redis, logger); redisErr != nil {
		logger.Warn("redis unavailable, sla snapshot cache disabled", "error", redisErr)
	} else {
		redisClient = rc
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.StatsdEnabled,
		Address: cfg.Observability.StatsdAddress,
		Prefix:  cfg.Observability.StatsdPrefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("statsd client: %w", err)
	}

	app := &App{
		Cfg:     cfg,
		Logger:  logger,
		DB:      db,
		Redis:   redisClient,
		Metrics: sink,
		enabled: enabled,
	}
	if err := app.buildServices(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) buildServices() error {
	jobRepo := data.NewJobRepo(a.DB, nil)
	tenantRepo := data.NewTenantRepo(a.DB, nil)

	admission, err := service.NewAdmissionService(service.AdmissionServiceOptions{
		Repo:    jobRepo,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	})
	if err != nil {
		return err
	}
	a.Admission = admission

	supervisor, err := service.NewSupervisorService(service.SupervisorServiceOptions{
		Repo:    jobRepo,
		Config:  a.Cfg.Supervisor,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	})
	if err != nil {
		return err
	}

	webhook, err := service.NewWebhookService(service.WebhookServiceOptions{
		Repo:      jobRepo,
		Admission: admission,
		Verifier:  service.NewHMACVerifier(a.Cfg.Webhook.SigningSecrets),
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})
	if err != nil {
		return err
	}
	a.Webhook = webhook

	sla, err := service.NewSLAService(service.SLAServiceOptions{
		Repo:    jobRepo,
		Config:  a.Cfg.SLA,
		Redis:   a.Redis,
		TTL:     a.Cfg.Redis.SnapshotTTL,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	})
	if err != nil {
		return err
	}
	a.SLA = sla

	if a.enabled[config.ServiceModeWorker] {
		runner, buildErr := worker.NewRunner(worker.RunnerOptions{
			Repo:       jobRepo,
			Supervisor: supervisor,
			Handlers:   a.buildHandlers(jobRepo, webhook),
			Config:     a.Cfg.Worker,
			Logger:     a.Logger,
		})
		if buildErr != nil {
			return buildErr
		}
		a.worker = runner
	}

	if a.enabled[config.ServiceModeScheduler] {
		scheduler, buildErr := service.NewSchedulerService(service.SchedulerServiceOptions{
			Tenants:   tenantRepo,
			Admission: admission,
			Config:    a.Cfg.Scheduler,
			Logger:    a.Logger,
			Metrics:   a.Metrics,
		})
		if buildErr != nil {
			return buildErr
		}
		a.scheduler = scheduler
	}

	if a.enabled[config.ServiceModeReaper] {
		reaper, buildErr := service.NewReaperService(service.ReaperServiceOptions{
			Repo:    jobRepo,
			Config:  a.Cfg.Reaper,
			Logger:  a.Logger,
			Metrics: a.Metrics,
		})
		if buildErr != nil {
			return buildErr
		}
		a.reaper = reaper
	}

	return nil
}

func (a *App) buildHandlers(jobRepo core.JobRepository, webhook *service.WebhookService) []core.Handler {
	return []core.Handler{
		&service.CostIngestionHandler{
			Repo:    jobRepo,
			Fetcher: &providers.NoopCostExportFetcher{Logger: a.Logger},
			Logger:  a.Logger,
		},
		&service.ResourceScanHandler{
			Scanner: &providers.NoopResourceScanner{Logger: a.Logger},
		},
		&service.BillingChargeHandler{
			Gateway: &providers.NoopChargeGateway{Logger: a.Logger},
		},
		&service.RemediationHandler{
			Applier: &providers.NoopRemediationApplier{Logger: a.Logger},
		},
		webhook.Handler(),
	}
}

// Run starts the enabled services and blocks until the context is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	if a.scheduler != nil {
		g.Go(func() error { return a.scheduler.Run(gctx) })
	}
	if a.reaper != nil {
		g.Go(func() error { return a.reaper.Run(gctx) })
		g.Go(func() error { return a.backlogLoop(gctx) })
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// backlogLoop emits backlog gauges alongside the reaper so exactly one
// instance class owns the aggregate queries.
func (a *App) backlogLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.SLA.Backlog(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.WarnContext(ctx, "backlog aggregation failed", "error", err)
			}
			if _, err := a.SLA.Report(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.WarnContext(ctx, "sla report refresh failed", "error", err)
			}
		}
	}
}

// Close releases connections. Safe to call after a partial build.
func (a *App) Close() {
	if a.Metrics != nil {
		if err := a.Metrics.Close(); err != nil {
			a.Logger.Warn("close statsd client", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis client", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("close database", "error", err)
		}
	}
}
