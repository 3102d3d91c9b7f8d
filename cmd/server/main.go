// Package main - HTTP сервер сегментации учеников по уровням.
//
// Сервер отвечает за:
// - запуск кластеризации по HTTP (POST /api/v1/clustering/run)
// - чтение статуса, отчёта и текущих сегментов
// - периодическую перекластеризацию по политике устаревания
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/learner-tiers/config"
	"github.com/alem-hub/learner-tiers/internal/app"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/messaging"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/scheduler"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/learner-tiers/internal/interface/http"
	"github.com/alem-hub/learner-tiers/internal/interface/http/handlers"
	"github.com/alem-hub/learner-tiers/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(app.LoggerOptions(cfg))
	log.Info("starting learner-tiers server",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"addr", cfg.HTTP.Addr,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К POSTGRESQL И REDIS
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := app.Connect(ctx, cfg, log, app.ConnectOptions{Migrate: cfg.Database.AutoMigrate})
	if err != nil {
		return err
	}
	defer infra.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
		if m := eventBus.Metrics(); m != nil {
			snap := m.Snapshot()
			log.Info("event bus stats",
				"published", snap.TotalPublished,
				"handler_execs", snap.TotalHandlerExecs,
				"handler_failures", snap.HandlerFailures,
				"avg_handler_duration", snap.AverageHandlerDuration.String(),
			)
		}
	}()

	if fanout := infra.EventFanout(); fanout != nil {
		eventBus.Forward(fanout)
		log.Info("run events are fanned out to Redis", "channel", cfg.Redis.EventsChannel)
	}
	failureStreak, err := app.SubscribeEventHandlers(eventBus, infra)
	if err != nil {
		return fmt.Errorf("failed to subscribe event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ ОБРАБОТЧИКОВ (CQRS)
	// ─────────────────────────────────────────────────────────────────────────
	appHandlers := app.NewHandlers(infra, eventBus)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК ПЕРЕКЛАСТЕРИЗАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = startScheduler(ctx, cfg, appHandlers, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(cfg.HTTP.HealthCheckTimeout)
	health.AddDetailedCheck("database", app.DatabaseHealthCheck(infra.DB))
	if infra.Cache != nil {
		health.AddOptionalCheck("cache", handlers.NewPingCheck(infra.Cache))
	}
	health.AddOptionalCheck("clustering", app.ClusteringHealthCheck(failureStreak))

	deps := httpapi.Dependencies{
		RunClustering: appHandlers.RunClustering,
		Status:        appHandlers.Status,
		Report:        appHandlers.Report,
		Segments:      appHandlers.Segments,
		HealthChecker: health,
		Auth:          handlers.NewAPIKeyAuth(handlers.DefaultAPIKeyHeader, cfg.HTTP.TriggerAPIKeyHash),
		Logger:        log,
	}
	// nil *Scheduler в интерфейсе не равен nil
	if sched != nil {
		health.AddOptionalCheck("scheduler", app.SchedulerHealthCheck(sched))
		deps.Scheduler = sched
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		RunTimeout:   cfg.Clustering.RunTimeout,
		Version:      cfg.App.Version,
	}, deps)
	if cfg.HTTP.TriggerAPIKeyHash == "" {
		level := slog.LevelWarn
		if cfg.IsDevelopment() {
			level = slog.LevelInfo
		}
		log.Log(ctx, level, "TRIGGER_API_KEY_HASH is empty, the run endpoint is unauthenticated")
	}
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("learner-tiers server is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
			log.Error("HTTP server stopped", "error", err)
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := app.ShutdownContext(cfg)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("HTTP server shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return runErr
}

// startScheduler registers the re-clustering job and starts the scheduler.
func startScheduler(ctx context.Context, cfg *config.Config, h *app.Handlers, log *slog.Logger) (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(cfg.SchedulerSpec())
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		RunOnStart: cfg.Scheduler.RunOnStart,
	})
	job := jobs.NewReclusterStudentsJob(h.RunClustering, log, jobs.ReclusterStudentsConfig{
		Timeout: cfg.Clustering.RunTimeout,
	})
	if err := sched.Register(job, schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", "job", jobName, "error", err)
	})

	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("scheduler started", "job", job.Name(), "schedule", schedule.String())
	return sched, nil
}
