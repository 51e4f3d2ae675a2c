package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/analytics"
	"github.com/opscore/command-center/internal/api"
	"github.com/opscore/command-center/internal/api/handlers"
	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/autoheal"
	"github.com/opscore/command-center/internal/bus"
	"github.com/opscore/command-center/internal/config"
	"github.com/opscore/command-center/internal/health"
	"github.com/opscore/command-center/internal/learning"
	"github.com/opscore/command-center/internal/metrics"
	"github.com/opscore/command-center/internal/replication"
	"github.com/opscore/command-center/internal/scheduler"
	"github.com/opscore/command-center/internal/store"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Server.Mode == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	collector := metrics.NewCollector(cfg.RemoteWrite)

	st, err := store.New(cfg.Store, logger, collector)
	if err != nil {
		logger.Fatal("Failed to open persistence store", zap.Error(err))
	}
	defer st.Close()

	chain, err := audit.NewLog(cfg.Audit.ChainPath)
	if err != nil {
		logger.Fatal("Failed to open audit chain", zap.Error(err))
	}
	if report := chain.VerifyChain(); !report.Valid {
		logger.Warn("audit chain failed verification at startup",
			zap.Int("total_entries", report.TotalEntries),
			zap.String("error", report.ErrorMessage),
		)
	}

	var sink replication.Sink
	if cfg.Replication.Enabled {
		sink, err = replication.NewSinkFromTarget(cfg.Replication.Target, cfg.Replication.HTTPTimeout)
		if err != nil {
			logger.Fatal("Failed to build replication sink", zap.Error(err))
		}
	}
	worker := replication.NewWorker(
		sink,
		cfg.Replication.MaxQueue,
		cfg.Replication.BaseBackoff,
		cfg.Replication.MaxBackoff,
		logger,
		collector,
	)

	optimizer := learning.NewOptimizer(cfg.Learning.Decay, cfg.Learning.HistorySize, logger)

	eventBus := bus.New(cfg.Bus.Capacity)

	rules := autoheal.NewRules(autoheal.Limits{
		MaxReplayDeliveries: cfg.Autoheal.MaxReplay,
		AllowedTriageLabels: cfg.Autoheal.AllowedTriageLabels,
		Cooldown:            time.Duration(cfg.Autoheal.CooldownMinutes) * time.Minute,
		BusinessHoursOnly:   cfg.Autoheal.BusinessHoursOnly,
		BusinessHoursStart:  cfg.Autoheal.BusinessHoursStart,
		BusinessHoursEnd:    cfg.Autoheal.BusinessHoursEnd,
	})
	executor := autoheal.NewExecutor(
		autoheal.Mode(cfg.Autoheal.Mode),
		&busReplayer{bus: eventBus, logger: logger},
		&busEscalator{bus: eventBus},
		logger,
	)
	engine := autoheal.NewEngine(
		st, chain, worker, optimizer, rules, executor,
		cfg.Autoheal.HistorySize, logger, collector,
	)

	runner := scheduler.RunnerFunc(func(ctx context.Context, tenantID string) error {
		eventBus.Publish(tenantID, "scheduler", "local_action", map[string]interface{}{
			"ran_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		err := worker.Enqueue("local_action_runs", "insert", map[string]interface{}{
			"tenant_id": tenantID,
		}, tenantID)
		status := "ok"
		if err != nil {
			status = "failed"
		}
		collector.RecordScheduledRun(tenantID, status)
		return err
	})
	sched := scheduler.New(st, runner, cfg.Scheduler.WorkerCount, cfg.Scheduler.TickInterval, logger)

	monitor := health.NewMonitor(
		st, worker, sched, chain,
		cfg.Health.Interval, cfg.Health.SchedulerStaleness,
		cfg.Health.AutoRecovery,
		logger, collector,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.ReconcileAutoPaused(ctx); err != nil {
		logger.Warn("failed to reconcile auto-paused schedules", zap.Error(err))
	}

	go worker.Run(ctx)
	go sched.Start(ctx)
	go monitor.Run(ctx)
	go collector.StartRemoteWrite(ctx)

	svc := analytics.NewService(chain, st, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	restart := func(graceful bool) {
		if graceful {
			quit <- syscall.SIGTERM
			return
		}
		logger.Warn("immediate restart requested")
		os.Exit(1)
	}

	handler := handlers.NewHandler(st, chain, worker, monitor, svc, optimizer, engine, eventBus, restart, logger)
	server := api.NewServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("command center started",
		zap.String("port", cfg.Server.Port),
		zap.String("store_mode", st.Mode()),
		zap.Bool("replication", worker.Enabled()),
		zap.String("autoheal_mode", string(executor.Mode())),
	)

	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if delivered := worker.Drain(shutdownCtx); delivered > 0 {
		logger.Info("drained replication queue", zap.Int("delivered", delivered))
	}
	monitor.Tick(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("command center exited")
}
