package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault_payday/internal/app"
	"vault_payday/internal/infra/config"
	idb "vault_payday/internal/infra/database"
	"vault_payday/internal/infra/httpapi"
	"vault_payday/internal/infra/logger"
	"vault_payday/internal/infra/metrics"
	"vault_payday/internal/infra/presence"
	"vault_payday/internal/infra/scheduler"
	"vault_payday/internal/infra/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()
	log.Infof("Configuration loaded. Threshold: %d min, tick: %ds, max per tick: %d",
		cfg.ThresholdMinutes, cfg.TickIntervalSeconds, cfg.MaxPerTick)

	db, err := idb.NewSQLiteConnection(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Could not open database: %v", err)
	}
	defer db.Close()
	log.Infof("SQLite database ready: %s", cfg.DatabasePath)

	repo := idb.NewSQLitePaydayRepository(db, cfg.DatabasePath)
	registry := presence.NewRegistry()
	promMetrics := metrics.New()

	cache := app.NewCache(repo, registry, promMetrics, log, cfg.ThresholdMinutes)

	depositor := webhook.NewDepositor(cfg.DepositWebhookURL, log)
	notifier := webhook.NewNotifier(cfg.NotifyWebhookURL, log)

	engine := app.NewEngine(cache, depositor, registry, notifier, promMetrics, log, app.EngineConfig{
		ThresholdMinutes:      cfg.ThresholdMinutes,
		TickInterval:          time.Duration(cfg.TickIntervalSeconds) * time.Second,
		MaxPerTick:            cfg.MaxPerTick,
		AutoSaveOnTick:        cfg.AutoSaveOnTick,
		MultipliersEnabled:    cfg.MultipliersEnabled,
		PermissionMultipliers: cfg.PermissionMultipliers,
	})

	interceptor := app.NewInterceptor(cache, registry, notifier, promMetrics, log, app.InterceptorConfig{
		BypassPermission:  cfg.BypassPermission,
		MinimumPayment:    cfg.MinimumPayment,
		InterceptAll:      cfg.InterceptAll,
		Sources:           cfg.InterceptSources,
		ZoneWhitelistMode: cfg.ZoneWhitelistMode,
		WhitelistedZones:  cfg.WhitelistedZones,
		BlacklistedZones:  cfg.BlacklistedZones,
		NotifyProgress:    cfg.NotifyProgress,
		ThresholdMinutes:  cfg.ThresholdMinutes,
	})

	adminService := app.NewAdminService(cache, repo, repo, cfg.BackupDir, cfg.ThresholdMinutes, log)

	paydayScheduler := scheduler.NewPaydayScheduler(
		engine,
		cache,
		log,
		time.Duration(cfg.TickIntervalSeconds)*time.Second,
		time.Duration(cfg.EvictIntervalSeconds)*time.Second,
	)
	if err := paydayScheduler.Start(); err != nil {
		log.Fatalf("FATAL: Could not start payday scheduler: %v", err)
	}

	apiServer := httpapi.NewHTTPServer(cfg.HTTPAddr,
		httpapi.NewServer(registry, cache, interceptor, adminService, log).Handler())
	go func() {
		log.Infof("Event/admin API listening on %s", cfg.HTTPAddr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: API server failed: %v", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promMetrics.Handler())
		metricsServer = httpapi.NewHTTPServer(cfg.MetricsAddr, metricsMux)
		go func() {
			log.Infof("Metrics listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Metrics server shutdown: %v", err)
		}
	}

	// Stop the tick and reconciliation jobs before flushing so every record
	// mutated before shutdown began reaches the store.
	paydayScheduler.Stop()
	if err := cache.Flush(shutdownCtx); err != nil {
		log.Errorf("Cache flush incomplete: %v", err)
	}

	log.Info("Shut down gracefully")
}
