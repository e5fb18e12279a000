package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"erasure-cloud/config"
	"erasure-cloud/internal/accounts"
	"erasure-cloud/internal/api"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/inventory"
	"erasure-cloud/internal/license"
	"erasure-cloud/internal/logging"
	"erasure-cloud/internal/monitor"
	"erasure-cloud/internal/rbac"
	"erasure-cloud/internal/tenant"
	"erasure-cloud/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(cfg.LoggingConfig)
	logging.SetDefault(logger)
	logger.Info().Str("environment", cfg.Environment).Msg("Structured logging initialized")

	ctx := context.Background()

	// Main database
	dsn := cfg.DatabaseConfig.DSN()
	if cfg.DatabaseConfig.AutoMigrate {
		if err := database.Migrate(dsn, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}
	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	db, err := database.Open(openCtx, dsn, database.PoolOptions{
		MaxConns: int32(cfg.DatabaseConfig.MaxConns),
		MinConns: int32(cfg.DatabaseConfig.MinConns),
	})
	cancelOpen()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	repo := database.NewRepository(db)

	// Dedicated databases: configured connections first, then Vault
	secrets, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Vault client")
	}
	source := tenant.ChainSource{tenant.StaticSource(cfg.TenantConfig.Connections)}
	if secrets.IsEnabled() {
		source = append(source, secrets)
		healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
		if err := secrets.Health(healthCtx); err != nil {
			logger.Warn().Err(err).Msg("Vault is not healthy; dedicated databases may be unreachable")
		}
		cancelHealth()
		logger.Info().Str("address", cfg.VaultConfig.Address).Msg("Vault connection source enabled")
	}
	pools, err := tenant.NewPoolRegistry(repo, source, cfg.TenantConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create tenant pool registry")
	}
	defer pools.Close()

	resolver := tenant.NewResolver[database.Store](pools.Stores(), tenant.Options{
		ProbeBudget:  cfg.TenantConfig.ProbeBudget,
		ProbeTimeout: cfg.TenantConfig.ProbeTimeout,
	}, logger)

	// Optional Redis cache
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
			cacheService = nil
		} else {
			defer cacheService.Close()
		}
	}

	// Identity and permissions
	engine := rbac.NewEngine(repo, logger)
	authService, err := auth.NewService(resolver, engine, cacheService, cfg.AuthConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create auth service")
	}
	if err := auth.EnsureCanonicalRoles(ctx, repo, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ensure canonical roles")
	}
	if err := auth.SeedAdminAccount(ctx, repo, authService.Passwords(), cfg.AuthConfig, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed admin account")
	}

	privateCloud := accounts.PrivateCloud{Pools: pools, Migrate: database.Migrate}
	if secrets.IsEnabled() {
		privateCloud.Secrets = secrets
	}
	accountService := accounts.NewService(resolver, authService, cacheService, privateCloud, logger)
	inventoryService := inventory.NewService(authService, cacheService, logger)

	// Licensing
	hub := api.NewLicenseHub(logger)
	go hub.Run()

	var signer *license.Signer
	if cfg.LicenseConfig.PrivateKeyPath != "" {
		signer, err = license.LoadSigner(cfg.LicenseConfig.PrivateKeyPath, cfg.LicenseConfig.TokenIssuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load license signing key")
		}
	} else {
		logger.Warn().Msg("No license signing key configured, tokens and offline activation are disabled")
	}
	licenses := license.NewEngine(repo, license.Config{
		DefaultRenewalDays: cfg.LicenseConfig.DefaultRenewalDays,
		Signer:             signer,
		Notifier:           hub,
	}, logger)

	// Self-monitoring
	mon := monitor.New(nil)
	if err := mon.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register monitor gauges")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.MonitorConfig.SampleSchedule, func() { mon.Sample() }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.MonitorConfig.SampleSchedule).Msg("Failed to schedule monitor sampling")
	}
	if cfg.LicenseConfig.SweepEnabled {
		_, err := scheduler.AddFunc(cfg.LicenseConfig.SweepSchedule, func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := licenses.ExpireOverdue(sweepCtx)
			if err != nil {
				logger.Error().Err(err).Int("expired", n).Msg("License expiry sweep failed")
				return
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("License expiry sweep completed")
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.LicenseConfig.SweepSchedule).Msg("Failed to schedule license expiry sweep")
		}
	}
	scheduler.Start()

	// HTTP API
	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Main:      repo,
		Auth:      authService,
		Accounts:  accountService,
		Inventory: inventoryService,
		Licenses:  licenses,
		Hub:       hub,
		Monitor:   mon,
		Cache:     cacheService,
		Pools:     pools,
	}, !cfg.IsDevelopment(), logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down API server")
	}
	<-scheduler.Stop().Done()

	logger.Info().Msg("Shutdown complete")
}
