// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olegiv/ocms-statistics/internal/config"
	"github.com/olegiv/ocms-statistics/internal/handler"
	"github.com/olegiv/ocms-statistics/internal/logging"
	"github.com/olegiv/ocms-statistics/internal/mailer"
	"github.com/olegiv/ocms-statistics/internal/middleware"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/scheduler"
	"github.com/olegiv/ocms-statistics/internal/session"
	"github.com/olegiv/ocms-statistics/internal/settings"
	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/users"
	"github.com/olegiv/ocms-statistics/internal/version"
	"github.com/olegiv/ocms-statistics/modules/statistics"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "statistics - download statistics service\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_SESSION_SECRET   Session and CSRF key (required, min 32 bytes)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_DB_DRIVER        sqlite|mysql|postgres (default: sqlite)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_DB_DSN           Database DSN (default: ./data/statistics.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_SERVER_PORT      Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_ENV              development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_CONFIG_DIR       Local module configuration directory (default: ./configs)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_GEOIP_DB_PATH    GeoLite2-City.mmdb path (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_REDIS_URL        Redis URL for cross-instance job locks (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  STATS_SMTP_HOST        SMTP relay for the daily report (optional)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if *showVersion {
		_, _ = fmt.Printf("statistics %s\n", version.Get())
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env files if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(logger)

	dialect := cfg.Dialect()
	if dialect == store.SQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	slog.Info("initializing database", "driver", dialect)
	db, err := store.Open(dialect, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}()

	slog.Info("running database migrations")
	if err := store.Migrate(db, dialect); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Warnings and errors also go to the event log table.
	eventLogHandler := logging.NewEventLogHandler(logger.Handler(), db, dialect)
	logger = slog.New(eventLogHandler)
	slog.SetDefault(logger)
	slog.Info("event log integration enabled", "min_level", "warn")

	ctx := context.Background()
	hookRegistry := module.NewHookRegistry(logger)
	userStore := users.NewStore(db, dialect, hookRegistry)
	if cfg.DoSeed {
		if err := userStore.Seed(ctx, logger); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
	}

	// Job locks: Redis when several instances share the job table.
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.UseRedis() {
		opts := scheduler.DefaultRedisLockerOptions()
		opts.URL = cfg.RedisURL
		redisLocker, err := scheduler.NewRedisLocker(opts)
		if err != nil {
			slog.Warn("Redis unavailable, using in-process job locks", "error", err)
		} else {
			defer func() { _ = redisLocker.Close() }()
			locker = redisLocker
			slog.Info("job locks initialized", "backend", "redis")
		}
	}

	jobStore := scheduler.NewJobStore(db, dialect)
	jobRegistry := scheduler.NewRegistry(jobStore, locker, logger)
	runner := scheduler.NewRunner(jobStore, locker, logger)

	var mail mailer.Mailer
	if cfg.MailEnabled() {
		smtp, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return fmt.Errorf("configuring mailer: %w", err)
		}
		mail = smtp
		slog.Info("mailer initialized", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessionManager := session.New(db, dialect, cfg.IsDevelopment())
	loginProtection := middleware.NewLoginProtection(middleware.DefaultLoginProtectionConfig())

	moduleRegistry := module.NewRegistry(logger)
	moduleCtx := &module.Context{
		DB:       db,
		Dialect:  dialect,
		Logger:   logger,
		Config:   cfg,
		Hooks:    hookRegistry,
		Jobs:     jobRegistry,
		Runner:   runner,
		Settings: settings.NewGateway(cfg.ConfigDir, cfg.ModulesDir),
		Metrics:  metrics,
		Mailer:   mail,
	}
	if err := moduleRegistry.Register(statistics.New()); err != nil {
		return fmt.Errorf("registering statistics module: %w", err)
	}
	if err := moduleRegistry.InitAll(moduleCtx); err != nil {
		return fmt.Errorf("initializing modules: %w", err)
	}
	defer func() {
		if err := moduleRegistry.ShutdownAll(); err != nil {
			slog.Error("error shutting down modules", "error", err)
		}
	}()

	if err := runner.Start(); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	authHandler := handler.NewAuthHandler(userStore, sessionManager, loginProtection, logger)
	healthHandler := handler.NewHealthHandler(db)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment())))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{Registry: metrics}))
	}

	r.Group(func(r chi.Router) {
		r.Use(sessionManager.LoadAndSave)
		r.Use(middleware.LoadUser(sessionManager, userStore))
		// The download beacon is posted cross-site by pages without a token.
		r.Use(middleware.SkipCSRF("/statistics/download"))
		r.Use(middleware.CSRF(middleware.DefaultCSRFConfig([]byte(cfg.SessionSecret), cfg.IsDevelopment(), cfg.ServerAddr())))

		r.Get("/login", authHandler.LoginForm)
		r.With(loginProtection.Middleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		public := r.With(middleware.RateLimitByIP(10, 20))
		admin := chi.NewRouter()
		moduleRegistry.RouteAll(public, admin)
		r.Mount("/admin", admin)
	})

	// Expired lockout entries are dropped hourly.
	cleanupDone := make(chan struct{})
	defer close(cleanupDone)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				loginProtection.Cleanup()
			case <-cleanupDone:
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // a manual geolocation run can take a while
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env, "version", version.Get().Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
