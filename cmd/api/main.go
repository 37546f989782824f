package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/config"
	"rhgestor.org/internal/hr"
	"rhgestor.org/internal/httpapi"
	"rhgestor.org/internal/jobs"
	"rhgestor.org/internal/mail"
	"rhgestor.org/internal/migrate"
	"rhgestor.org/internal/obs"
	"rhgestor.org/internal/storage"
	"rhgestor.org/internal/store/memory"
	"rhgestor.org/internal/store/pg"
	"rhgestor.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is every store the services need; pg.Store and memory.Store both
// satisfy it.
type backend interface {
	auth.IdentityStore
	hr.EmployeeStore
	hr.AnnotationStore
	hr.DocumentStore
	hr.SettingsStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("rhgestor-api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	if err := obs.RegisterBuildInfo(reg, version, commit); err != nil {
		return err
	}

	var (
		store backend
		db    *sql.DB
	)
	if cfg.Database.URL != "" {
		pgStore, err := pg.Open(cfg.Database.URL, pg.DefaultPool())
		if err != nil {
			return err
		}
		defer pgStore.Close()
		db = pgStore.DB()
		if cfg.Database.AutoMigrate {
			mctx, cancel := context.WithTimeout(ctx, time.Minute)
			mgr := migrate.NewManager(db, migrations.Schema(), migrations.Seeds(), migrate.WithLogger(logger))
			err := mgr.Up(mctx)
			if err == nil {
				err = mgr.Seed(mctx)
			}
			cancel()
			if err != nil {
				return err
			}
			logger.Info("database migrated")
		}
		store = pgStore
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		store = memory.New()
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	var sender mail.Sender = mail.NewLogSender(logger)
	if cfg.Mail.WebhookURL != "" {
		ws, err := mail.NewWebhookSender(cfg.Mail.WebhookURL, cfg.Mail.From, cfg.Mail.Timeout)
		if err != nil {
			return err
		}
		sender = ws
	}
	accounts := auth.NewAccountService(store, tokens,
		auth.WithMailer(sender),
		auth.WithLogger(logger),
		auth.WithFrontendURL(cfg.Server.FrontendURL),
		auth.WithResetTTL(cfg.Auth.ResetTTL),
	)
	if cfg.Bootstrap.Password != "" {
		created, err := accounts.EnsureBootstrapAdmin(ctx, auth.BootstrapAdmin{
			Login:    cfg.Bootstrap.Login,
			Name:     cfg.Bootstrap.Name,
			Email:    cfg.Bootstrap.Email,
			Password: cfg.Bootstrap.Password,
		})
		if err != nil {
			return err
		}
		if created {
			logger.Info("bootstrap administrator created", zap.String("login", cfg.Bootstrap.Login))
		}
	}

	files, err := storage.New(ctx, cfg.Storage())
	if err != nil {
		return err
	}
	settings := hr.NewSettingsService(store)
	services := httpapi.Services{
		Authorizer:  auth.NewAuthorizer(tokens, store),
		Accounts:    accounts,
		Employees:   hr.NewEmployeeService(store, store, store, hr.WithHistoryObserver(metrics.HistoryRows)),
		Annotations: hr.NewAnnotationService(store, store),
		Documents:   hr.NewDocumentService(store, store, files, settings, hr.WithDocumentLogger(logger)),
		Settings:    settings,
	}

	scheduler := jobs.New(logger)
	if err := scheduler.Add(jobs.PurgeResetTokens, cfg.Jobs.ResetPurgeSchedule, jobs.PurgeResets(accounts, logger)); err != nil {
		return err
	}
	scheduler.Start()

	ready := httpapi.ReadyProbe{DB: db}
	proxies, err := httpapi.ParseProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return err
	}
	api := httpapi.New(services, httpapi.Options{
		Logger:         logger,
		Metrics:        metrics,
		Ready:          ready,
		Version:        version,
		Development:    cfg.Development(),
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSec:     cfg.RateLimit.PerSecond,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: []string{cfg.Server.FrontendURL},
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready, logger)
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Run(ctx, 0)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	scheduler.Stop(shutdownCtx)
	logger.Info("stopped")
	return runErr
}
