package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentmitra/tenancy/pkg/api"
	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/config"
	"github.com/agentmitra/tenancy/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configFile := flag.String("config", os.Getenv(config.FileEnv), "Path to a YAML config file")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "tenancyd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	logger.WithField("version", version).Info("Starting tenancy service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	a.Start(ctx)
	if err := a.Warm(ctx); err != nil {
		logger.WithError(err).Warn("tenant warm-up incomplete, continuing with a cold registry")
	}

	maintenance, err := a.Maintenance(cfg.Cache.StatsSchedule)
	if err != nil {
		return err
	}
	maintenance.Start()

	opts := api.Options{
		Tenants:         a.TenantCache,
		TenantAdmin:     a.TenantAdmin,
		GrantAdmin:      a.GrantAdmin,
		Limiter:         a.Limiter,
		RateLimiter:     a.RateLimiter,
		Envelope:        a.Envelope,
		Cache:           a.Cache,
		Runner:          a.Runner,
		Trail:           a.Trail,
		AuditLog:        a.AuditLog,
		Health:          a.HealthChecker(version),
		Metrics:         a.Metrics,
		AdminToken:      cfg.Server.AdminToken,
		ServiceToken:    cfg.Server.ServiceToken,
		TrustUserHeader: cfg.Server.TrustUserHeader,
		Logger:          logger,
	}
	if cfg.Observability.MetricsEnabled {
		opts.PromRegistry = a.Registry
	}
	var handler http.Handler = api.NewServer(opts)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "tenancyd")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-maintenance.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		if err := a.Stop(5 * time.Second); err != nil {
			logger.WithError(err).Warn("background tasks did not stop cleanly")
		}
		return a.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
		logger.Info("Shutdown complete")
		return nil
	}
}
