package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/appointment-engine/internal/api/router"
	"github.com/wolfman30/appointment-engine/internal/app/bootstrap"
	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/bookings"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	appconfig "github.com/wolfman30/appointment-engine/internal/config"
	httpmiddleware "github.com/wolfman30/appointment-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBookingMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), m
}

// buildApp wires every dependency and starts the background goroutines tied
// to ctx. The returned cleanup waits for them and closes connections.
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	metricsHandler, m := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}

	sink, sinkKind := bootstrap.BuildEventSink(pool, logger)
	dispatcher := bootstrap.BuildDispatcher(cfg, sink, m, logger)

	booking, err := bootstrap.BuildBooking(cfg, bootstrap.BuildClinicStore(redisClient), bootstrap.BuildRepository(pool, cfg), dispatcher, m, logger)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}
	logger.Info("booking engine wired",
		"postgres", pool != nil,
		"redis", redisClient != nil,
		"event_sink", sinkKind,
	)

	bgCtx, cancelBg := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() {
		dispatcher.Start(bgCtx)
		done <- struct{}{}
	}()
	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go func() {
		limiter.Run(bgCtx, 5*time.Minute)
		done <- struct{}{}
	}()

	handler := router.New(&router.Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(booking.Engine, logger),
		BookingHandler:      bookings.NewHandler(booking.Service, logger),
		ClinicHandler:       clinic.NewHandler(booking.Snapshots, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimiter:         limiter,
		HealthChecks:        bootstrap.HealthChecks(redisClient, pool),
	})

	cleanup := func() {
		cancelBg()
		<-done
		<-done
		if pool != nil {
			pool.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	return handler, cleanup, nil
}
