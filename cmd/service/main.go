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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/sst-grid-service/internal/archive"
	"github.com/kjstillabower/sst-grid-service/internal/cache"
	"github.com/kjstillabower/sst-grid-service/internal/circuitbreaker"
	"github.com/kjstillabower/sst-grid-service/internal/client"
	"github.com/kjstillabower/sst-grid-service/internal/config"
	httphandler "github.com/kjstillabower/sst-grid-service/internal/http"
	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/notify"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
	"github.com/kjstillabower/sst-grid-service/internal/service"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
	"github.com/kjstillabower/sst-grid-service/internal/traffic"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	downloader := client.NewHTTPDownloader(cfg.DownloadTimeout, logger)
	if cfg.CircuitBreakerEnabled {
		downloader.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerState.Set(float64(to))
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
				logger.Warn("jma circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}))
	}
	fetcher := sst.NewFetcher(downloader, archive.Gunzip{KeepArchive: cfg.KeepArchives}, cfg.SourceURL, logger)

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("grid events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	sstService := service.NewSSTService(fetcher, cacheSvc, publisher, service.Options{
		DataDir: cfg.DataDir,
		Transfer: sst.TransferOptions{
			ProxyHost: cfg.ProxyHost,
			ProxyPort: cfg.ProxyPort,
			Headers:   cfg.Headers,
		},
		TTL:             cfg.CacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		GridCacheSize:   cfg.GridCacheSize,
		Logger:          logger,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(sstService, traffic.NewTracker(), healthConfig, logger, limiter)

	warmCtx, warmCancel := context.WithCancel(context.Background())
	defer warmCancel()
	if cfg.WarmEnabled {
		resolutions := make([]models.Resolution, 0, len(cfg.WarmResolutions))
		for _, tag := range cfg.WarmResolutions {
			res, err := models.ParseResolution(tag)
			if err != nil {
				logger.Fatal("warm resolutions", zap.Error(err))
			}
			resolutions = append(resolutions, res)
		}
		warmer := cache.NewCacheWarmer(sstService, nil, logger)
		go func() {
			err := warmer.WarmPeriodic(warmCtx, resolutions, cfg.WarmDays, cfg.WarmInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic snapshot prefetch stopped", zap.Error(err))
			}
		}()
		logger.Info("snapshot prefetch scheduled",
			zap.Strings("resolutions", cfg.WarmResolutions),
			zap.Int("days", cfg.WarmDays),
			zap.Duration("interval", cfg.WarmInterval))
	}

	router := httphandler.NewRouter(handler, logger, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("data_dir", cfg.DataDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	warmCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := publisher.Close(); err != nil {
		logger.Error("event publisher close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
