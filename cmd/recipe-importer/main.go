package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/config"
	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/logger"
	"github.com/mealplanner/importer/internal/common/metricsserver"
	"github.com/mealplanner/importer/internal/common/redis"
	"github.com/mealplanner/importer/internal/configtest"
	"github.com/mealplanner/importer/internal/fetch"
	"github.com/mealplanner/importer/internal/importer"
	"github.com/mealplanner/importer/internal/metrics"
	"github.com/mealplanner/importer/internal/server"
	"github.com/mealplanner/importer/internal/ssrf"
)

func main() {
	configPath := flag.String("c", "configs/importer.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit; an optional URL argument is checked against the guard")
	flag.Parse()

	if *testMode {
		os.Exit(configtest.Run(*configPath, flag.Arg(0), os.Stdout, os.Stderr))
	}

	bootLogger := logger.NewBootstrap()
	bootLogger.Info("Starting Recipe Importer", zap.String("config_path", *configPath))

	cfg, err := config.LoadImporterConfig(*configPath, bootLogger.Logger)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dynamicLogger, err := logger.NewForStartup(cfg.Log)
	if err != nil {
		bootLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Close()
	log := dynamicLogger.Logger

	promMetrics := metrics.NewPrometheusMetrics(cfg.Metrics.Namespace, log)

	metricsServer, err := metricsserver.Start(cfg.Metrics, promMetrics, log)
	if err != nil {
		log.Fatal("Failed to start metrics server", zap.Error(err))
	}

	guard := ssrf.NewValidatorFromConfig(cfg.Guard, log)
	fetcher := fetch.New(guard, cfg.Fetch, log)

	opts := []importer.Option{importer.WithMetrics(promMetrics)}
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		opts = append(opts, importer.WithCache(importer.NewCache(redisClient, cfg.Cache, promMetrics, log)))
		log.Info("Recipe cache enabled",
			zap.String("redis", cfg.Redis.Addr),
			zap.Duration("ttl", time.Duration(cfg.Cache.TTL)),
			zap.String("compression", cfg.Cache.Compression))
	}
	svc := importer.NewService(guard, fetcher, log, opts...)

	api := server.NewServer(svc, promMetrics, time.Duration(cfg.Server.Timeout), log)
	httpServer := server.NewFastHTTPServer(api.HandleRequest, cfg.Server)

	ln, err := listen(cfg.Server.Listen)
	if err != nil {
		log.Fatal("Failed to bind API listener", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil {
			serverErrors <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	log.Info("Recipe Importer started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

	// Switch to configured log level after startup is complete
	dynamicLogger.Activate()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.RaiseForShutdown()
		log.Info("Shutting down Recipe Importer...")
	case err := <-serverErrors:
		dynamicLogger.RaiseForShutdown()
		log.Error("Server failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown error", zap.Error(err))
	}
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("API server shutdown error", zap.Error(err))
	}

	log.Info("Recipe Importer stopped")
}

func listen(addr string) (net.Listener, error) {
	normalized, err := configtypes.NormalizeListen(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server listen address: %w", err)
	}
	ln, err := net.Listen("tcp", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", normalized, err)
	}
	return ln, nil
}
