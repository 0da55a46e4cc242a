package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/common/configtypes"
	"github.com/edgecomet/urlclean/internal/common/logger"
	"github.com/edgecomet/urlclean/internal/common/metricsserver"
	"github.com/edgecomet/urlclean/internal/common/yamlutil"
	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/metrics"
	"github.com/edgecomet/urlclean/internal/engine/pipeline"
	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/internal/server"
)

func main() {
	configPath := flag.String("c", "configs/clean-server.yaml", "path to configuration file")
	flag.Parse()

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	initialLogger.Info("Starting clean-server", zap.String("config_path", *configPath))

	var cfg configtypes.ServerConfig
	if err := yamlutil.LoadStrict(*configPath, &cfg); err != nil {
		initialLogger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		initialLogger.Fatal("Invalid config", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer zapLogger.Sync()

	cleaner, err := rules.LoadCleaner(cfg.CleanerPath)
	if err != nil {
		zapLogger.Fatal("Failed to load cleaner", zap.Error(err))
	}
	if err := cleaner.Validate(); err != nil {
		zapLogger.Fatal("Cleaner failed validation", zap.Error(err))
	}
	zapLogger.Info("Cleaner loaded",
		zap.String("path", cfg.CleanerPath),
		zap.String("name", cleaner.Docs.Name))

	profilesConfig := &rules.ProfilesConfig{}
	if cfg.ProfilesPath != "" {
		data, err := os.ReadFile(cfg.ProfilesPath)
		if err != nil {
			zapLogger.Fatal("Failed to read profiles", zap.Error(err))
		}
		if err := jsonUnmarshal(data, profilesConfig); err != nil {
			zapLogger.Fatal("Failed to parse profiles", zap.Error(err))
		}
	}
	profiled := rules.NewProfiledCleaner(cleaner, profilesConfig)

	inner, err := openCache(cfg.Cache, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open cache", zap.Error(err))
	}
	if inner != nil {
		defer inner.Close()
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	metricsSrv := metricsserver.Start(cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, registry, zapLogger)

	apiServer := server.NewServer(pipeline.BatchDeps{
		Cleaners:   profiled,
		InnerCache: inner,
		HTTP:       httpx.NewClient(cleaner.Params.HTTPClient, zapLogger),
		Logger:     zapLogger,
		Metrics:    collector,
		Workers:    cfg.Workers,
	}, cleaner.Docs, zapLogger)

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	httpServer := &fasthttp.Server{
		Handler:            apiServer.HandleRequest,
		Name:               "urlclean",
		ReadTimeout:        durationOr(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout:       durationOr(cfg.WriteTimeout, 60*time.Second),
		MaxRequestBodySize: maxBody,
	}

	go func() {
		zapLogger.Info("API server listening", zap.String("listen", cfg.Listen))
		if err := httpServer.ListenAndServe(cfg.Listen); err != nil {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	zapLogger.Info("Shutting down", zap.String("signal", sig.String()))

	if err := httpServer.Shutdown(); err != nil {
		zapLogger.Error("API server shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(); err != nil {
			zapLogger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	zapLogger.Info("Shutdown complete")
}

func openCache(cfg configtypes.CacheConfig, zapLogger *zap.Logger) (cache.InnerCache, error) {
	switch cfg.Backend {
	case "":
		zapLogger.Info("Side-effect cache disabled")
		return nil, nil
	case "memory":
		return cache.NewMemoryCache(zapLogger), nil
	case "sqlite":
		return cache.NewSQLiteCache(cfg.Path, zapLogger), nil
	case "redis":
		return cache.NewRedisCache(&cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Std(),
		}, zapLogger)
	}
	return nil, nil
}

func durationOr(d configtypes.Duration, fallback time.Duration) time.Duration {
	if d.Std() > 0 {
		return d.Std()
	}
	return fallback
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
