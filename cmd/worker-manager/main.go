// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"order-workers/internal/common/aws"
	"order-workers/internal/common/camunda"
	"order-workers/internal/common/config"
	"order-workers/internal/common/database"
	"order-workers/internal/common/genai"
	"order-workers/internal/common/lock"
	"order-workers/internal/common/logger"
	"order-workers/internal/common/observability"
	"order-workers/internal/ordering/continuation"
	"order-workers/internal/ordering/extractor"
	"order-workers/internal/ordering/pipeline"
	"order-workers/internal/store/catalog"
	"order-workers/internal/store/orders"
	rom "order-workers/internal/workers/ordering/resolve-order-message"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(ctx, cfg.Camunda)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	redis := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Catalog ---
	var source catalog.Source = catalog.NewPostgresStore(pg.DB)
	if cfg.Resolution.CatalogSource == config.CatalogSourceElasticsearch {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		source = catalog.NewSearchSource(es.Client, cfg.Resolution.CatalogIndex)
		zapLog.Info("Elasticsearch connected successfully")
	}
	if ttl := config.GetDuration(cfg.Resolution.CatalogCacheTTL); ttl > 0 {
		source = catalog.NewCachedSource(source, redis.Client, ttl, log)
	}

	// --- Resolver ---
	resolverOpts := []pipeline.Option{
		pipeline.WithExtractor(extractor.New(extractor.WithKeywords(cfg.Resolution.Keywords...))),
		pipeline.WithDetector(continuation.New(continuation.WithWindow(config.GetDuration(cfg.Resolution.ContinuationWindow)))),
		pipeline.WithThreshold(cfg.Resolution.IntentThreshold),
		pipeline.WithOracleTimeout(config.GetDuration(cfg.Resolution.OracleTimeout)),
		pipeline.WithLogger(log),
		pipeline.WithTracer(obs.Tracer()),
	}
	if cfg.APIs.GenAI.Enabled {
		resolverOpts = append(resolverOpts, pipeline.WithOracle(genai.NewClient(genai.ConfigFromApp(cfg), log)))
		zapLog.Info("GenAI oracle enabled", zap.String("model", cfg.APIs.GenAI.Model))
	} else {
		zapLog.Warn("GenAI oracle disabled, using heuristic extraction only")
	}
	resolver := pipeline.NewResolver(resolverOpts...)

	// --- Order events ---
	var publisher aws.EventPublisher = aws.NoopPublisher{}
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		publisher = aws.NewSNSPublisher(snsClient, cfg.Integrations.AWS.SNS.TopicARN)
	}

	lockTTL := config.GetDuration(cfg.Resolution.LockTTL)
	lockWait := config.GetDuration(cfg.Resolution.LockWait)
	locker := lock.Chain{
		lock.NewKeyedMutex(lockWait),
		lock.NewRedisLocker(redis.Client, lockTTL, lockWait),
	}

	zapLog.Info("All external service clients initialized")

	var workers []*camunda.Worker
	if taskType := rom.TaskType; config.IsWorkerEnabled(cfg, taskType) {
		handler, err := rom.NewHandler(rom.HandlerOptions{
			Config:        rom.LoadConfig(cfg),
			Resolver:      resolver,
			Catalog:       source,
			Orders:        orders.NewPostgresStore(pg.DB),
			Locker:        locker,
			Publisher:     publisher,
			Observability: obs,
			Logger:        log,
		})
		if err != nil {
			zapLog.Fatal("failed to create resolve-order-message handler", zap.Error(err))
		}
		if w := camunda.StartWorker(zeebe.GetClient(), taskType, config.GetWorkerConfig(cfg, taskType), handler, log); w != nil {
			workers = append(workers, w)
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := map[string]error{
			"zeebe":    zeebe.HealthCheck(checkCtx),
			"postgres": pg.Ping(checkCtx),
			"redis":    redis.Ping(checkCtx),
		}
		for _, err := range checks {
			if err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "not ready", checks)
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready", nil)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing telemetry", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]error) {
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		failures := map[string]string{}
		for name, err := range checks {
			if err != nil {
				failures[name] = err.Error()
			}
		}
		body["failures"] = failures
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
