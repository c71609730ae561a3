// Command pinwire-server runs the conversational pin-allocation
// service: an HTTP API in front of the turn pipeline, with SQLite
// session persistence and a background expiry sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-pinwire/infrastructure/llm"
	"github.com/ahrav/go-pinwire/infrastructure/middleware"
	"github.com/ahrav/go-pinwire/infrastructure/reference"
	"github.com/ahrav/go-pinwire/infrastructure/storage"
	"github.com/ahrav/go-pinwire/internal/api"
	"github.com/ahrav/go-pinwire/internal/application"
	"github.com/ahrav/go-pinwire/internal/ports"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pinwire-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := middleware.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	oracle, err := buildOracle(cfg.LLM, metrics)
	if err != nil {
		return err
	}

	store, err := storage.NewSessionStore(storage.Config{
		Path:       cfg.Storage.Path,
		MaxHistory: cfg.Storage.MaxHistory,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	refStore, err := reference.NewStore()
	if err != nil {
		return err
	}

	pipeline, err := application.NewTurnPipeline(
		store, refStore, oracle, metrics, logger,
		application.PipelineConfig{
			ReferenceLimit:     cfg.Prompt.ReferenceLimit,
			HistoryTokenBudget: cfg.Prompt.HistoryTokenBudget,
			Temperature:        cfg.LLM.Temperature,
			MaxTokens:          cfg.LLM.MaxTokens,
			SystemPrompt:       cfg.Prompt.SystemPrompt,
		},
	)
	if err != nil {
		return err
	}

	server, err := api.NewServer(store, pipeline, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("model", oracle.GetModel()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(ctx, store, cfg.Storage, logger)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// buildOracle constructs the LLM client for the configured provider
// spec with the full resilience middleware chain.
func buildOracle(cfg application.LLMConfig, metrics *middleware.PrometheusMetrics) (ports.LLMClient, error) {
	var chain []llm.Middleware

	if cfg.MaxRetries > 0 {
		chain = append(chain, llm.RetryMiddleware(cfg.MaxRetries, 500*time.Millisecond, 10*time.Second))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), burst))
	}
	if cfg.CircuitFailures > 0 {
		chain = append(chain, llm.CircuitBreakerMiddleware(cfg.CircuitFailures, cfg.CircuitCooldown()))
	}
	chain = append(chain,
		llm.MetricsMiddleware(metrics),
		llm.TracingMiddleware("pinwire"),
		llm.TimeoutMiddleware(cfg.RequestTimeout()),
	)

	provider := cfg.Default
	if i := strings.IndexByte(provider, '/'); i > 0 {
		provider = provider[:i]
	}

	// History trimming re-estimates the same conversation prefix every
	// turn, so estimation results are cached.
	estimator := llm.NewCachingTokenEstimator(llm.NewCharacterBasedTokenEstimator(4), 4096)

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:             llm.DefaultProviders,
		DefaultProvider:       provider,
		DefaultTimeout:        cfg.RequestTimeout(),
		DefaultMiddleware:     chain,
		DefaultTokenEstimator: estimator,
	})
	if err != nil {
		return nil, fmt.Errorf("configure llm registry: %w", err)
	}

	client, err := registry.GetClient(cfg.Default)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return client, nil
}

// runSweeper periodically deletes idle sessions.
func runSweeper(
	ctx context.Context,
	store *storage.SessionStore,
	cfg application.StorageConfig,
	logger *zap.Logger,
) error {
	if cfg.SessionTTLMinutes <= 0 || cfg.SweepIntervalMinutes <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.Sweep(ctx, cfg.SessionTTL())
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("swept idle sessions", zap.Int("removed", removed))
			}
		}
	}
}

// newLogger builds the service logger from configuration.
func newLogger(cfg application.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
