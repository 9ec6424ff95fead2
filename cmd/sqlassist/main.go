package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/sqlassist/internal/api"
	"github.com/felipepmaragno/sqlassist/internal/assistant"
	"github.com/felipepmaragno/sqlassist/internal/budget"
	"github.com/felipepmaragno/sqlassist/internal/circuitbreaker"
	"github.com/felipepmaragno/sqlassist/internal/config"
	"github.com/felipepmaragno/sqlassist/internal/cost"
	"github.com/felipepmaragno/sqlassist/internal/generator"
	"github.com/felipepmaragno/sqlassist/internal/httputil"
	"github.com/felipepmaragno/sqlassist/internal/notifications"
	"github.com/felipepmaragno/sqlassist/internal/provider/openai"
	"github.com/felipepmaragno/sqlassist/internal/ratelimit"
	"github.com/felipepmaragno/sqlassist/internal/repository"
	"github.com/felipepmaragno/sqlassist/internal/secrets"
	"github.com/felipepmaragno/sqlassist/internal/session"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting sqlassist", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "sqlassist", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		slog.Warn("database not reachable yet", "error", err)
	}
	pingCancel()

	checks := []api.ReadinessCheck{api.PostgresCheck(db)}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerCooldown,
	}

	var (
		sessions session.Store
		dedup    budget.AlertDeduplicator
		breaker  circuitbreaker.CircuitBreaker
		limiter  ratelimit.RateLimiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		sessions = session.NewRedisStoreWithClient(client, cfg.SessionBudget, cfg.SessionTTL)
		dedup = budget.NewRedisDeduplicatorWithClient(client, cfg.SessionTTL)
		breaker = circuitbreaker.NewRedis(client, "openai", breakerCfg)
		limiter = ratelimit.NewRedisRateLimiter(client)
		checks = append(checks, api.RedisCheck(client))
		slog.Info("using redis session store")
	} else {
		store := session.NewInMemoryStore(cfg.SessionBudget, cfg.SessionTTL)
		defer store.Close()

		sessions = store
		dedup = budget.NewInMemoryDeduplicator()
		breaker = circuitbreaker.NewInMemory("openai", breakerCfg)
		limiter = ratelimit.NewInMemoryRateLimiter()
		slog.Info("using in-memory session store")
	}

	monitor := budget.NewMonitor(budget.WithDeduplicator(dedup))
	monitor.OnAlert(budget.LogAlertHandler)

	var notifier notifications.Notifier
	if cfg.BudgetAlertTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.BudgetAlertTopicARN)
		if err != nil {
			slog.Error("failed to create sns notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("budget alerts published to sns", "topic", cfg.BudgetAlertTopicARN)
	} else {
		notifier = notifications.NewRecorder()
	}
	monitor.OnAlert(notifications.BudgetAlertHandler(notifier))

	keys := secrets.Chain{secrets.StaticKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIAPIKeySecret != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to create secrets manager client", "error", err)
			os.Exit(1)
		}
		keys = append(keys, secrets.NewSecretKey(secrets.NewCache(store, 5*time.Minute), cfg.OpenAIAPIKeySecret))
		slog.Info("default API key falls back to secrets manager", "secret", cfg.OpenAIAPIKeySecret)
	}

	calculator := cost.NewCalculator()
	if cfg.PricingFile != "" {
		if err := calculator.LoadPricingFile(cfg.PricingFile); err != nil {
			slog.Error("failed to load pricing file", "error", err)
			os.Exit(1)
		}
		slog.Info("loaded pricing overrides", "file", cfg.PricingFile)
	}

	gen := generator.New(generator.Config{
		SQL:  generator.Guard(openai.New(cfg.OpenAIBaseURL, httputil.NewClient(httputil.LLMConfig(cfg.LLMTimeout))), breaker),
		Team: generator.Guard(openai.New(cfg.OpenAIBaseURL, httputil.NewClient(httputil.LLMConfig(cfg.TeamLLMTimeout))), breaker),
		Keys: keys,
	})

	svc := assistant.New(assistant.Config{
		Schema:        repository.NewPostgresIntrospector(db),
		Roster:        repository.NewRosterRepository(db),
		DB:            repository.NewExecutor(db),
		Generator:     gen,
		Costs:         calculator,
		Sessions:      sessions,
		Monitor:       monitor,
		EnforceBudget: cfg.EnforceBudget,
	})

	handler := api.NewHandler(api.HandlerConfig{
		Assistant: svc,
		Defaults: api.Defaults{
			Model:              cfg.DefaultModel,
			Temperature:        cfg.DefaultTemperature,
			MaxTokens:          cfg.DefaultMaxTokens,
			CertaintyThreshold: cfg.DefaultCertaintyThreshold,
		},
		RateLimiter:  limiter,
		RateLimitRPM: cfg.SessionRateLimitRPM,
		Checks:       append(checks, api.BreakerCheck(breaker)),
		Version:      version,
	})

	// Generation calls may take up to the LLM timeout.
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
