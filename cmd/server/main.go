package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aakashsharma7/code-reviewer/common/id"
	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/common/otel"
	"github.com/aakashsharma7/code-reviewer/core/config"
	"github.com/aakashsharma7/code-reviewer/core/db"
	"github.com/aakashsharma7/code-reviewer/internal/http/middleware"
	httprouter "github.com/aakashsharma7/code-reviewer/internal/http/router"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
	"github.com/aakashsharma7/code-reviewer/internal/service"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "reviewer server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, db.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	stores := store.NewStores(database.Pool())

	producers := map[model.QueueKind]queue.Producer{
		model.QueueAnalysis: queue.NewRedisProducer(redisClient, cfg.Queues.Analysis.Stream, slog.Default()),
		model.QueueWebhook:  queue.NewRedisProducer(redisClient, cfg.Queues.Webhook.Stream, slog.Default()),
		model.QueueReport:   queue.NewRedisProducer(redisClient, cfg.Queues.Report.Stream, slog.Default()),
	}
	defer func() {
		for _, p := range producers {
			p.Close()
		}
	}()

	lifecycle := scheduler.NewRedisLifecyclePublisher(redisClient, cfg.Redis.EventChannel)
	sched := scheduler.New(stores.Jobs(), producers, schedulerPolicies(cfg), scheduler.WithListener(lifecycle))
	defer sched.Shutdown()

	services := service.NewServices(&cfg, sched)

	hub := realtime.NewHub()
	bridge := realtime.NewBridge(redisClient, cfg.Redis.EventChannel, hub)
	go bridge.Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, hub)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	bridge.Stop()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, hub *realtime.Hub) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, hub, httprouter.RouterConfig{
		IsProduction: cfg.IsProduction(),
		AdminAPIKey:  cfg.AdminAPIKey,
	})

	return router
}

func schedulerPolicies(cfg config.Config) map[model.QueueKind]scheduler.Policy {
	return map[model.QueueKind]scheduler.Policy{
		model.QueueAnalysis: policyFrom(cfg.Queues.Analysis),
		model.QueueWebhook:  policyFrom(cfg.Queues.Webhook),
		model.QueueReport:   policyFrom(cfg.Queues.Report),
	}
}

func policyFrom(q config.QueueConfig) scheduler.Policy {
	return scheduler.Policy{
		MaxAttempts: q.MaxAttempts,
		Backoff: model.BackoffPolicy{
			Kind:      model.BackoffKind(q.BackoffKind),
			BaseDelay: q.BaseDelay,
		},
		LeaseTimeout: q.LeaseTimeout,
	}
}

const banner = `
 ██████╗ ██████╗ ██████╗ ███████╗    ██████╗ ███████╗██╗   ██╗██╗███████╗██╗    ██╗███████╗██████╗
██╔════╝██╔═══██╗██╔══██╗██╔════╝    ██╔══██╗██╔════╝██║   ██║██║██╔════╝██║    ██║██╔════╝██╔══██╗
██║     ██║   ██║██║  ██║█████╗      ██████╔╝█████╗  ██║   ██║██║█████╗  ██║ █╗ ██║█████╗  ██████╔╝
██║     ██║   ██║██║  ██║██╔══╝      ██╔══██╗██╔══╝  ╚██╗ ██╔╝██║██╔══╝  ██║███╗██║██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝██████╔╝███████╗    ██║  ██║███████╗ ╚████╔╝ ██║███████╗╚███████╔╝███████╗██║  ██║
 ╚═════╝ ╚═════╝ ╚═════╝ ╚══════╝    ╚═╝  ╚═╝╚══════╝  ╚═══╝  ╚═╝╚══════╝ ╚══════╝ ╚══════╝╚═╝  ╚═╝
`
