package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aakashsharma7/code-reviewer/common/id"
	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/common/otel"
	"github.com/aakashsharma7/code-reviewer/core/config"
	"github.com/aakashsharma7/code-reviewer/core/db"
	"github.com/aakashsharma7/code-reviewer/internal/analyzer"
	"github.com/aakashsharma7/code-reviewer/internal/lint"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/scan"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
	"github.com/aakashsharma7/code-reviewer/internal/store"
	"github.com/aakashsharma7/code-reviewer/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "reviewer worker starting",
		"env", cfg.Env,
		"consumer_name", cfg.Redis.ConsumerName)

	// Different node ID than the server so snowflakes never collide.
	if err := id.Init(2); err != nil {
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

	publisher := realtime.NewRedisPublisher(redisClient, cfg.Redis.EventChannel)
	dispatcher := buildDispatcher(cfg)

	processors := []worker.Processor{
		worker.NewWebhookProcessor(stores.Reviews(), sched),
		worker.NewAnalysisProcessor(stores.Reviews(), stores.Issues(), dispatcher, sched, publisher),
		worker.NewReportProcessor(stores.Reviews(), publisher),
	}

	var pools []*worker.Pool
	var reclaimers []*worker.Reclaimer
	for _, processor := range processors {
		qcfg := queueConfigFor(cfg, processor.Queue())

		consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
			Stream:    qcfg.Stream,
			Group:     qcfg.Group,
			Consumer:  cfg.Redis.ConsumerName,
			DLQStream: qcfg.DLQStream,
			BatchSize: 1,
			Block:     qcfg.Block,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err, "queue", processor.Queue())
			os.Exit(1)
		}

		pool := worker.NewPool(consumer, sched, processor, worker.PoolConfig{Size: qcfg.PoolSize})
		pools = append(pools, pool)

		reclaimer := worker.NewReclaimer(redisClient, worker.ReclaimerConfig{
			Stream:    qcfg.Stream,
			Group:     qcfg.Group,
			Consumer:  cfg.Redis.ConsumerName + "-reclaimer",
			MinIdle:   2 * qcfg.LeaseTimeout,
			Interval:  time.Minute,
			BatchSize: 10,
		}, consumer, sched, pool.HandleMessage)
		reclaimers = append(reclaimers, reclaimer)
	}

	for i := range pools {
		go pools[i].Run(ctx)
		go reclaimers[i].Run(ctx)
	}

	slog.InfoContext(ctx, "worker initialized and running", "pools", len(pools))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	for _, r := range reclaimers {
		r.Stop()
	}
	for _, p := range pools {
		p.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

// buildDispatcher wires the analyzers: the in-process linter always, the
// remote quality scan only when configured.
func buildDispatcher(cfg config.Config) *analyzer.Dispatcher {
	analyzers := []analyzer.Analyzer{
		analyzer.NewLintAnalyzer(lint.New(lint.Config{MaxLineLength: cfg.Lint.MaxLineLength})),
	}
	if cfg.Scan.Enabled() {
		client := scan.NewClient(scan.Config{
			BaseURL: cfg.Scan.BaseURL,
			Token:   cfg.Scan.Token,
			Timeout: cfg.Scan.Timeout,
		})
		analyzers = append(analyzers, analyzer.NewScanAnalyzer(client, cfg.Scan.ProjectKey))
	}
	return analyzer.NewDispatcher(cfg.Analyzer.DispatchTimeout, analyzers...)
}

func queueConfigFor(cfg config.Config, kind model.QueueKind) config.QueueConfig {
	switch kind {
	case model.QueueAnalysis:
		return cfg.Queues.Analysis
	case model.QueueReport:
		return cfg.Queues.Report
	default:
		return cfg.Queues.Webhook
	}
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
