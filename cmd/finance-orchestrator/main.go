// cmd/finance-orchestrator/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/api"
	"finance-orchestrator/internal/audit"
	"finance-orchestrator/internal/calculator"
	awsclients "finance-orchestrator/internal/common/aws"
	"finance-orchestrator/internal/common/camunda"
	"finance-orchestrator/internal/common/config"
	"finance-orchestrator/internal/common/database"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/observability"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/notify"
	"finance-orchestrator/internal/orchestrator"
	"finance-orchestrator/internal/pipeline"
	"finance-orchestrator/internal/ratelimit"
	"finance-orchestrator/internal/security/injection"
	"finance-orchestrator/internal/security/pii"
	activities "finance-orchestrator/pkg/registry"

	cfq "finance-orchestrator/internal/workers/finance/classify-finance-query"
	efa "finance-orchestrator/internal/workers/finance/execute-finance-agent"
	na "finance-orchestrator/internal/workers/finance/notify-approval"
	sfq "finance-orchestrator/internal/workers/finance/screen-finance-query"
)

var version = "dev"

// retryWithBackoff attempts to execute a function with exponential backoff
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

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	masker := pii.NewMasker()
	log := pii.NewMaskingLogger(logger.NewZapAdapter(zapLog), masker)

	zapLog.Info("Starting finance orchestrator...",
		zap.String("version", version),
		zap.String("environment", cfg.App.Environment),
		zap.String("llmProvider", cfg.LLM.Provider),
	)

	obs := observability.New(cfg.App.Name,
		observability.WithJaegerEndpoint(cfg.Observability.JaegerEndpoint),
		observability.WithLogger(log),
	)
	defer obs.Shutdown()

	ctx := context.Background()
	var stores []database.Pinger

	// --- Audit sinks ---
	sinks := []audit.Sink{audit.NewLogSink(log)}

	if cfg.Audit.PostgresEnabled {
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

		sink := audit.NewPostgresSink(pg.DB, "")
		if err := sink.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("audit schema setup failed", zap.Error(err))
		}
		sinks = append(sinks, sink)
		stores = append(stores, pg)
		zapLog.Info("PostgreSQL audit sink ready")
	}

	if cfg.Audit.ElasticsearchEnabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		sinks = append(sinks, audit.NewElasticsearchSink(esClient.Client, cfg.Audit.Index))
		stores = append(stores, esClient)
		zapLog.Info("Elasticsearch audit sink ready")
	}

	recorder := audit.NewRecorder(masker, log, sinks...)

	// --- Rate limiter ---
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewMemoryLimiter()
		if cfg.Database.Redis.Address != "" {
			var redis *database.RedisClient
			err = retryWithBackoff(func() error {
				var err error
				redis, err = database.NewRedis(cfg.Database.Redis)
				if err != nil {
					return err
				}
				return redis.Ping(ctx)
			}, 10, 2*time.Second, zapLog, "Redis connection")
			if err != nil {
				zapLog.Fatal("redis failed after retries", zap.Error(err))
			}
			defer redis.Close()
			limiter = ratelimit.NewRedisLimiter(redis.Client, log)
			stores = append(stores, redis)
			zapLog.Info("Redis rate limiter ready")
		}
	}

	// --- Model gateway ---
	validator := gateway.NewSchemaValidator()
	invoiceOpts := calculator.InvoiceOptions{
		Convention:       calculator.ParseRetentionConvention(cfg.Finance.RetentionConvention),
		RequirePOForAuto: cfg.Finance.RequirePOForAuto,
	}
	if err := orchestrator.RegisterSchemas(validator); err != nil {
		zapLog.Fatal("classification schema registration failed", zap.Error(err))
	}
	if err := agents.RegisterSchemas(validator,
		agents.InvoiceDomain(invoiceOpts), agents.PaymentDomain(), agents.CommissionDomain(),
	); err != nil {
		zapLog.Fatal("agent schema registration failed", zap.Error(err))
	}

	gw, err := gateway.New(gateway.ConfigFrom(cfg.LLM), validator, log)
	if err != nil {
		zapLog.Fatal("llm gateway setup failed", zap.Error(err))
	}

	registry, err := agents.NewRegistry(
		agents.NewInvoiceAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Invoice}, invoiceOpts, log),
		agents.NewPaymentAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Payment}, log),
		agents.NewCommissionAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Commission}, log),
	)
	if err != nil {
		zapLog.Fatal("agent registry setup failed", zap.Error(err))
	}

	orch := orchestrator.New(gw, orchestrator.Config{
		Model:               cfg.LLM.ClassificationModel,
		MaxTokens:           cfg.LLM.MaxTokens.Classification,
		ConfidenceThreshold: cfg.Orchestrator.ConfidenceThreshold,
	}, registry, log)

	scanner := injection.NewScanner(
		injection.WithSensitivity(cfg.Security.InjectionSensitivity),
		injection.WithLogger(log),
	)

	// --- Approval notifications ---
	notifier := buildNotifier(ctx, cfg, masker, log, zapLog)

	p := pipeline.New(scanner, orch, registry,
		pipeline.WithRecorder(recorder),
		pipeline.WithNotifier(notifier),
		pipeline.WithObservability(obs),
		pipeline.WithMasker(masker),
		pipeline.WithLogger(log),
	)

	// --- Zeebe workers ---
	var (
		zeebe   *camunda.Client
		workers []*camunda.CamundaWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		stores = append(stores, zeebe)
		zapLog.Info("Zeebe client connected successfully")

		workers = startWorkers(cfg, zeebe, scanner, orch, registry, notifier, masker, obs, log)
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
		checkActivityRegistry(zapLog)
	}

	// --- HTTP API ---
	server := api.NewServer(cfg.Server, api.Deps{
		Processor: p,
		Limiter:   limiter,
		Rules:     ratelimit.RulesFromConfig(cfg.RateLimit),
		Gateway:   gw,
		LLM:       cfg.LLM,
		Security:  cfg.Security,
		Stores:    stores,
		Version:   version,
		Logger:    log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			zapLog.Error("API server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping API server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("Finance orchestrator stopped gracefully")
}

func buildNotifier(ctx context.Context, cfg *config.Config, masker *pii.Masker, log logger.Logger, zapLog *zap.Logger) *notify.ApprovalNotifier {
	ncfg := notify.Config{
		Enabled:   cfg.Notifications.Enabled,
		TopicARN:  cfg.Notifications.SNS.TopicARN,
		FromEmail: cfg.Notifications.SES.FromEmail,
		ToEmails:  cfg.Notifications.SES.ToEmails,
	}
	if !ncfg.Enabled {
		return notify.NewApprovalNotifier(ncfg, nil, nil, masker, log)
	}

	clients, err := awsclients.NewClients(ctx, cfg.Notifications.AWS.Region)
	if err != nil {
		zapLog.Error("aws clients unavailable, approval notifications disabled", zap.Error(err))
		ncfg.Enabled = false
		return notify.NewApprovalNotifier(ncfg, nil, nil, masker, log)
	}
	return notify.NewApprovalNotifier(ncfg, clients.SES, clients.SNS, masker, log)
}

func startWorkers(
	cfg *config.Config,
	zeebe *camunda.Client,
	scanner *injection.Scanner,
	orch *orchestrator.Orchestrator,
	registry agents.Registry,
	notifier *notify.ApprovalNotifier,
	masker *pii.Masker,
	obs *observability.Observability,
	log logger.Logger,
) []*camunda.CamundaWorker {
	var workers []*camunda.CamundaWorker
	start := func(taskType string, handler camunda.JobHandler) {
		wcfg := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), taskType, handler, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, log))
	}

	if wc := sfq.LoadConfig(cfg); wc.Enabled {
		start(sfq.TaskType, sfq.NewHandler(wc, scanner, obs, log))
	}
	if wc := cfq.LoadConfig(cfg); wc.Enabled {
		start(cfq.TaskType, cfq.NewHandler(wc, orch, obs, log))
	}
	if wc := efa.LoadConfig(cfg); wc.Enabled {
		start(efa.TaskType, efa.NewHandler(wc, registry, masker, obs, log))
	}
	if wc := na.LoadConfig(cfg); wc.Enabled {
		start(na.TaskType, na.NewHandler(wc, notifier, obs, log))
	}
	return workers
}

// checkActivityRegistry warns about worker task types the process models
// cannot see in the activity registry.
func checkActivityRegistry(log *zap.Logger) {
	path := os.Getenv("ACTIVITY_REGISTRY_PATH")
	if path == "" {
		path = "configs/activity-registry.json"
	}
	reg, err := activities.LoadRegistry(path)
	if err != nil {
		log.Warn("Activity registry not loaded", zap.String("path", path), zap.Error(err))
		return
	}
	for _, t := range reg.Unregistered(sfq.TaskType, cfq.TaskType, efa.TaskType, na.TaskType) {
		log.Warn("Worker task type missing from activity registry", zap.String("taskType", t))
	}
}
