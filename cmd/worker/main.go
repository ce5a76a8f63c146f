// Command worker is the standalone enrichment-worker binary (spec §6 CLI
// surface): accepts --port (default 8080, environment-aware via
// internal/port), reads the rest of its configuration from the
// environment, and serves the dispatcher's HTTP endpoint table until
// terminated. Bootstrap follows core.NewConfig/ProductionLogger's
// functional-options style.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/userport/enrichment-worker/aiclient"
	"github.com/userport/enrichment-worker/cache"
	"github.com/userport/enrichment-worker/callback"
	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/dispatcher"
	"github.com/userport/enrichment-worker/internal/port"
	"github.com/userport/enrichment-worker/offload"
	"github.com/userport/enrichment-worker/orchestrator"
	"github.com/userport/enrichment-worker/resilience"
	"github.com/userport/enrichment-worker/storage"
	"github.com/userport/enrichment-worker/task"
	"github.com/userport/enrichment-worker/telemetry"
)

// callbackPath is the lead-enrichment callback receiver's fixed route,
// spec §6: POST {DJANGO_BASE_URL}/api/v2/internal/enrichment-callback/.
const callbackPath = "/api/v2/internal/enrichment-callback/"

// runtime bundles every ambient component a concrete TaskSpec
// implementation needs at Register/Execute time: the provider-facing cache
// tiers, the offload pools, the dependency-chain orchestrator, and
// (optionally) an LLM backend and callback client. Individual task
// business logic is out of scope per spec §1, so nothing in this binary
// calls into these beyond construction — a real deployment wires its
// task.Spec implementations against this struct's fields.
type runtime struct {
	registry      *task.Registry
	queue         dispatcher.Queue
	jobStore      dispatcher.JobStore
	responseCache *cache.ResponseCache
	aiCache       *cache.AICache
	offload       *offload.Pool
	locker        *orchestrator.Locker
	ai            *aiclient.Client
	callback      *callback.Client
	logger        core.Logger
}

func main() {
	portFlag := flag.Int("port", 0, "HTTP port to listen on (0 = auto per environment)")
	flag.Parse()

	cfg, err := core.NewConfig(
		core.WithName("enrichment-worker"),
		core.WithLogLevel(getEnv("LOG_LEVEL", "info")),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

	pm := port.NewPortManager(nil)
	listenPort := *portFlag
	if listenPort == 0 {
		listenPort = pm.DeterminePort()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := buildRuntime(ctx, logger)
	defer rt.offload.Shutdown()

	handler := dispatcher.NewHandler(rt.registry, rt.queue, rt.jobStore, logger, uuid.NewString)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	// telemetry.HealthHandler reports emitter/circuit-breaker/cardinality
	// health, distinct from dispatcher's liveness-only /health.
	mux.HandleFunc("/health/telemetry", telemetry.HealthHandler)

	var chain http.Handler = mux
	chain = dispatcher.LoggingMiddleware(logger)(chain)
	if audience := os.Getenv("OIDC_AUDIENCE"); audience != "" {
		chain = dispatcher.AuthMiddleware(audience, logger)(chain)
	}
	// telemetry.TracingMiddleware wraps everything so every request gets an
	// otelhttp span before trace-seeding/auth run inside it, matching
	// resilience.ConnectionPool's otelhttp.NewTransport on the outbound side.
	chain = telemetry.TracingMiddleware("enrichment-worker")(chain)

	srv := &http.Server{
		Addr:              pm.GetServerAddress(listenPort),
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("enrichment worker listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", map[string]interface{}{"error": err.Error()})
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func buildRuntime(ctx context.Context, logger core.Logger) *runtime {
	registry := task.NewRegistry()
	redisClient := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})

	offloadPool := offload.New(offload.DefaultConfig())
	offloadPool.Start(ctx)

	rt := &runtime{
		registry:      registry,
		jobStore:      buildJobStore(ctx, logger),
		responseCache: cache.NewResponseCache(redisClient),
		aiCache:       cache.NewAICache(redisClient),
		offload:       offloadPool,
		locker:        orchestrator.NewLocker(redisClient),
		logger:        logger,
	}

	if backend, err := aiclient.NewBackend(aiclient.ProviderName(getEnv("AI_PROVIDER", "openai")), "", logger); err != nil {
		logger.Warn("ai backend unavailable", map[string]interface{}{"error": err.Error()})
	} else {
		rt.ai = aiclient.New(backend, rt.aiCache, aiclient.WithLogger(logger))
	}

	if baseURL := os.Getenv("CALLBACK_BASE_URL"); baseURL != "" {
		tokens, err := buildTokenSource(ctx, baseURL)
		if err != nil {
			logger.Warn("callback token source unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			connPool := resilience.NewConnectionPool(resilience.DefaultConnectionPoolConfig())
			rt.callback = callback.NewClient(baseURL, callbackPath, tokens, connPool)
		}
	}

	rt.queue = buildQueue(registry, redisClient, rt, logger)
	return rt
}

// buildQueue selects LocalQueue (in-process, one goroutine per task) or RedisQueue
// (LPUSH-based) per ENVIRONMENT, mirroring the supplemented
// get_task_manager() switch in original_source/workers/main.py. Both queues
// mint task IDs with uuid.NewString; LocalQueue's onComplete additionally
// records the job's terminal status and, when a callback receiver is
// configured, delivers its CallbackEnvelope — the bookkeeping a real
// Cloud-Tasks push target gets for free from HandleExecute's HTTP response.
func buildQueue(registry *task.Registry, redisClient *redis.Client, rt *runtime, logger core.Logger) dispatcher.Queue {
	if getEnv("ENVIRONMENT", "local") == "local" {
		logger.Info("using in-process local task queue", nil)
		return dispatcher.NewLocalQueue(registry, uuid.NewString, rt.completeJob)
	}
	logger.Info("using redis-backed task queue", nil)
	return dispatcher.NewRedisQueue(redisClient, dispatcher.DefaultQueueKey, uuid.NewString)
}

// completeJob persists the terminal JobStatus for a LocalQueue-executed task
// and, when a callback client is configured, delivers the resulting
// CallbackEnvelope to the lead-enrichment receiver per spec §4.9.
func (rt *runtime) completeJob(ctx context.Context, payload task.Payload, result task.Result, execErr error) {
	now := func() time.Time { return time.Now().UTC() }

	status := task.JobStatus{
		JobID:         payload.JobID,
		TaskName:      payload.TaskName,
		EntityID:      payload.LeadID,
		Status:        result.Status,
		AttemptNumber: payload.AttemptNumber,
		MaxRetries:    payload.MaxRetries,
		UpdatedAt:     now(),
	}
	if execErr != nil {
		status.Status = task.StatusFailed
		status.LastError = execErr.Error()
	} else if result.Error != nil {
		status.LastError = result.Error.Message
	}

	if err := rt.jobStore.Update(ctx, status); err != nil {
		rt.logger.Warn("job status update failed", map[string]interface{}{"job_id": payload.JobID, "error": err.Error()})
	}

	if rt.callback == nil {
		return
	}

	enrichmentType := payload.TaskName
	if spec, err := rt.registry.Get(payload.TaskName); err == nil {
		enrichmentType = spec.EnrichmentType()
	}

	env := task.CallbackEnvelope{
		JobID:                payload.JobID,
		AccountID:            payload.AccountID,
		LeadID:               payload.LeadID,
		Status:               status.Status,
		EnrichmentType:       enrichmentType,
		IsPartial:            result.Status != task.StatusCompleted,
		CompletionPercentage: result.CompletionPercentage,
		ProcessedData:        result.ProcessedData,
		ErrorDetails:         result.Error,
		AttemptNumber:        payload.AttemptNumber,
		MaxRetries:           payload.MaxRetries,
		TraceID:              payload.Trace.TraceID,
	}
	if err := rt.callback.Send(ctx, env, callback.LeadSet{}); err != nil {
		rt.logger.Error("callback delivery failed", map[string]interface{}{"job_id": payload.JobID, "error": err.Error()})
	}
}

// buildJobStore wires storage.JobSink when POSTGRES_ENABLED is set,
// otherwise falls back to the in-memory store for local development.
func buildJobStore(ctx context.Context, logger core.Logger) dispatcher.JobStore {
	if getEnv("POSTGRES_ENABLED", "") == "" {
		logger.Info("using in-memory job store", nil)
		return dispatcher.NewInMemoryJobStore()
	}

	db, err := storage.Open(ctx, storage.FromEnv())
	if err != nil {
		logger.Error("postgres unavailable, falling back to in-memory job store", map[string]interface{}{"error": err.Error()})
		return dispatcher.NewInMemoryJobStore()
	}

	if err := storage.NewMigrator(db).Up(ctx); err != nil {
		logger.Error("migration failed", map[string]interface{}{"error": err.Error()})
	}

	return storage.NewJobSink(db)
}

func buildTokenSource(ctx context.Context, audience string) (callback.TokenSource, error) {
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		return callback.NewFileTokenSource(ctx, credsFile, audience)
	}
	return callback.NewADCTokenSource(ctx, audience)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
