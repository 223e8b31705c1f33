// Command cortexd is cortex's long-running daemon: the HTTP/SSE inbound
// handler, every named queue's worker, the idle-consolidation and
// thread-expiry schedulers, the decay pass, and the autonomous drift
// engine, all sharing one Postgres pool and one Redis client. Grounded on
// the teacher's cmd/agentd bootstrap shape (load .env, init logging,
// load config, init OTel, wire collaborators, serve) and
// cmd/cortex-migrate's fail-fast-on-missing-DSN style.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cortex/internal/act"
	"cortex/internal/classify"
	"cortex/internal/config"
	"cortex/internal/decay"
	"cortex/internal/digest"
	"cortex/internal/drift"
	"cortex/internal/episodic"
	"cortex/internal/eventbus"
	"cortex/internal/fact"
	"cortex/internal/gist"
	"cortex/internal/identity"
	"cortex/internal/llm/providers"
	"cortex/internal/memorychunker"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/promptassembly"
	"cortex/internal/proactive"
	"cortex/internal/queue"
	"cortex/internal/scheduler"
	"cortex/internal/semanticconsolidation"
	"cortex/internal/toolworker"
	"cortex/internal/tools"
	"cortex/internal/tools/kafka"
	"cortex/internal/transport"
	"cortex/internal/worldstate"
	"cortex/internal/workingmemory"
)

// defaultUserID is cortex's single user (spec.md's framing never names
// multi-tenancy); kept as a named constant rather than scattered literals
// so the seam is easy to widen later.
const defaultUserID = "default"

// persona is cortex's base system prompt. Not configurable yet: no
// per-deployment persona store exists, so this is the one hardcoded
// string in an otherwise environment-driven daemon.
const persona = `You are cortex, a single user's cognitive core: a persistent, continuously
learning assistant with its own memory lattice and personality. Respond
naturally, reference what you remember when it helps, and stay within
the current mode's contract.`

// toolQueueName, memoryChunkerQueueName, episodicQueueName are the three
// named queues digest.Pipeline.dispatchFastPath, memorychunker.Subscribe,
// and episodic.Trigger.NotifyEnriched push onto, respectively.
const (
	toolQueueName          = "tool-queue"
	memoryChunkerQueueName = "memory-chunker"
	episodicQueueName      = "episodic"
)

func main() {
	_ = godotenv.Overload()
	observability.InitLogger("", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("", cfg.LogLevel)

	if cfg.Postgres.DSN == "" {
		log.Fatal().Msg("CORTEX_POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init otel")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shCtx)
	}()

	stores, err := databases.NewStores(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres stores")
	}
	defer stores.Close()
	if err := stores.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to reach redis")
	}
	defer redisClient.Close()

	redisQueue, err := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open redis queue")
	}

	httpClient := observability.NewHTTPClient(nil)
	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}
	model := modelForProvider(cfg)

	embedder := classify.HTTPEmbedder{Host: cfg.Embedding.Host, APIKey: cfg.Embedding.APIKey}

	gistPolicy := gist.DefaultPolicy()
	gistPolicy.MaxGists = cfg.Memory.GistMaxGists
	gistPolicy.MaxPerType = cfg.Memory.GistMaxPerType
	gistPolicy.MinConfidence = cfg.Memory.GistMinConfidence
	gistPolicy.SimilarityThresh = cfg.Memory.GistSimilarityThresh

	gists := gist.New(redisClient, gistPolicy, cfg.Memory.GistTTL)
	facts := fact.New(redisClient, cfg.Memory.FactTTL)
	workingMemory := workingmemory.New(redisClient, cfg.Memory.WorkingMemoryMaxTurns)
	proactiveStore := proactive.New(redisClient)
	episodicBuffer := episodic.NewBuffer(redisClient)

	bus := eventbus.New()
	identitySvc := identity.NewService(stores.Identity)

	toolRegistry := tools.NewRegistry()
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducerFromBrokers(strings.Join(cfg.Kafka.Brokers, ","))
		if err != nil {
			log.Error().Err(err).Msg("cortexd: failed to build kafka producer, send-message tool disabled")
		} else {
			toolRegistry.Register(kafka.NewSendMessageToolWithOrchestratorTopic(producer, cfg.Kafka.OrchestratorTopic))
		}
	}

	toolCandidates := buildToolCandidates(ctx, toolRegistry, embedder)
	toolScorer := classify.NewToolRelevanceScorer(embedder, toolCandidates)
	topicClassifier := classify.NewTopicClassifier(embedder)

	soul := &promptassembly.Soul{
		Persona:  persona,
		Identity: stores.Identity,
		Provider: provider,
		Model:    model,
	}

	broker := transport.NewBroker()

	pipeline := digest.NewPipeline()
	pipeline.WorkingMemory = workingMemory
	pipeline.Gists = gists
	pipeline.Facts = facts
	pipeline.WorldState = worldstate.Static{}
	pipeline.Threads = stores.Threads
	pipeline.Cycles = stores.Cycles
	pipeline.Topics = topicClassifier
	pipeline.Tools = toolScorer
	pipeline.Bus = bus
	pipeline.ToolQueue = redisQueue
	pipeline.Generator = soul
	pipeline.Embedder = embedder

	chunker := &memorychunker.Chunker{
		LLM:           provider,
		Model:         model,
		Gists:         gists,
		Facts:         facts,
		Traits:        stores.Traits,
		Identity:      identitySvc,
		Episodic:      &episodic.Trigger{Buffer: episodicBuffer, Queue: redisQueue},
		WorkingMemory: workingMemory,
		Idempotency:   redisClient,
	}
	bus.Subscribe(memorychunker.Subscribe(redisQueue))

	episodicConsolidator := &episodic.Consolidator{
		Buffer:       episodicBuffer,
		EpisodeStore: stores.Episodes,
		LLM:          provider,
		Model:        model,
		Embedder:     embedder,
	}

	semanticWorker := &semanticconsolidation.Worker{
		Episodes: stores.Episodes,
		Semantic: stores.Semantic,
		LLM:      provider,
		Model:    model,
		Embedder: embedder,
	}

	idleScheduler := &scheduler.IdleConsolidationScheduler{
		Queue:         redisQueue,
		QueueNames:    []string{toolQueueName, memoryChunkerQueueName, episodicQueueName},
		Episodes:      stores.Episodes,
		Consolidation: semanticWorker,
		MinEpisodes:   cfg.Scheduler.IdleConsolidationEpisodesMin,
	}
	threadExpiryScheduler := &scheduler.ThreadExpiryScheduler{
		Threads:      stores.Threads,
		Consolidator: episodicConsolidator,
		IdleAfter:    cfg.Scheduler.ThreadExpiryAfter,
	}

	decayWorker := &decay.Worker{
		Episodes:       stores.Episodes,
		Semantic:       stores.Semantic,
		Traits:         stores.Traits,
		Identity:       identitySvc,
		Facts:          facts,
		Threads:        stores.Threads,
		EpisodicLambda: cfg.Decay.EpisodicLambda,
		SemanticLambda: cfg.Decay.SemanticLambda,
	}

	driftEngine := &drift.Engine{
		UserID:    defaultUserID,
		Semantic:  stores.Semantic,
		Episodes:  stores.Episodes,
		Traits:    stores.Traits,
		Threads:   stores.Threads,
		Curiosity: stores.Curiosity,
		Tasks:     stores.Tasks,
		Gists:     gists,
		Proactive: proactiveStore,
		Identity:  stores.Identity,
		LLM:       provider,
		Model:     model,
		Embedder:  embedder,
		Delivery:  transport.DriftDelivery{Broker: broker},
		QuietHours: quietHours(cfg.Drift.QuietHourStart, cfg.Drift.QuietHourEnd),
	}

	toolWorker := &toolworker.Worker{
		Pipeline:     pipeline,
		BuildPrompt:  soul.BuildActPrompt,
		ToolRegistry: toolRegistry,
		Redis:        redisClient,
		Delivery:     transport.ToolResultDelivery{Broker: broker, UserID: defaultUserID},
		Orchestrator: &act.Orchestrator{
			Provider:    provider,
			Tools:       toolRegistry,
			ToolSchemas: toolRegistry.Schemas(),
			Config: act.Config{
				MaxIterations:     cfg.Act.MaxIterations,
				FatigueBudget:     cfg.Act.FatigueBudget,
				PerActionTimeout:  cfg.Act.PerActionTimeout,
				CumulativeTimeout: cfg.Act.CumulativeTimeout,
				HeartbeatInterval: cfg.Act.HeartbeatInterval,
			},
			Cost:     act.DefaultCostFunc,
			Recorder: &toolworker.ToolPerformanceRecorder{Store: stores.ToolPerformance},
		},
		Model: model,
	}

	srv := &transport.Server{Pipeline: pipeline, Broker: broker, UserID: defaultUserID}
	mux := http.NewServeMux()
	srv.Routes(mux)
	httpServer := &http.Server{Addr: listenAddr(), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		toolQueueWorker := queue.NewWorker(toolQueueName, redisQueue, toolWorker.Handle, cfg.Queue.DefaultTimeout, cfg.Queue.MaxRetries)
		toolQueueWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		memoryWorker := queue.NewWorker(memoryChunkerQueueName, redisQueue, chunker.Handle, cfg.Queue.DefaultTimeout, cfg.Queue.MaxRetries)
		memoryWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		episodicWorker := queue.NewWorker(episodicQueueName, redisQueue, episodicConsolidator.Handle, cfg.Queue.DefaultTimeout, cfg.Queue.MaxRetries)
		episodicWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		idleScheduler.Run(gctx, scheduler.DefaultPollInterval)
		return nil
	})
	g.Go(func() error {
		threadExpiryScheduler.Run(gctx, scheduler.DefaultPollInterval)
		return nil
	})
	g.Go(func() error {
		decayWorker.Run(gctx, cfg.Decay.Interval)
		return nil
	})
	g.Go(func() error {
		driftEngine.Run(gctx, cfg.Drift.TickInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shCtx)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("cortexd: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("cortexd: exited with error")
	}
}

func listenAddr() string {
	if addr := os.Getenv("CORTEX_HTTP_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func modelForProvider(cfg config.Config) string {
	switch cfg.LLMClient.Provider {
	case "anthropic":
		return cfg.LLMClient.Anthropic.Model
	case "google":
		return cfg.LLMClient.Google.Model
	default:
		return cfg.LLMClient.OpenAI.Model
	}
}

func quietHours(start, end int) func(time.Time) bool {
	return func(t time.Time) bool {
		h := t.Hour()
		if start == end {
			return false
		}
		if start < end {
			return h >= start && h < end
		}
		return h >= start || h < end
	}
}

// buildToolCandidates embeds every registered tool's description once at
// startup, the way internal/classify.ToolCandidate's own doc comment
// describes ("computed once at registration time").
func buildToolCandidates(ctx context.Context, registry tools.Registry, embedder classify.Embedder) []classify.ToolCandidate {
	schemas := registry.Schemas()
	candidates := make([]classify.ToolCandidate, 0, len(schemas))
	for _, schema := range schemas {
		vec, err := embedder.Embed(schema.Description)
		if err != nil {
			log.Warn().Err(err).Str("tool", schema.Name).Msg("cortexd: failed to embed tool description, excluding from relevance scoring")
			continue
		}
		candidates = append(candidates, classify.ToolCandidate{Name: schema.Name, Description: vec})
	}
	return candidates
}
