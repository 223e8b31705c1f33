// Package config loads cortex's runtime configuration from environment
// variables (optionally via a .env file) with a small set of documented
// defaults. There is no YAML config file — a single user, single process
// deployment does not need one, and every knob here is small enough to
// live in the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// OpenAIConfig configures the OpenAI chat/completions client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// API selects "responses" or "completions"; empty defaults to
	// "completions" in internal/llm/openai.New. Self-hosted OpenAI-
	// compatible servers (llama.cpp, mlx_lm.server) generally only
	// implement completions.
	API         string
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicPromptCacheConfig controls Anthropic prompt-cache breakpoints.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic messages client.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini client.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int
}

// LLMClientConfig selects and configures the provider used for every LLM
// call the core makes: mode-response generation, the ACT planner, and the
// memory chunker's structured-JSON extraction.
type LLMClientConfig struct {
	Provider  string // "openai" | "anthropic" | "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig

	// CallTimeout bounds a single LLM call (§5 "LLM call per mode").
	CallTimeout time.Duration
}

// EmbeddingConfig configures the embedding endpoint used by every
// component that vectorizes text for similarity search (memory chunker,
// episodic/semantic consolidation, the drift engine, classifiers).
type EmbeddingConfig struct {
	Host   string
	APIKey string
}

// RedisConfig configures the shared Redis client used by the queue runtime,
// working memory, gist/fact stores, and the drift engine's sorted sets.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig configures the durable store pool (episodes, semantic
// concepts, traits, identity vectors, cycles, threads).
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	ConnTimeout time.Duration
}

// QueueConfig configures a single named queue (C1).
type QueueConfig struct {
	DefaultTimeout time.Duration
	MaxRetries     int
}

// RouterConfig tunes the mode router (C13).
type RouterConfig struct {
	TieBreakDelta float64
}

// ActConfig tunes the ACT loop (C14).
type ActConfig struct {
	MaxIterations     int
	FatigueBudget     float64
	PerActionTimeout  time.Duration
	CumulativeTimeout time.Duration
	HeartbeatInterval time.Duration
}

// MemoryConfig tunes the memory lattice (C3-C9).
type MemoryConfig struct {
	WorkingMemoryMaxTurns int
	GistTTL               time.Duration
	GistMaxGists          int
	GistMaxPerType        int
	GistMinConfidence     int
	GistSimilarityThresh  float64
	FactTTL               time.Duration
	EpisodeConsolidateAt  int // enriched exchanges before consolidation
}

// DecayConfig tunes the decay engine (C21).
type DecayConfig struct {
	Interval             time.Duration
	EpisodicLambda       float64
	SemanticLambda       float64
	ExternalTTLDivisor   float64
	ExternalTTLFloor     time.Duration
}

// DriftConfig tunes the autonomous action engine (C24).
type DriftConfig struct {
	TickInterval     time.Duration
	QuietHourStart   int // 0-23, inclusive
	QuietHourEnd     int // 0-23, exclusive
	FatigueBudgetPct float64
}

// SchedulerConfig tunes the idle-consolidation and thread-expiry schedulers.
type SchedulerConfig struct {
	ThreadExpiryAfter      time.Duration
	IdleConsolidationEpisodesMin int
}

// KafkaConfig configures the optional send-message tool (internal/tools/kafka),
// wired into the ACT loop's tool registry only when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string
	OrchestratorTopic string
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the top-level configuration for every cortexd process.
type Config struct {
	LLMClient LLMClientConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Queue     QueueConfig
	Router    RouterConfig
	Act       ActConfig
	Memory    MemoryConfig
	Decay     DecayConfig
	Drift     DriftConfig
	Scheduler SchedulerConfig
	Kafka     KafkaConfig
	Obs       ObsConfig

	// LogLevel controls the zerolog global level ("debug", "info", "warn", "error").
	LogLevel string
}

// Load reads configuration from the environment, applying .env (if present)
// first via godotenv.Overload so local development overrides ambient shell
// variables deterministically.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.LLMClient.Provider = firstNonEmpty(os.Getenv("CORTEX_LLM_PROVIDER"), "openai")
	cfg.LLMClient.OpenAI = OpenAIConfig{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		API:         firstNonEmpty(os.Getenv("OPENAI_API"), "completions"),
		LogPayloads: boolFromEnv("OPENAI_LOG_PAYLOADS", false),
	}
	cfg.LLMClient.Anthropic = AnthropicConfig{
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Model:   firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-5"),
		BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		PromptCache: AnthropicPromptCacheConfig{
			Enabled: boolFromEnv("ANTHROPIC_PROMPT_CACHE", true),
		},
	}
	cfg.LLMClient.Google = GoogleConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Model:   firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-2.0-flash"),
		BaseURL: os.Getenv("GOOGLE_BASE_URL"),
		Timeout: intFromEnv("GOOGLE_TIMEOUT_SECONDS", 60),
	}
	cfg.LLMClient.CallTimeout = durationFromEnv("CORTEX_LLM_CALL_TIMEOUT", 45*time.Second)

	cfg.Embedding = EmbeddingConfig{
		Host:   firstNonEmpty(os.Getenv("CORTEX_EMBEDDING_HOST"), "http://127.0.0.1:11434/v1/embeddings"),
		APIKey: os.Getenv("CORTEX_EMBEDDING_API_KEY"),
	}

	cfg.Redis = RedisConfig{
		Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "127.0.0.1:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intFromEnv("REDIS_DB", 0),
	}

	cfg.Postgres = PostgresConfig{
		DSN:         os.Getenv("CORTEX_POSTGRES_DSN"),
		MaxConns:    int32(intFromEnv("CORTEX_POSTGRES_MAX_CONNS", 8)),
		MinConns:    int32(intFromEnv("CORTEX_POSTGRES_MIN_CONNS", 0)),
		ConnTimeout: durationFromEnv("CORTEX_POSTGRES_CONN_TIMEOUT", 3*time.Second),
	}

	cfg.Queue = QueueConfig{
		DefaultTimeout: durationFromEnv("CORTEX_QUEUE_TIMEOUT", 600*time.Second),
		MaxRetries:     intFromEnv("CORTEX_QUEUE_MAX_RETRIES", 5),
	}

	cfg.Router = RouterConfig{
		TieBreakDelta: floatFromEnv("CORTEX_ROUTER_TIEBREAK_DELTA", 0.05),
	}

	cfg.Act = ActConfig{
		MaxIterations:     intFromEnv("CORTEX_ACT_MAX_ITERATIONS", 6),
		FatigueBudget:     floatFromEnv("CORTEX_ACT_FATIGUE_BUDGET", 10.0),
		PerActionTimeout:  durationFromEnv("CORTEX_ACT_ACTION_TIMEOUT", 10*time.Second),
		CumulativeTimeout: durationFromEnv("CORTEX_ACT_CUMULATIVE_TIMEOUT", 60*time.Second),
		HeartbeatInterval: durationFromEnv("CORTEX_ACT_HEARTBEAT_INTERVAL", 10*time.Second),
	}

	cfg.Memory = MemoryConfig{
		WorkingMemoryMaxTurns: intFromEnv("CORTEX_WORKING_MEMORY_MAX_TURNS", 20),
		GistTTL:               durationFromEnv("CORTEX_GIST_TTL", 30*time.Minute),
		GistMaxGists:          intFromEnv("CORTEX_GIST_MAX_GISTS", 8),
		GistMaxPerType:        intFromEnv("CORTEX_GIST_MAX_PER_TYPE", 2),
		GistMinConfidence:     intFromEnv("CORTEX_GIST_MIN_CONFIDENCE", 7),
		GistSimilarityThresh:  floatFromEnv("CORTEX_GIST_SIMILARITY_THRESHOLD", 0.7),
		FactTTL:               durationFromEnv("CORTEX_FACT_TTL", 24*time.Hour),
		EpisodeConsolidateAt:  intFromEnv("CORTEX_EPISODE_CONSOLIDATE_AT", 3),
	}

	cfg.Decay = DecayConfig{
		Interval:           durationFromEnv("CORTEX_DECAY_INTERVAL", 30*time.Minute),
		EpisodicLambda:     floatFromEnv("CORTEX_DECAY_EPISODIC_LAMBDA", 0.05),
		SemanticLambda:     floatFromEnv("CORTEX_DECAY_SEMANTIC_LAMBDA", 0.02),
		ExternalTTLDivisor: floatFromEnv("CORTEX_DECAY_EXTERNAL_TTL_DIVISOR", 1.5),
		ExternalTTLFloor:   durationFromEnv("CORTEX_DECAY_EXTERNAL_TTL_FLOOR", 60*time.Second),
	}

	cfg.Drift = DriftConfig{
		TickInterval:     durationFromEnv("CORTEX_DRIFT_TICK_INTERVAL", 5*time.Minute),
		QuietHourStart:   intFromEnv("CORTEX_DRIFT_QUIET_HOUR_START", 23),
		QuietHourEnd:     intFromEnv("CORTEX_DRIFT_QUIET_HOUR_END", 8),
		FatigueBudgetPct: floatFromEnv("CORTEX_DRIFT_FATIGUE_BUDGET_PCT", 0.4),
	}

	cfg.Scheduler = SchedulerConfig{
		ThreadExpiryAfter:            durationFromEnv("CORTEX_THREAD_EXPIRY_AFTER", 2*time.Hour),
		IdleConsolidationEpisodesMin: intFromEnv("CORTEX_IDLE_CONSOLIDATION_EPISODES_MIN", 5),
	}

	if brokers := strings.TrimSpace(os.Getenv("CORTEX_KAFKA_BROKERS")); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers:           strings.Split(brokers, ","),
			OrchestratorTopic: firstNonEmpty(os.Getenv("CORTEX_KAFKA_ORCHESTRATOR_TOPIC"), "cortex.orchestrator.commands"),
		}
	}

	cfg.Obs = ObsConfig{
		OTLP:           os.Getenv("CORTEX_OTLP_ENDPOINT"),
		ServiceName:    firstNonEmpty(os.Getenv("CORTEX_SERVICE_NAME"), "cortexd"),
		ServiceVersion: firstNonEmpty(os.Getenv("CORTEX_SERVICE_VERSION"), "dev"),
		Environment:    firstNonEmpty(os.Getenv("CORTEX_ENVIRONMENT"), "development"),
	}

	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
