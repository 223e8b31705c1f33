// Command cortexctl is cortexd's operator CLI: inspect queue depths,
// replay a routing decision against an arbitrary signal vector, or force
// one decay pass, without going through the HTTP surface. Grounded on the
// teacher's cmd/embedctl: a single binary, stdlib flag (no cobra anywhere
// in the teacher's dependency tree), one FlagSet per subcommand dispatched
// off argv[1], fail-fast with log.Fatalf on a bad flag or missing config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"cortex/internal/config"
	"cortex/internal/decay"
	"cortex/internal/fact"
	"cortex/internal/identity"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
	"cortex/internal/router"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "queues":
		runQueues(args)
	case "route":
		runRoute(args)
	case "decay":
		runDecay(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cortexctl <queues|route|decay> [flags]")
}

// runQueues reports the pending+in-flight depth of every named queue
// cortexd's workers drain.
func runQueues(args []string) {
	fs := flag.NewFlagSet("queues", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	q, err := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("open queue: %v", err)
	}

	names := []string{"tool-queue", "memory-chunker", "episodic"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(map[string]int64, len(names))
	for _, name := range names {
		depth, err := q.Depth(ctx, name)
		if err != nil {
			log.Fatalf("depth %s: %v", name, err)
		}
		out[name] = depth
	}
	printJSON(out)
}

// runRoute replays internal/router.Route against a signal vector built
// from flags, so an operator can check what mode a given set of signals
// would produce without sending a live message through the pipeline.
func runRoute(args []string) {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	workingMemoryFill := fs.Float64("working-memory-fill", 0, "[0,1]")
	gistCount := fs.Int("gist-count", 0, "")
	factCount := fs.Int("fact-count", 0, "")
	intentConfidence := fs.Float64("intent-confidence", 0, "[0,1]")
	maxToolRelevance := fs.Float64("max-tool-relevance", 0, "[0,1]")
	contextWarmth := fs.Float64("context-warmth", 0, "[0,1]")
	isCancel := fs.Bool("is-cancel", false, "")
	isSelfResolved := fs.Bool("is-self-resolved", false, "")
	decliningReplyLength := fs.Bool("declining-reply-length", false, "")
	newToolNeed := fs.Bool("new-tool-need", false, "")
	previousMode := fs.String("previous-mode", "", "act|respond|clarify|acknowledge|ignore")
	fs.Parse(args)

	sv := router.SignalVector{
		WorkingMemoryFill:    *workingMemoryFill,
		GistCount:            *gistCount,
		FactCount:            *factCount,
		IntentConfidence:     *intentConfidence,
		MaxToolRelevance:     *maxToolRelevance,
		ContextWarmth:        *contextWarmth,
		IsCancel:             *isCancel,
		IsSelfResolved:       *isSelfResolved,
		DecliningReplyLength: *decliningReplyLength,
		NewToolNeed:          *newToolNeed,
		PreviousMode:         router.Mode(*previousMode),
	}

	printJSON(router.Route(sv))
}

// runDecay forces one decay pass across every store, the same RunOnce
// cortexd's own decay.Worker calls on its periodic ticker.
func runDecay(args []string) {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := databases.NewStores(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("open postgres stores: %v", err)
	}
	defer stores.Close()

	worker := &decay.Worker{
		Episodes:       stores.Episodes,
		Semantic:       stores.Semantic,
		Traits:         stores.Traits,
		Identity:       identity.NewService(stores.Identity),
		Facts:          fact.New(mustRedis(cfg), cfg.Memory.FactTTL),
		Threads:        stores.Threads,
		EpisodicLambda: cfg.Decay.EpisodicLambda,
		SemanticLambda: cfg.Decay.SemanticLambda,
	}

	summary := worker.RunOnce(ctx)
	printJSON(decaySummaryOutput(summary))
	if len(summary.Errors) > 0 {
		os.Exit(1)
	}
}

// decaySummaryOutput renders decay.Summary for JSON output, stringifying
// Errors since the error interface itself marshals to an empty object.
func decaySummaryOutput(s decay.Summary) map[string]any {
	errs := make([]string, len(s.Errors))
	for i, e := range s.Errors {
		errs[i] = e.Error()
	}
	return map[string]any{
		"episodes_decayed":       s.EpisodesDecayed,
		"concepts_decayed":       s.ConceptsDecayed,
		"traits_decayed":         s.TraitsDecayed,
		"traits_deleted":         s.TraitsDeleted,
		"identity_ran":           s.IdentityRan,
		"external_facts_expired": s.ExternalFactsExpired,
		"external_facts_shrunk":  s.ExternalFactsShrunk,
		"errors":                 errs,
	}
}

// mustRedis opens a Redis client, pinging to fail fast on a bad address.
func mustRedis(cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("reach redis: %v", err)
	}
	return client
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("CORTEX_POSTGRES_DSN is required")
	}
	return cfg
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
