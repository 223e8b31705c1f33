package databases

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"cortex/internal/config"
	"cortex/internal/persistence"
)

// Stores bundles every Postgres-backed store cortexd needs, all sharing one
// connection pool.
type Stores struct {
	Pool            *pgxpool.Pool
	Episodes        *EpisodeStore
	Semantic        *SemanticStore
	Traits          *TraitStore
	Identity        *IdentityStore
	Cycles          *CycleStore
	Threads         *ThreadStore
	Tasks           *TaskStore
	Curiosity       *CuriosityThreadStore
	ToolPerformance *ToolPerformanceStore

	dsn string
}

// NewStores opens the pool and constructs every store. Call Init once at
// startup to apply pending migrations (cmd/cortex-migrate does the same
// against the same embedded migration set, so either can own schema setup
// in a given deployment).
func NewStores(ctx context.Context, cfg config.PostgresConfig) (*Stores, error) {
	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &Stores{
		Pool:            pool,
		Episodes:        NewEpisodeStore(pool),
		Semantic:        NewSemanticStore(pool),
		Traits:          NewTraitStore(pool),
		Identity:        NewIdentityStore(pool),
		Cycles:          NewCycleStore(pool),
		Threads:         NewThreadStore(pool),
		Tasks:           NewTaskStore(pool),
		Curiosity:       NewCuriosityThreadStore(pool),
		ToolPerformance: NewToolPerformanceStore(pool),
		dsn:             cfg.DSN,
	}, nil
}

// Init applies all pending schema migrations via the shared migrator in
// internal/persistence; the identity migration seeds the six dimensions.
func (s *Stores) Init(_ context.Context) error {
	if err := persistence.Migrate(s.dsn, "up", 0); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
