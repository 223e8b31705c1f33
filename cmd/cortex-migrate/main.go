// Command cortex-migrate applies (or rolls back) the Postgres schema for
// cortex's durable stores: episodes, semantic concepts/relationships, user
// traits, identity vectors, cycles, and threads.
package main

import (
	"flag"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cortex/internal/config"
	"cortex/internal/observability"
	"cortex/internal/persistence"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down")
	steps := flag.Int("steps", 0, "number of steps to apply (0 = all)")
	flag.Parse()

	_ = godotenv.Overload()
	observability.InitLogger("", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal().Msg("CORTEX_POSTGRES_DSN is required")
	}

	if err := persistence.Migrate(cfg.Postgres.DSN, *direction, *steps); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("direction", *direction).Msg("migration complete")
}
