// Package persistence owns the embedded schema migrations shared by
// cmd/cortex-migrate and cortexd's own startup bootstrap, so there is a
// single source of truth for the durable-store schema instead of one copy
// in a migration tool and a second copy inlined in application code.
package persistence

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies schema migrations against dsn. direction is "up" or
// "down"; steps of 0 means "all pending". Returns nil (not an error) when
// there is nothing to do.
func Migrate(dsn, direction string, steps int) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown migration direction %q (want up|down)", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
