// Command migrate applies or rolls back the Postgres schema.
//
//	migrate up        apply all pending migrations
//	migrate down      roll back the most recent migration
//	migrate version   print the current schema version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goentitle/storage/postgres"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|version")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal().Err(err).Msg("failed to load .env")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open migrator")
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("no migrations applied")
			return
		}
		if verr != nil {
			logger.Fatal().Err(verr).Msg("failed to read version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
		return
	default:
		logger.Fatal().Str("command", os.Args[1]).Msg("unknown command, want up|down|version")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Msg("no change")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, _, _ := m.Version()
	logger.Info().Uint("version", version).Msg("migration complete")
}
