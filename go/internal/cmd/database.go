package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/ultransit/collector/go/internal/dbconfig"
)

func setupDatabase() (*sql.DB, error) {
	cfg := dbconfig.NewConfigFromEnv()

	database, err := cfg.Open()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	if getEnv("DB_AUTO_MIGRATE", "false") == "true" {
		if err := ensureSchema(database); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		log.Info().Msg("database schema ensured")
	}

	return database, nil
}
