package main

import (
	"PredLedger/internal/observability"
	"PredLedger/internal/persistence"
	"PredLedger/internal/projection"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|rebuild-history>")
		fmt.Println("  up              - apply all pending migrations")
		fmt.Println("  down            - roll back the last migration")
		fmt.Println("  rebuild-history - reseed pnl.wallet_history from current results")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PRED_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  PRED_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	pgURL := os.Getenv("PRED_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/predledger?sslmode=disable"
	}

	migrationsDir := os.Getenv("PRED_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	logger := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "rebuild-history":
		if err := projection.Rebuild(ctx, db, logger); err != nil {
			logger.Fatal().Err(err).Msg("rebuild history")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'rebuild-history')\n", os.Args[1])
		os.Exit(1)
	}
}
