package main

// Run database migrations:
//   go run ./cmd/migrate            (up)
//   go run ./cmd/migrate -down      (roll back one)
//   go run ./cmd/migrate -version

import (
	"context"
	"flag"
	"log"
	"os"

	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/storage/db"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	version := flag.Bool("version", false, "print the applied schema version")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required")
		os.Exit(1)
	}

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch {
	case *version:
		v, err := db.MigrationVersion(ctx, sqlDB)
		if err != nil {
			log.Printf("failed to read schema version: %v", err)
			os.Exit(1)
		}
		log.Printf("schema version %d", v)
	case *down:
		if err := db.RollbackMigration(ctx, sqlDB); err != nil {
			log.Printf("failed to roll back migration: %v", err)
			os.Exit(1)
		}
	default:
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			log.Printf("failed to run migrations: %v", err)
			os.Exit(1)
		}
	}
}
