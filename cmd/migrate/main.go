package main

import (
	"context"
	"log"
	"os"
	"time"

	"gosens/adapters/postgres/migrations"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <up|status> [database_url]")
	}
	command := os.Args[1]

	databaseURL := os.Getenv("DATABASE_URL")
	if len(os.Args) > 2 {
		databaseURL = os.Args[2]
	}
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is not set and no database_url argument was given")
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	migrator := migrations.NewMigrator(db.DB)

	switch command {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Migrations up to date")
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		pending := 0
		for _, s := range statuses {
			state := "applied"
			if !s.Applied {
				state = "pending"
				pending++
			}
			log.Printf("%s  %-40s %s", s.Version, s.Name, state)
		}
		log.Printf("%d migrations, %d pending", len(statuses), pending)
	default:
		log.Fatalf("Unknown command %q (expected up or status)", command)
	}
}
