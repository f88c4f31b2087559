// Command migrate manages the booking schema. File-based migrations target
// postgres; -bootstrap creates the schema straight from the models for local
// development.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"

	"ticketly/internal/config"
	"ticketly/internal/database/migrations"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	var (
		dir       = flag.String("dir", "./migrations", "directory with migration files")
		down      = flag.Bool("down", false, "roll back all migrations")
		to        = flag.Uint("to", 0, "migrate to an exact schema version (0 = latest)")
		bootstrap = flag.Bool("bootstrap", false, "create schema from models instead of migration files")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("postgres unreachable: %v", err)
	}

	if *bootstrap {
		if err := migrations.Bootstrap(context.Background(), db); err != nil {
			log.Fatalf("bootstrap schema: %v", err)
		}
		log.Println("schema bootstrapped from models")
		return
	}

	runner := migrations.NewRunner(db, migrations.Options{Dir: *dir})
	defer runner.Close()

	switch {
	case *down:
		err = runner.Down()
	case *to > 0:
		err = runner.To(*to)
	default:
		err = runner.Up()
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		log.Fatalf("read schema version: %v", err)
	}
	log.Printf("schema version %d (dirty=%t)", version, dirty)
}
