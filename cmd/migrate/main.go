package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/S-Corkum/ragcore/internal/database/migration"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/jmoiron/sqlx"
)

const defaultMigrationsPath = "migrations/sql"

var (
	upFlag      = flag.Bool("up", false, "Run pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back the most recently applied migration")
	versionFlag = flag.Bool("version", false, "Show the current schema version")

	dsn           = flag.String("dsn", "", "Database connection string")
	migrationsDir = flag.String("dir", defaultMigrationsPath, "Migrations directory")
	steps         = flag.Int("steps", 0, "Number of migrations to apply (0 = all pending)")
	timeout       = flag.Duration("timeout", time.Minute, "Migration timeout")
)

func main() {
	flag.Parse()

	if *dsn == "" {
		fmt.Println("Error: -dsn is required")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	sqlxDB := sqlx.NewDb(db, "postgres")
	logger := observability.NewLogger("migrate")

	manager, err := migration.NewManager(sqlxDB, migration.Config{
		MigrationsPath: *migrationsDir,
		Timeout:        *timeout,
		Steps:          *steps,
	}, logger)
	if err != nil {
		log.Fatalf("failed to initialize migration manager: %v", err)
	}

	ctx := context.Background()

	switch {
	case *versionFlag:
		version, dirty, err := manager.Version()
		if err != nil {
			log.Fatalf("failed to get migration version: %v", err)
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
	case *downFlag:
		if err := manager.Down(ctx); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		fmt.Println("rolled back one migration")
	case *upFlag:
		if err := manager.Up(ctx); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		fmt.Println("migrations applied")
	default:
		fmt.Println("Error: one of -up, -down, -version is required")
		flag.Usage()
		os.Exit(1)
	}
}
