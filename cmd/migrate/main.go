package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/liamcoop/witrules/collection"
	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/rules"
)

const usage = "up, down, version, force <version>, seed <fixture.yaml>"

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (required)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: "+usage)
	flag.Parse()

	if err := logger.Setup(context.Background(), logger.ConfigFromEnv()); err != nil {
		logger.Warn("logging setup degraded", "error", err)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required; use -database or DATABASE_URL")
	}

	if command == "seed" {
		seed(databaseURL, flag.Arg(0))
		return
	}

	logger.Info("connecting to database", "migrations", migrationsPath)
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		logger.Info("running migrations up")
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database is up to date")
		} else if err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		} else {
			logger.Info("migrations completed")
		}

	case "down":
		logger.Info("rolling back migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to roll back migrations", "error", err)
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to get version", "error", err)
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		if flag.NArg() < 1 {
			logger.Fatal("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			logger.Fatal("invalid version number", "value", flag.Arg(0), "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", "error", err)
		}
		logger.Info("forced version", "version", version)

	default:
		logger.Fatal("unknown command", "command", command, "usage", usage)
	}
}

// seed imports a YAML fixture as a new collection of a migrated database
func seed(databaseURL, fixturePath string) {
	if fixturePath == "" {
		logger.Fatal("seed requires a fixture path: -command seed <fixture.yaml>")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	f, err := os.Open(fixturePath)
	if err != nil {
		logger.Fatal("failed to open fixture", "error", err)
	}
	defer f.Close()

	manager := collection.NewManager(db, rules.DefaultCacheConfig())
	if err := manager.LoadAll(); err != nil {
		logger.Fatal("failed to load collections", "error", err)
	}
	c, err := manager.ImportFixture(f)
	if err != nil {
		logger.Fatal("failed to import fixture", "path", fixturePath, "error", err)
	}
	logger.Info("collection seeded", "collectionId", c.ID, "name", c.Name)
}
