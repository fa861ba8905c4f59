// Package main applies the plan history schema to PostgreSQL.
package main

import (
	"database/sql"
	"errors"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/limiquantix/replanner/internal/config"
)

var (
	app = kingpin.New("migrate", "Manage the replanner plan history schema")

	configPath = app.Flag("config", "path to the config file (set $REPLANNER_CONFIG to override)").
			Short('c').
			Envar("REPLANNER_CONFIG").
			String()
	migrationsURL = app.Flag("migrations", "migrations source URL").
			Default("file://migrations").
			String()

	upCmd      = app.Command("up", "apply every pending migration")
	downCmd    = app.Command("down", "roll back the last migration")
	downAllCmd = app.Command("down-all", "roll back every migration")
	versionCmd = app.Command("version", "show the current schema version")
	forceCmd   = app.Command("force", "force the schema version after a failed migration")
	forceTo    = forceCmd.Arg("version", "schema version").Required().Int()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("Failed to create database driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance(*migrationsURL, "postgres", driver)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}

	switch cmd {
	case upCmd.FullCommand():
		logger.Info("Running migrations up...")
		if err := m.Up(); ignoreNoChange(err) != nil {
			logger.Fatal("Migration failed", zap.Error(err))
		}
		logger.Info("Migrations completed successfully")

	case downCmd.FullCommand():
		logger.Info("Rolling back last migration...")
		if err := m.Steps(-1); ignoreNoChange(err) != nil {
			logger.Fatal("Rollback failed", zap.Error(err))
		}
		logger.Info("Rollback completed successfully")

	case downAllCmd.FullCommand():
		logger.Info("Rolling back all migrations...")
		if err := m.Down(); ignoreNoChange(err) != nil {
			logger.Fatal("Rollback failed", zap.Error(err))
		}
		logger.Info("All migrations rolled back successfully")

	case versionCmd.FullCommand():
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migration applied yet")
			return
		}
		if err != nil {
			logger.Fatal("Failed to get version", zap.Error(err))
		}
		logger.Info("Current migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)

	case forceCmd.FullCommand():
		logger.Info("Forcing version...", zap.Int("version", *forceTo))
		if err := m.Force(*forceTo); err != nil {
			logger.Fatal("Force failed", zap.Error(err))
		}
		logger.Info("Version forced successfully")
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
