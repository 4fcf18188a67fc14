package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"marketpulse/internal/config"
	"marketpulse/internal/database"
	"marketpulse/internal/logger"
	"marketpulse/internal/symbols"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to the config file")
		down       = flag.Bool("down", false, "roll back one migration")
		version    = flag.Bool("version", false, "print the current migration version")
		force      = flag.Int("force", -1, "force the migration version (clears a dirty state)")
		seed       = flag.Bool("seed", false, "after migrating up, load symbols.static into the symbols table")
	)
	flag.Parse()

	if err := run(*configPath, *down, *version, *force, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, down, showVersion bool, force int, seed bool) error {
	// load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger()

	db, err := database.NewConnection(context.Background(), database.FromConfig(cfg.Database), log)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath)
	if err != nil {
		return err
	}
	defer migrator.Close()

	// run the requested action, migrating up by default
	switch {
	case down:
		return migrator.Down()
	case showVersion:
		v, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("current migration version: %d\n", v)
		return nil
	case force >= 0:
		return migrator.Force(force)
	default:
		if err := migrator.Up(); err != nil {
			return err
		}
	}
	if !seed {
		return nil
	}

	refs, err := symbols.ParseStaticEntries(cfg.Symbols.Static)
	if err != nil {
		return err
	}
	if err := symbols.NewPostgresSource(db.DB).Upsert(context.Background(), refs); err != nil {
		return err
	}
	log.Info("Seeded symbols", "count", len(refs))
	return nil
}
