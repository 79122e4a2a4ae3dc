package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/trackline/internal/shared"
)

// setupCommand handles setup operations for the database and the config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "status",
						Usage: "List migrations and whether they are applied",
					},
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config file from the built-in template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Usage: "Where to write the file (default: the --config path)",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Database
	r.logger.Info("initializing database", "path", cfg.Path)

	db, err := shared.NewDatabase(cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()
	shared.ConfigureDatabase(db, cfg)

	switch {
	case cmd.Bool("rollback"):
		if err := shared.RollbackMigration(db); err != nil {
			return err
		}
		return r.writePlain("✓ Rolled back the latest migration\n")

	case cmd.Bool("status"):
		states, err := shared.MigrationStatus(db)
		if err != nil {
			return err
		}
		for _, s := range states {
			mark := "✗"
			if s.Applied {
				mark = "✓"
			}
			r.writePlain("%s %04d %s\n", mark, s.Version, s.Name)
		}
		return nil
	}

	r.logger.Info("running database migrations")
	n, err := shared.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return r.writePlain("✓ Database ready at %s (%d migrations applied)\n", cfg.Path, n)
}

// SetupConfig writes the example configuration.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	if path == "" {
		path = cmd.String("config")
	}
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.writePlain("✓ Config written to %s\n", path)
	r.writePlain("Next steps:\n")
	r.writePlain("1. Fill in credentials.suno and credentials.youtube\n")
	r.writePlain("2. Run 'trackline setup database' and 'trackline auth youtube'\n")
	return nil
}
