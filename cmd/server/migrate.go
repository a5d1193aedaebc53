package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kiliankoe/ai-against-humanity/internal/cards"
	"github.com/kiliankoe/ai-against-humanity/internal/config"
	"github.com/kiliankoe/ai-against-humanity/internal/jobs"
	"github.com/kiliankoe/ai-against-humanity/internal/store/pgstore"
)

var errNoDatabase = errors.New("DATABASE_URL is required")

func openPostgres(c *cli.Context) (*pgstore.Store, config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cfg, err
	}
	if cfg.DatabaseURL == "" {
		return nil, cfg, errNoDatabase
	}
	pg, err := pgstore.Open(c.Context, cfg.DatabaseURL)
	return pg, cfg, err
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: func(c *cli.Context) error {
					pg, _, err := openPostgres(c)
					if err != nil {
						return err
					}
					defer pg.Close()
					return pg.Migrator().Init(c.Context)
				},
			},
			{
				Name:  "up",
				Usage: "apply schema and job queue migrations",
				Action: func(c *cli.Context) error {
					pg, cfg, err := openPostgres(c)
					if err != nil {
						return err
					}
					defer pg.Close()

					group, err := pg.Migrate(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						fmt.Println("there are no new migrations to run (database is up to date)")
					} else {
						fmt.Printf("migrated to %s\n", group)
					}

					rv, err := jobs.NewRiver(c.Context, cfg.DatabaseURL, 1)
					if err != nil {
						return err
					}
					defer rv.Close()
					return rv.Migrate(c.Context)
				},
			},
			{
				Name:  "rollback",
				Usage: "roll back the last migration group",
				Action: func(c *cli.Context) error {
					pg, _, err := openPostgres(c)
					if err != nil {
						return err
					}
					defer pg.Close()

					group, err := pg.Migrator().Rollback(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						fmt.Println("there are no groups to roll back")
						return nil
					}
					fmt.Printf("rolled back %s\n", group)
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "print migration status",
				Action: func(c *cli.Context) error {
					pg, _, err := openPostgres(c)
					if err != nil {
						return err
					}
					defer pg.Close()

					ms, err := pg.Migrator().MigrationsWithStatus(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("migrations: %s\n", ms)
					fmt.Printf("unapplied migrations: %s\n", ms.Unapplied())
					fmt.Printf("last migration group: %s\n", ms.LastGroup())
					return nil
				},
			},
		},
	}
}

func seed(c *cli.Context) error {
	pg, _, err := openPostgres(c)
	if err != nil {
		return err
	}
	defer pg.Close()
	if _, err := pg.Migrate(c.Context); err != nil {
		return err
	}

	pack := cards.Base()
	if path := c.String("pack"); path != "" {
		if pack, err = cards.Load(path); err != nil {
			return err
		}
	}
	n, err := cards.Seed(c.Context, pg, pack)
	if err != nil {
		return err
	}
	log.Info().Str("pack", pack.Name).Int("inserted", n).Msg("cards seeded")
	return nil
}
