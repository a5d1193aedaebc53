package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kiliankoe/ai-against-humanity/internal/config"
)

const version = "v0.1.0-dev"

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML config file, overridden by .env and the environment",
		EnvVars: []string{"AAH_CONFIG"},
	}

	app := &cli.App{
		Name:    "ai-against-humanity",
		Usage:   "party card game server where AI players compete with humans",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and socket.io server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "port to listen on (overrides PORT)"},
				},
				Action: serve,
			},
			migrateCommand(),
			{
				Name:  "seed",
				Usage: "insert a card pack into the database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pack", Usage: "YAML card pack; the built-in base pack when empty"},
				},
				Action: seed,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		zerologlog.Fatal().Err(err).Msg("exit")
	}
}

// loadConfig reads the config and sets up console logging at its level.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	setupLogging(cfg.LogLevel)
	return cfg, err
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
