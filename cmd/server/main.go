package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"chat-relay/internal/config"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	EnvFile  string
	LogLevel string
	Config   *config.Config
}

func main() {
	if err := setupLogger("info", false); err != nil {
		panic(err)
	}

	f := &flags{}

	app := &cli.Command{
		Name:    "chat-relay",
		Usage:   "Real-time chat relay with message history and file uploads",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "path to a .env file loaded before reading the environment",
				Sources:     cli.EnvVars("ENV_FILE"),
				Value:       ".env",
				Destination: &f.EnvFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(f.EnvFile, log.Logger)
			if err != nil {
				return ctx, err
			}
			if c.IsSet("log-level") {
				cfg.LogLevel = f.LogLevel
			}
			if err := setupLogger(cfg.LogLevel, cfg.IsProduction()); err != nil {
				return ctx, err
			}
			f.Config = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			newServeCmd(f),
			newHistoryCmd(f),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'chat-relay --help' for usage", c.Args().First())
			}
			return runServer(ctx, f.Config)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("chat-relay exited")
		os.Exit(1)
	}
}

func setupLogger(level string, production bool) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if production {
		output = os.Stderr
	}

	log.Logger = zerolog.New(output).Level(parsedLevel).With().Timestamp().Logger()
	return nil
}
