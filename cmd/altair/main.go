// Command altair runs an Altair message hub until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/markoxley/altair/config"
	"github.com/markoxley/altair/hub"
)

func main() {
	var (
		logLevel string
		cfgPath  string
		addr     string
		port     int
		lockPath string
	)

	app := &cli.Command{
		Name:      "altair",
		Usage:     "Run an Altair message hub",
		UsageText: "altair [options]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("ALTAIR_LOG_LEVEL"),
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("ALTAIR_CONFIG"),
				Destination: &cfgPath,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "bind address override",
				Destination: &addr,
			},
			&cli.IntFlag{
				Name:        "port",
				Usage:       "bind port override, 0 picks an ephemeral port",
				Value:       -1,
				Destination: &port,
			},
			&cli.StringFlag{
				Name:        "lockfile",
				Usage:       "lockfile path override",
				Destination: &lockPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(logLevel); err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if port >= 0 {
				cfg.Port = port
			}
			if lockPath != "" {
				cfg.Lockfile = lockPath
			}

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := hub.New(cfg)
			if err := h.Start(runCtx); err != nil {
				return err
			}
			defer h.Stop()

			log.Info().Str("url", h.URL()).Msg("hub ready, interrupt to stop")
			<-runCtx.Done()
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("altair failed")
		os.Exit(1)
	}
}

func setupLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(parsed)
	return nil
}
