package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	app "github.com/rocketscienceinc/gamestate-relay/internal"
	"github.com/rocketscienceinc/gamestate-relay/internal/config"
)

// main - is the entry point of the application. It parses the CLI, loads the
// configuration and logger, and runs the relay.
func main() {
	defer func() {
		if err := recover(); err != nil {
			fmt.Fprintf(os.Stderr, "recovered from panic: %v\n", err)
			os.Exit(1)
		}
	}()

	cmd := &cli.Command{
		Name:  "gamestate-relay",
		Usage: "real-time game-state relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "./config.yml",
				Usage: "path to the config file",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			conf := config.MustLoad(cmd.String("config"))
			logger := initLogger(conf)

			if err := app.RunApp(logger, conf); err != nil {
				return fmt.Errorf("app run failed: %w", err)
			}

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// initialize logger.
func initLogger(conf *config.Config) *slog.Logger {
	var level slog.Level

	switch conf.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
