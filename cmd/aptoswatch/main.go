package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultNodeURL = "https://fullnode.mainnet.aptoslabs.com"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "aptoswatch",
		Usage: "Aptos account history and balance reconciliation CLI",
		Description: `A command-line tool for reading and watching Aptos account activity.

Ledger commands talk to a fullnode directly. Server commands use the aptoswatch HTTP API,
and nats commands follow the snapshots that scheduled reconciliations publish.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Ledger commands
			historyCommand(),
			balanceCommand(),
			normalizeCommand(),
			watchCommand(),
			validateTransferCommand(),
			// Server commands (HTTP API)
			serverCommands(),
			// NATS snapshot streaming commands
			{
				Name:  "nats",
				Usage: "NATS snapshot streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "node-url",
				Usage:   "Aptos fullnode REST URL",
				EnvVars: []string{"APTOS_NODE_URL"},
				Value:   defaultNodeURL,
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network label used in logs and metrics",
				EnvVars: []string{"APTOS_NETWORK"},
				Value:   "mainnet",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "aptoswatch server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the JSON output (implies --json)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for stderr diagnostics (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
		},
	}
}

// newLogger writes diagnostics to the app's error writer so stdout stays clean for output.
func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))
}
