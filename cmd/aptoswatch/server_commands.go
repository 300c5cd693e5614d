package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brojonat/aptoswatch/client"
	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/urfave/cli/v2"
)

func serverCommands() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Commands that use the aptoswatch HTTP API",
		Subcommands: []*cli.Command{
			healthCommand(),
			versionCommand(),
			serverHistoryCommand(),
			streamCommand(),
			{
				Name:  "watch",
				Usage: "Manage accounts the server reconciles on a schedule",
				Subcommands: []*cli.Command{
					watchAddCommand(),
					watchRemoveCommand(),
					watchListCommand(),
				},
			},
		},
	}
}

func apiClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newLogger(c))
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "aptoswatch CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}

func serverHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Ask the server to reconcile an account now",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of most recent transactions (0 uses the server default)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			history, err := apiClient(c).History(c.Context, c.Args().Get(0), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}
			return out.emit(history, func(w io.Writer) { printHistory(w, history) })
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Follow the server's snapshot stream for an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address := c.Args().Get(0)
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			if !out.json {
				fmt.Fprintf(c.App.ErrWriter, "Streaming snapshots of %s (Ctrl-C to stop)\n", address)
			}
			printer := newSnapshotPrinter(out)
			return apiClient(c).StreamHistory(ctx, address, func(h *aptos.AccountHistory) error {
				return printer.print(h)
			})
		},
	}
}

func watchAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Start scheduled reconciliation of an account",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Poll interval (0 uses the server default)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			watch, err := apiClient(c).Watch(c.Context, c.Args().Get(0), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to watch account: %w", err)
			}
			return out.emit(watch, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Watching %s every %s\n", watch.Address, watch.PollInterval)
			})
		},
	}
}

func watchRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Aliases:   []string{"remove"},
		Usage:     "Stop scheduled reconciliation of an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address := c.Args().Get(0)

			if err := apiClient(c).Unwatch(c.Context, address); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("%s is not watched", address)
				}
				return fmt.Errorf("failed to unwatch account: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Stopped watching %s\n", address)
			return nil
		},
	}
}

func watchListCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List watched accounts",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			watches, err := apiClient(c).ListWatches(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watches: %w", err)
			}
			return out.emit(watches, func(w io.Writer) { renderWatches(w, watches) })
		},
	}
}
