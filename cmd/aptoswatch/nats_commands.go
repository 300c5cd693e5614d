package main

import (
	"context"
	"fmt"

	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/urfave/cli/v2"
)

// subscribeCommand follows the snapshots published for an account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to snapshot events for an account",
		ArgsUsage: "ADDRESS",
		Description: `Subscribe to account snapshots published to NATS JetStream by scheduled reconciliations.

Snapshots are published to the subject: history.{canonical_address}

Example:
  aptoswatch nats subscribe 0x1 --json`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address := c.Args().Get(0)

			out, err := newOutput(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			sub, err := natspkg.NewSubscriber(c.String("nats-url"), logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var timeoutCancel context.CancelFunc
				ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
				defer timeoutCancel()
			}

			// Consume callbacks arrive on NATS goroutines; hand them to this one to print.
			events := make(chan *natspkg.SnapshotEvent, 16)
			stop, err := sub.SubscribeSnapshots(ctx, address, func(ev *natspkg.SnapshotEvent) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			if !out.json {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribed to %s (Ctrl-C to stop)\n", natspkg.Subject(address))
			}

			printer := newSnapshotPrinter(out)
			for {
				select {
				case ev := <-events:
					if err := printer.print(&ev.AccountHistory); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}
