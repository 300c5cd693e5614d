package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/aptoswatch/client"
	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/reconciler"
	"github.com/itchyny/gojq"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// ledgerSource builds a reconciler.Source that reads the configured fullnode directly.
func ledgerSource(c *cli.Context, logger *slog.Logger) *aptos.Client {
	rest := aptos.NewRESTClient(c.String("node-url"), nil, logger)
	return aptos.NewClient(rest, c.String("network"), nil, logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Reconcile an account's balance and recent transfers from the ledger",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of most recent transactions to read",
				Value:   reconciler.DefaultLimit,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for each ledger request",
				Value: reconciler.DefaultFetchTimeout,
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

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			history, err := reconciler.Reconcile(ctx, address, ledgerSource(c, logger), reconciler.Options{
				Limit:        c.Int("limit"),
				FetchTimeout: c.Duration("timeout"),
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("failed to reconcile %s: %w", address, err)
			}

			return out.emit(history, func(w io.Writer) { printHistory(w, history) })
		},
	}
}

type balanceOutput struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	Formatted string          `json:"formatted"`
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an account's native coin balance",
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

			balance, err := ledgerSource(c, newLogger(c)).FetchBalance(ctx, address)
			if err != nil {
				return fmt.Errorf("failed to fetch balance of %s: %w", address, err)
			}

			result := balanceOutput{Address: address, Balance: balance, Formatted: aptos.FormatAmount(balance)}
			return out.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "%s APT\n", result.Formatted)
			})
		},
	}
}

type droppedRecord struct {
	Hash   string           `json:"hash"`
	Type   string           `json:"type"`
	Reason aptos.DropReason `json:"reason"`
}

func normalizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "normalize",
		Usage:     "Normalize a saved JSON array of raw ledger transactions",
		ArgsUsage: "FILE",
		Description: `Reads raw transactions as returned by GET /v1/accounts/{address}/transactions
and prints the normalized history from the viewpoint account. Use "-" to read stdin.

Example:
  curl -s $APTOS_NODE_URL/v1/accounts/0x1/transactions | aptoswatch normalize --viewpoint 0x1 -`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "viewpoint",
				Aliases:  []string{"v"},
				Usage:    "Account whose perspective decides transfer direction",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "balance",
				Usage: "Balance to report in major units (the file carries none)",
				Value: "0",
			},
			&cli.BoolFlag{
				Name:  "show-dropped",
				Usage: "List records that produced no transfer and why",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("input file is required")
			}

			out, err := newOutput(c)
			if err != nil {
				return err
			}

			balance, err := decimal.NewFromString(c.String("balance"))
			if err != nil {
				return fmt.Errorf("invalid --balance %q: %w", c.String("balance"), err)
			}

			raws, err := readRawTransactions(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			viewpoint := c.String("viewpoint")

			if c.Bool("show-dropped") {
				dropped := droppedRecords(raws, viewpoint)
				return out.emit(dropped, func(w io.Writer) { renderDropped(w, dropped) })
			}

			history := reconciler.Summarize(viewpoint, raws, balance)
			return out.emit(history, func(w io.Writer) { printHistory(w, history) })
		},
	}
}

func readRawTransactions(c *cli.Context, path string) ([]aptos.RawTransaction, error) {
	var r io.Reader = c.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raws []aptos.RawTransaction
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("failed to decode transactions from %s: %w", path, err)
	}
	return raws, nil
}

func droppedRecords(raws []aptos.RawTransaction, viewpoint string) []droppedRecord {
	dropped := make([]droppedRecord, 0)
	for _, raw := range raws {
		if _, reason := aptos.NormalizeWithReason(raw, viewpoint); reason != aptos.DropNone {
			dropped = append(dropped, droppedRecord{Hash: raw.Hash, Type: raw.Type, Reason: reason})
		}
	}
	return dropped
}

func renderDropped(w io.Writer, dropped []droppedRecord) {
	if len(dropped) == 0 {
		fmt.Fprintln(w, "No records dropped.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Hash", "Type", "Reason"})
	for _, d := range dropped {
		t.AppendRow(table.Row{d.Hash, d.Type, string(d.Reason)})
	}
	t.Render()
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll an account locally and print each new snapshot",
		ArgsUsage: "ADDRESS",
		Description: `Refreshes the account on a fixed interval until interrupted. A refresh that is
still running when the next tick fires is skipped rather than stacked.

Example:
  aptoswatch watch 0x1 --interval 30s --until '.stats.received_count > 0'`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Refresh interval (at least 1s)",
				Value:   15 * time.Second,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of most recent transactions to read",
				Value:   reconciler.DefaultLimit,
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Stop once this jq expression is truthy for a snapshot",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address := c.Args().Get(0)
			interval := c.Duration("interval")
			if interval < time.Second {
				return fmt.Errorf("--interval must be at least 1s")
			}

			out, err := newOutput(c)
			if err != nil {
				return err
			}
			var until *gojq.Code
			if expr := c.String("until"); expr != "" {
				if until, err = compileJQ(expr); err != nil {
					return err
				}
			}
			logger := newLogger(c)

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			printer := newSnapshotPrinter(out)
			poller := reconciler.NewPoller(address, ledgerSource(c, logger), reconciler.Options{
				Limit:  c.Int("limit"),
				Logger: logger,
			}, reconciler.WithSnapshotHandler(func(h *aptos.AccountHistory) {
				if err := printer.print(h); err != nil {
					logger.Error("failed to print snapshot", "error", err)
				}
				if until != nil {
					matched, err := matchJQ(until, h)
					if err != nil {
						logger.Warn("until expression failed", "error", err)
					}
					if matched {
						cancel()
					}
				}
			}))

			if !out.json {
				fmt.Fprintf(c.App.ErrWriter, "Watching %s every %s (Ctrl-C to stop)\n", address, interval)
			}
			return runWatch(ctx, poller, interval, logger)
		},
	}
}

// runWatch refreshes p immediately and then on a cron schedule until ctx is done.
func runWatch(ctx context.Context, p *reconciler.Poller, interval time.Duration, logger *slog.Logger) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	sched := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	refresh := func() {
		if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, reconciler.ErrRefreshInFlight) {
				logger.Debug("refresh skipped, previous still running", "address", p.Address())
				return
			}
			logger.Warn("refresh failed", "address", p.Address(), "error", err)
		}
	}
	sched.Schedule(cron.Every(interval), cron.FuncJob(refresh))

	refresh()
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

// snapshotPrinter prints snapshots as they arrive, listing only transfers not seen before.
type snapshotPrinter struct {
	out  *output
	seen map[string]struct{}
}

func newSnapshotPrinter(out *output) *snapshotPrinter {
	return &snapshotPrinter{out: out, seen: make(map[string]struct{})}
}

func (sp *snapshotPrinter) print(h *aptos.AccountHistory) error {
	var fresh []aptos.Transfer
	for _, tr := range h.Transfers {
		if _, ok := sp.seen[tr.Hash]; ok {
			continue
		}
		sp.seen[tr.Hash] = struct{}{}
		fresh = append(fresh, tr)
	}

	return sp.out.emit(h, func(w io.Writer) {
		fmt.Fprintf(w, "[%s] %s balance %s APT, %d transfers (%d new)\n",
			h.FetchedAt.Local().Format("15:04:05"), h.Address, aptos.FormatAmount(h.Balance),
			h.Stats.TotalCount, len(fresh))
		if len(fresh) > 0 {
			renderTransfers(w, fresh)
		}
	})
}

type transferCheckOutput struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Payload   aptos.Payload   `json:"payload"`
}

func validateTransferCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate-transfer",
		Usage: "Check a native coin transfer and print the payload a wallet would sign",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Sender address", Required: true},
			&cli.StringFlag{Name: "to", Usage: "Recipient address (0x + 64 hex chars)", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Amount in APT", Required: true},
			&cli.BoolFlag{Name: "via-server", Usage: "Run the check through the aptoswatch server"},
		},
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			amount, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("%w: %q is not a number", aptos.ErrInvalidAmount, c.String("amount"))
			}
			req := aptos.TransferRequest{Sender: c.String("from"), Recipient: c.String("to"), Amount: amount}
			logger := newLogger(c)

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			var result transferCheckOutput
			if c.Bool("via-server") {
				check, err := client.NewClient(c.String("server-url"), nil, logger).ValidateTransfer(ctx, req)
				if err != nil {
					return fmt.Errorf("transfer rejected: %w", err)
				}
				result = transferCheckOutput{req.Sender, req.Recipient, req.Amount, check.Balance, check.Payload}
			} else {
				// Input checks first so bad input never reaches the node
				if err := aptos.ValidateRecipient(req.Recipient); err != nil {
					return err
				}
				if err := aptos.ValidateAmountUnits(req.Amount); err != nil {
					return err
				}
				balance, err := ledgerSource(c, logger).FetchBalance(ctx, req.Sender)
				if err != nil {
					return fmt.Errorf("failed to fetch balance of %s: %w", req.Sender, err)
				}
				if err := aptos.ValidateTransfer(req, balance); err != nil {
					return err
				}
				result = transferCheckOutput{req.Sender, req.Recipient, req.Amount, balance,
					aptos.BuildTransferPayload(req.Recipient, req.Amount)}
			}

			return out.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Transfer of %s APT to %s is valid (balance %s APT)\n",
					aptos.FormatAmount(result.Amount), result.Recipient, aptos.FormatAmount(result.Balance))
				fmt.Fprintf(w, "  Function:  %s\n", result.Payload.Function)
				fmt.Fprintf(w, "  Arguments: %v\n", result.Payload.Arguments)
			})
		},
	}
}
