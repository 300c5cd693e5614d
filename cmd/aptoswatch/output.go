package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/aptoswatch/client"
	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/itchyny/gojq"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"
)

// output renders command results as a table, JSON, or the result of a jq expression.
type output struct {
	w    io.Writer
	json bool
	jq   *gojq.Code
}

func newOutput(c *cli.Context) (*output, error) {
	o := &output{w: c.App.Writer, json: c.Bool("json")}
	if expr := c.String("jq"); expr != "" {
		code, err := compileJQ(expr)
		if err != nil {
			return nil, err
		}
		o.jq = code
		o.json = true
	}
	return o, nil
}

// emit writes v as JSON (or through jq) when requested, otherwise calls human.
func (o *output) emit(v any, human func(io.Writer)) error {
	switch {
	case o.jq != nil:
		results, err := runJQ(o.jq, v)
		if err != nil {
			return err
		}
		for _, r := range results {
			if err := writeJSON(o.w, r); err != nil {
				return err
			}
		}
		return nil
	case o.json:
		return writeJSON(o.w, v)
	default:
		human(o.w)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// runJQ evaluates code against v. gojq only understands plain JSON values, so v is
// round-tripped through encoding/json first.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jq input: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode jq input: %w", err)
	}

	var results []any
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// matchJQ reports whether the first result of code for v is truthy.
func matchJQ(code *gojq.Code, v any) (bool, error) {
	results, err := runJQ(code, v)
	if err != nil {
		return false, err
	}
	return len(results) > 0 && isTruthy(results[0]), nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printHistory(w io.Writer, h *aptos.AccountHistory) {
	fmt.Fprintf(w, "Account:  %s\n", h.Address)
	fmt.Fprintf(w, "Balance:  %s APT\n", aptos.FormatAmount(h.Balance))
	fmt.Fprintf(w, "Sent:     %d   Received: %d\n", h.Stats.SentCount, h.Stats.ReceivedCount)
	if !h.FetchedAt.IsZero() {
		fmt.Fprintf(w, "Fetched:  %s\n", h.FetchedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	if len(h.Transfers) == 0 {
		fmt.Fprintln(w, "No transfers.")
		return
	}
	renderTransfers(w, h.Transfers)
}

func renderTransfers(w io.Writer, transfers []aptos.Transfer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Time", "Direction", "Amount", "Counterparty", "Source", "Hash"})
	for _, tr := range transfers {
		amount := aptos.FormatAmount(tr.Amount)
		if tr.Direction == aptos.DirectionOutgoing {
			amount = "-" + amount
		} else {
			amount = "+" + amount
		}
		t.AppendRow(table.Row{
			tr.OccurredAt.Format("2006-01-02 15:04:05"),
			string(tr.Direction),
			amount,
			shortAddress(tr.Counterparty),
			string(tr.Source),
			shortAddress(tr.Hash),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	t.Render()
}

func renderWatches(w io.Writer, watches []*client.Watch) {
	if len(watches) == 0 {
		fmt.Fprintln(w, "No watched accounts.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Address", "Poll Interval", "Created"})
	for _, wt := range watches {
		t.AppendRow(table.Row{wt.Address, wt.PollInterval.String(), wt.CreatedAt.Format(time.RFC3339)})
	}
	t.Render()
}

// shortAddress abbreviates long hex strings to 0x1234…abcd for tables.
func shortAddress(s string) string {
	if len(s) <= 14 || !strings.HasPrefix(s, "0x") {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
