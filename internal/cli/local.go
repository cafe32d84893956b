package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/clawinfra/evosync/internal/api"
	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/queue"
)

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// StatusCommand handles 'evosync status'
func StatusCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync status", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var st api.StatusResponse
	raw, err := opts.client().Do(context.Background(), http.MethodGet, "/api/status", nil, &st)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}

	online := "offline"
	if st.Sync.IsOnline {
		online = "online"
	}
	lastSync := "never"
	if st.Sync.LastSync != nil {
		lastSync = st.Sync.LastSync.Local().Format(time.RFC3339)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Uptime:\t%s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "Network:\t%s\n", online)
	fmt.Fprintf(w, "Syncing:\t%t\n", st.Sync.IsSyncing)
	fmt.Fprintf(w, "Auto sync:\t%t\n", st.Sync.AutoSyncEnabled)
	fmt.Fprintf(w, "Last sync:\t%s\n", lastSync)
	fmt.Fprintf(w, "Queue:\t%d total, %d pending, %d syncing, %d failed, %d completed\n",
		st.Sync.Local.Total, st.Sync.Local.Pending, st.Sync.Local.Syncing,
		st.Sync.Local.Failed, st.Sync.Local.Completed)
	w.Flush()
	return 0
}

// EnqueueCommand handles 'evosync enqueue'
func EnqueueCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync enqueue", flag.ContinueOnError)
	opts := addClientFlags(fs)
	table := fs.String("table", "", "Table name")
	record := fs.String("record", "", "Record id")
	op := fs.String("op", "", "Operation: create, update or delete")
	data := fs.String("data", "", "JSON payload")
	priority := fs.Int("priority", 0, "Higher drains first")
	maxAttempts := fs.Int("max-attempts", 0, "Override the default attempt limit")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	n := queue.NewItem{
		TableName:   *table,
		RecordID:    *record,
		Operation:   queue.Operation(*op),
		Priority:    *priority,
		MaxAttempts: *maxAttempts,
	}
	if *data != "" {
		n.Data = json.RawMessage(*data)
	}
	if err := n.Validate(); err != nil {
		return fail(err)
	}

	var it queue.Item
	raw, err := opts.client().Do(context.Background(), http.MethodPost, "/api/queue", n, &it)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	fmt.Fprintf(out, "✓ Enqueued %s (%s %s/%s)\n", it.ID, it.Operation, it.TableName, it.RecordID)
	return 0
}

// QueueCommand handles 'evosync queue'
func QueueCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync queue", flag.ContinueOnError)
	opts := addClientFlags(fs)
	status := fs.String("status", "", "Filter: pending, syncing, failed or completed")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := "/api/queue"
	if *status != "" {
		path += "?" + url.Values{"status": {*status}}.Encode()
	}
	var resp struct {
		Items []queue.Item `json:"items"`
		Count int          `json:"count"`
	}
	raw, err := opts.client().Do(context.Background(), http.MethodGet, path, nil, &resp)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	if resp.Count == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return 0
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTABLE\tRECORD\tOP\tPRIO\tSTATUS\tATTEMPTS\tERROR")
	for _, it := range resp.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			it.ID, it.TableName, it.RecordID, it.Operation, it.Priority,
			it.Status, it.Attempts, it.MaxAttempts, it.ErrorMessage)
	}
	w.Flush()
	return 0
}

// SyncCommand handles 'evosync sync'
func SyncCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync sync", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var res cloudsync.Result
	raw, err := opts.client().Do(context.Background(), http.MethodPost, "/api/sync", nil, &res)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
	} else {
		printResult(out, res)
	}
	if !res.Success {
		return 2
	}
	return 0
}

// RetryCommand handles 'evosync retry'
func RetryCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync retry", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var resp struct {
		Reset  int              `json:"reset"`
		Result cloudsync.Result `json:"result"`
	}
	raw, err := opts.client().Do(context.Background(), http.MethodPost, "/api/sync/retry", nil, &resp)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	fmt.Fprintf(out, "Reset %d failed item(s)\n", resp.Reset)
	printResult(out, resp.Result)
	return 0
}

// ClearCommand handles 'evosync clear'
func ClearCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync clear", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var resp map[string]int
	raw, err := opts.client().Do(context.Background(), http.MethodPost, "/api/sync/clear", nil, &resp)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	fmt.Fprintf(out, "✓ Removed %d completed item(s)\n", resp["removed"])
	return 0
}

// AutoCommand handles 'evosync auto [on|off]'
func AutoCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync auto", flag.ContinueOnError)
	opts := addClientFlags(fs)
	interval := fs.Float64("interval", 0, "Set the periodic interval in minutes")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	c := opts.client()

	if *interval > 0 {
		if _, err := c.Do(ctx, http.MethodPut, "/api/sync/interval", map[string]float64{"minutes": *interval}, nil); err != nil {
			return fail(err)
		}
		fmt.Fprintf(out, "✓ Interval set to %g minute(s)\n", *interval)
	}

	var resp map[string]bool
	var err error
	switch fs.Arg(0) {
	case "":
		_, err = c.Do(ctx, http.MethodGet, "/api/sync/auto", nil, &resp)
	case "on", "off":
		_, err = c.Do(ctx, http.MethodPut, "/api/sync/auto", map[string]bool{"enabled": fs.Arg(0) == "on"}, &resp)
	default:
		fmt.Fprintf(os.Stderr, "Unknown argument: %s (use on or off)\n", fs.Arg(0))
		return 1
	}
	if err != nil {
		return fail(err)
	}

	state := "off"
	if resp["enabled"] {
		state = "on"
	}
	fmt.Fprintf(out, "Auto sync: %s\n", state)
	return 0
}

func printResult(out io.Writer, res cloudsync.Result) {
	mark := "✓"
	if !res.Success {
		mark = "✗"
	}
	fmt.Fprintf(out, "%s Synced %d, failed %d\n", mark, res.Synced, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}
