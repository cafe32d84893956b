package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/clawinfra/evosync/internal/remote"
)

// RemoteCommand handles 'evosync remote' subcommands
func RemoteCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		PrintCommandHelp(out, "evosync", "remote")
		return 1
	}

	switch args[0] {
	case "stats":
		return remoteStats(args[1:], out)
	case "queue":
		return remoteQueue(args[1:], out)
	case "retry":
		return remoteRetry(args[1:], out)
	case "clear":
		return remoteClear(args[1:], out)
	case "help", "--help", "-h":
		PrintCommandHelp(out, "evosync", "remote")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown remote subcommand: %s\n", args[0])
		return 1
	}
}

func remoteStats(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync remote stats", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var st remote.Stats
	raw, err := opts.client().Do(context.Background(), http.MethodGet, "/api/remote/stats", nil, &st)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	fmt.Fprintf(out, "Remote: %d total, %d pending, %d syncing, %d failed, %d completed\n",
		st.Total, st.Pending, st.Syncing, st.Failed, st.Completed)
	if len(st.RecentActivity) > 0 {
		fmt.Fprintf(out, "Recent activity: %d entries (use --json to view)\n", len(st.RecentActivity))
	}
	return 0
}

func remoteQueue(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync remote queue", flag.ContinueOnError)
	opts := addClientFlags(fs)
	status := fs.String("status", "", "Filter by status")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := "/api/remote/queue"
	if *status != "" {
		path += "?" + url.Values{"status": {*status}}.Encode()
	}
	var resp struct {
		Items []remote.Item `json:"items"`
	}
	raw, err := opts.client().Do(context.Background(), http.MethodGet, path, nil, &resp)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTABLE\tRECORD\tOP\tSTATUS\tATTEMPTS\tERROR")
	for _, it := range resp.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.TableName, it.RecordID, it.Operation, it.Status, it.Attempts, it.ErrorMessage)
	}
	w.Flush()
	return 0
}

func remoteRetry(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync remote retry", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	c := opts.client()
	if id := fs.Arg(0); id != "" {
		if _, err := c.Do(context.Background(), http.MethodPost, "/api/remote/retry/"+url.PathEscape(id), nil, nil); err != nil {
			return fail(err)
		}
		fmt.Fprintf(out, "✓ Remote item %s queued for retry\n", id)
		return 0
	}

	var resp map[string]int
	if _, err := c.Do(context.Background(), http.MethodPost, "/api/remote/retry", nil, &resp); err != nil {
		return fail(err)
	}
	fmt.Fprintf(out, "✓ %d remote item(s) queued for retry\n", resp["count"])
	return 0
}

func remoteClear(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync remote clear", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var resp map[string]int
	if _, err := opts.client().Do(context.Background(), http.MethodPost, "/api/remote/clear", nil, &resp); err != nil {
		return fail(err)
	}
	fmt.Fprintf(out, "✓ Cleared %d completed remote item(s)\n", resp["count"])
	return 0
}
