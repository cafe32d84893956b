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
	"time"

	"github.com/clawinfra/evosync/internal/scheduler"
)

// ScheduleCommand handles 'evosync schedule' subcommands
func ScheduleCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		PrintCommandHelp(out, "evosync", "schedule")
		return 1
	}

	switch args[0] {
	case "list":
		return scheduleList(args[1:], out)
	case "run":
		return scheduleRun(args[1:], out)
	case "help", "--help", "-h":
		PrintCommandHelp(out, "evosync", "schedule")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown schedule subcommand: %s\n", args[0])
		return 1
	}
}

func scheduleList(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync schedule list", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var resp struct {
		Enabled bool            `json:"enabled"`
		Stats   scheduler.Stats `json:"stats"`
		Jobs    []scheduler.Job `json:"jobs"`
	}
	raw, err := opts.client().Do(context.Background(), http.MethodGet, "/api/scheduler", nil, &resp)
	if err != nil {
		return fail(err)
	}
	if opts.json {
		printRaw(out, raw)
		return 0
	}
	if !resp.Enabled {
		fmt.Fprintln(out, "Scheduler is disabled")
		return 0
	}
	if len(resp.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs configured")
		return 0
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tRUNS\tERRORS\tNEXT RUN")
	for _, job := range resp.Jobs {
		enabled := "yes"
		if !job.Enabled {
			enabled = "no"
		}
		next := "-"
		if !job.State.NextRunAt.IsZero() {
			next = job.State.NextRunAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			job.ID, job.Name, formatSchedule(job.Schedule), enabled,
			job.State.RunCount, job.State.ErrorCount, next)
	}
	w.Flush()
	return 0
}

func scheduleRun(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync schedule run", flag.ContinueOnError)
	opts := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id := fs.Arg(0)
	if id == "" {
		fmt.Fprintln(os.Stderr, "Error: job ID required")
		fmt.Fprintln(os.Stderr, "Usage: evosync schedule run <job-id>")
		return 1
	}

	path := "/api/scheduler/jobs/" + url.PathEscape(id) + "/run"
	if _, err := opts.client().Do(context.Background(), http.MethodPost, path, nil, nil); err != nil {
		return fail(err)
	}
	fmt.Fprintf(out, "✓ Job '%s' executed\n", id)
	return 0
}

func formatSchedule(s scheduler.ScheduleConfig) string {
	switch s.Kind {
	case scheduler.KindInterval:
		return fmt.Sprintf("every %s", time.Duration(s.IntervalMs)*time.Millisecond)
	case scheduler.KindCron:
		if s.Timezone != "" {
			return fmt.Sprintf("cron %s (%s)", s.Expr, s.Timezone)
		}
		return "cron " + s.Expr
	default:
		return s.Kind
	}
}
