package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"queryengine/internal/app"
	"queryengine/internal/logging"
	"queryengine/internal/planner"
)

// CheckEntry is one query of a batch file.
type CheckEntry struct {
	Key        string        `json:"key,omitempty"`
	Collection string        `json:"collection"`
	Query      planner.Query `json:"query"`
}

// CheckResult is the outcome of one batch entry.
type CheckResult struct {
	Key        string                `json:"key"`
	Collection string                `json:"collection"`
	OK         bool                  `json:"ok"`
	Depth      int                   `json:"depth,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
	Error      *planner.PayloadError `json:"error,omitempty"`
}

// CheckReport lists batch results in input order.
type CheckReport struct {
	Results []CheckResult `json:"results"`
	Failed  int           `json:"failed"`
}

// RenderText prints one line per entry.
func (r CheckReport) RenderText(w io.Writer) error {
	for _, res := range r.Results {
		if res.OK {
			if _, err := fmt.Fprintf(w, "ok   %s %s depth=%d limit=%d\n", res.Key, res.Collection, res.Depth, res.Limit); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "FAIL %s %s %s: %s\n", res.Key, res.Collection, res.Error.Extensions.Kind, res.Error.Message); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d checked, %d failed\n", len(r.Results), r.Failed)
	return err
}

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	Concurrency int
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check <batch.json|->",
		Short: "Resolve a batch of queries and report which are rejected",
		Long: `Resolve every entry of a batch file concurrently.

The batch is a JSON array of {"key", "collection", "query"} objects. Results
are printed in input order; the command exits with status 1 when any entry
is rejected.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", runtime.GOMAXPROCS(0), "maximum queries resolved at once")

	return cmd
}

func runCheck(rootOpts *RootOptions, opts *CheckOptions, path string, cmd *cobra.Command) error {
	formatter, err := newFormatter(rootOpts, cmd)
	if err != nil {
		return err
	}

	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}
	var entries []CheckEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return WrapExitError(ExitCommandError, "invalid batch file", err)
	}

	a, ctx, err := startApp(cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	report, err := checkBatch(ctx, a, entries, opts.Concurrency)
	if err != nil {
		return WrapExitError(ExitCommandError, "check interrupted", err)
	}
	if err := formatter.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d queries rejected", report.Failed, len(report.Results)))
	}
	return nil
}

// checkBatch resolves entries with at most concurrency in flight. Rejected
// queries are results, not errors; only cancellation stops the batch.
func checkBatch(ctx context.Context, a *app.App, entries []CheckEntry, concurrency int) (CheckReport, error) {
	results := make([]CheckResult, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := entry.Key
			if key == "" {
				key = fmt.Sprintf("#%d", i)
			}
			res := CheckResult{Key: key, Collection: entry.Collection}
			entryCtx := logging.ContextWithAttrs(ctx, slog.String("entry", key))
			plan, err := resolveQuery(entryCtx, a, entry.Collection, entry.Query)
			if err != nil {
				payload := planner.ErrorPayload(err)
				res.Error = &payload.Errors[0]
				logging.FromContext(entryCtx).WarnContext(entryCtx, "query rejected",
					slog.String("collection", entry.Collection),
					slog.String("kind", res.Error.Extensions.Kind),
				)
			} else {
				res.OK = true
				res.Depth = plan.Depth
				res.Limit = plan.Limit
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CheckReport{}, err
	}

	report := CheckReport{Results: results}
	for _, res := range results {
		if !res.OK {
			report.Failed++
		}
	}
	return report, nil
}
