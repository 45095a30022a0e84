package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"queryengine/internal/logging"
	"queryengine/internal/observability"
	"queryengine/internal/planner"
	"queryengine/internal/resolver"
)

// VerifyReport is the verify command result.
type VerifyReport struct {
	Collection string                   `json:"collection"`
	Rows       []map[string]interface{} `json:"rows"`
	Mismatches []resolver.Mismatch      `json:"mismatches,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <collection> <query.json> <rows.json|->",
		Short: "Shape result rows by a query and check them against its filter",
		Long: `Resolve a query, shape the given rows by its field tree and check every
row against its filter.

Rows are a JSON array of objects keyed by field name, with relations expanded
in place. The shaped rows are printed together with any row the filter
rejects; the command exits with status 1 when a row does not match.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runVerify(rootOpts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter, err := newFormatter(rootOpts, cmd)
	if err != nil {
		return err
	}
	collection := args[0]

	queryData, err := readInput(args[1], cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read query", err)
	}
	rowsData, err := readInput(args[2], cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rows", err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(rowsData, &rows); err != nil {
		return WrapExitError(ExitCommandError, "invalid rows document", err)
	}

	a, ctx, err := startApp(cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	var q planner.Query
	if err := json.Unmarshal(queryData, &q); err != nil {
		return reportResolveError(ctx, formatter, collection, asQueryError(err))
	}
	plan, err := resolveQuery(ctx, a, collection, q)
	if err != nil {
		return reportResolveError(ctx, formatter, collection, err)
	}

	shaped, err := resolver.Project(ctx, plan, rows)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to project rows", err)
	}

	report := VerifyReport{Collection: collection, Rows: shaped}
	verifyErr := resolver.VerifyRows(ctx, plan, rows)
	var mismatch *resolver.MismatchError
	switch {
	case verifyErr == nil:
	case errors.As(verifyErr, &mismatch):
		report.Mismatches = mismatch.Mismatches
	default:
		return WrapExitError(ExitFailure, "failed to verify rows", verifyErr)
	}

	observability.EngineMetricsFromContext(ctx).RecordProjection(ctx, int64(len(rows)), int64(len(report.Mismatches)), collection)
	logging.FromContext(ctx).Debug("rows verified",
		slog.String("collection", collection),
		slog.Int("rows", len(rows)),
		slog.Int("mismatches", len(report.Mismatches)),
	)

	if err := formatter.Success(report); err != nil {
		return err
	}
	if len(report.Mismatches) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d rows do not match the filter", len(report.Mismatches), len(rows)))
	}
	return nil
}
