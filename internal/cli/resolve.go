package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"queryengine/internal/app"
	"queryengine/internal/gqlrequest"
	"queryengine/internal/logging"
	"queryengine/internal/observability"
	"queryengine/internal/planner"
)

const tracerName = "queryengine/cli"

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	GraphQL       bool
	OperationName string
	Variables     string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve <collection> <query.json|->",
		Short: "Resolve a query and print its plan",
		Long: `Resolve a query document against the schema and print the resolved plan.

The query is a JSON object with fields, filter, sort, limit, offset, page,
search, alias, deep, aggregate and groupBy. Use "-" to read it from stdin.

With --graphql the single argument is a GraphQL document instead; every root
field is resolved against the collection it names and the plans are printed
keyed by response key.

A rejected query prints the error document and exits with status 1.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.GraphQL {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.GraphQL, "graphql", false, "read a GraphQL document instead of a JSON query")
	cmd.Flags().StringVar(&opts.OperationName, "operation", "", "operation to run when the document has several")
	cmd.Flags().StringVar(&opts.Variables, "variables", "", "JSON object of GraphQL variables")

	return cmd
}

func runResolve(rootOpts *RootOptions, opts *ResolveOptions, args []string, cmd *cobra.Command) error {
	formatter, err := newFormatter(rootOpts, cmd)
	if err != nil {
		return err
	}

	a, ctx, err := startApp(cmd, formatter)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	if opts.GraphQL {
		return runResolveGraphQL(ctx, a, opts, args[0], cmd, formatter)
	}

	collection := args[0]
	data, err := readInput(args[1], cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read query", err)
	}
	var q planner.Query
	if err := json.Unmarshal(data, &q); err != nil {
		return reportResolveError(ctx, formatter, collection, asQueryError(err))
	}

	plan, err := resolveQuery(ctx, a, collection, q)
	if err != nil {
		return reportResolveError(ctx, formatter, collection, err)
	}
	return formatter.Document(plan)
}

func runResolveGraphQL(ctx context.Context, a *app.App, opts *ResolveOptions, path string, cmd *cobra.Command, formatter *OutputFormatter) error {
	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read document", err)
	}

	// A file holding {query, operationName, variables} is accepted as well as a
	// bare document. Shorthand documents also open with "{", so anything that
	// is not a JSON payload is parsed as GraphQL.
	env, err := gqlrequest.DecodeEnvelope(bytes.NewReader(data), "")
	if err != nil {
		env, err = gqlrequest.DecodeEnvelope(bytes.NewReader(data), "application/graphql")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read document", err)
		}
	}
	if opts.OperationName != "" {
		env.OperationName = opts.OperationName
	}
	if strings.TrimSpace(opts.Variables) != "" {
		env.VariablesRaw = json.RawMessage(opts.Variables)
	}
	variables, err := env.Variables()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --variables", err)
	}

	analysis := gqlrequest.Analyze(env)
	if err := analysis.Err(); err != nil {
		return reportResolveError(ctx, formatter, "", asQueryError(err))
	}
	logging.FromContext(ctx).DebugContext(ctx, "graphql document analyzed",
		slog.String("operation", analysis.OperationName),
		slog.String("operation_hash", analysis.OperationHash),
		slog.Int("field_count", analysis.FieldCount),
		slog.Int("selection_depth", analysis.SelectionDepth),
	)

	queries, err := gqlrequest.ToQueries(a.Graph(), analysis, variables)
	if err != nil {
		return reportResolveError(ctx, formatter, "", asQueryError(err))
	}
	formatter.VerboseLog("Resolving %d root field(s) over %v", len(queries), gqlrequest.Collections(queries))

	plans := make(map[string]*planner.Plan, len(queries))
	for _, cq := range queries {
		fieldCtx := logging.ContextWithAttrs(ctx, slog.String("response_key", cq.Key))
		plan, err := resolveQuery(fieldCtx, a, cq.Collection, cq.Query)
		if err != nil {
			return reportResolveError(fieldCtx, formatter, cq.Collection, fmt.Errorf("%s: %w", cq.Key, err))
		}
		plans[cq.Key] = plan
	}
	return formatter.Document(plans)
}

// resolveQuery resolves one query, recording metrics, a span and a log line
// for the outcome.
func resolveQuery(ctx context.Context, a *app.App, collection string, q planner.Query) (*planner.Plan, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "queryengine.resolve",
		trace.WithAttributes(attribute.String("queryengine.collection", collection)),
	)
	defer span.End()

	started := time.Now()
	plan, err := planner.Resolve(a.Graph(), collection, q, a.Limits())
	duration := time.Since(started)

	metrics := observability.EngineMetricsFromContext(ctx)
	if err != nil {
		kind := planner.ClassifyError(err)
		metrics.RecordResolution(ctx, duration, collection, kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		return nil, err
	}

	metrics.RecordResolution(ctx, duration, collection, "")
	metrics.RecordDepth(ctx, int64(plan.Depth), collection)
	span.SetAttributes(
		attribute.Int("queryengine.depth", plan.Depth),
		attribute.Int("queryengine.limit", plan.Limit),
	)
	logging.FromContext(ctx).DebugContext(ctx, "query resolved",
		slog.String("collection", collection),
		slog.Int("depth", plan.Depth),
		slog.Duration("duration", duration),
	)
	return plan, nil
}

// reportResolveError prints the error document for err and returns the
// matching exit error. Unimplemented operators are logged as engine faults.
func reportResolveError(ctx context.Context, formatter *OutputFormatter, collection string, err error) error {
	kind := planner.ClassifyError(err)
	logger := logging.FromContext(ctx)
	attrs := []any{
		slog.String("collection", collection),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	}
	if kind.IsUserError() {
		logger.WarnContext(ctx, "query rejected", attrs...)
	} else {
		logger.ErrorContext(ctx, "query resolution failed", attrs...)
	}

	if writeErr := formatter.Document(planner.ErrorPayload(err)); writeErr != nil {
		return writeErr
	}
	return WrapExitError(ExitFailure, "query rejected", err)
}

// asQueryError marks decoding and conversion failures as malformed queries
// unless they already carry a planner classification.
func asQueryError(err error) error {
	if planner.ClassifyError(err) != planner.KindUnknown {
		return err
	}
	return &planner.InvalidQueryError{Message: err.Error()}
}
