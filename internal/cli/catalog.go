package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"queryengine/internal/catalog"
	"queryengine/internal/planner"
	"queryengine/internal/scalars"
)

// KindOperators lists the filter operators legal on one field type.
type KindOperators struct {
	Kind      string   `json:"kind"`
	Operators []string `json:"operators"`
}

// OperatorListing is the catalog command result.
type OperatorListing []KindOperators

// RenderText prints one line per kind.
func (l OperatorListing) RenderText(w io.Writer) error {
	for _, k := range l {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k.Kind, strings.Join(k.Operators, " ")); err != nil {
			return err
		}
	}
	return nil
}

// GeneratedFilters is the catalog generate command result.
type GeneratedFilters []catalog.GeneratedFilter

// RenderText prints one filter object per line.
func (g GeneratedFilters) RenderText(w io.Writer) error {
	for _, f := range g {
		data, err := json.Marshal(f.Filter)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [kind]",
		Short: "List the filter operators of each field type",
		Long: `List the filter operators legal on each field type, or on one type.

Field types: integer, bigInteger, decimal, float, string, text, csv, hash,
boolean, date, time, dateTime, timestamp, json, uuid, alias.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(rootOpts, args, cmd)
		},
	}

	cmd.AddCommand(newCatalogGenerateCommand(rootOpts))

	return cmd
}

func newCatalogGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <kind> <operator> [values...]",
		Short: "Generate the canonical filters for an operator",
		Long: `Generate the canonical filters that exercise an operator over a set of
known values. Each value is read as JSON and falls back to a plain string,
so 42, true and null keep their types while abc stays a string.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogGenerate(rootOpts, args, cmd)
		},
	}
}

func runCatalog(rootOpts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter, err := newFormatter(rootOpts, cmd)
	if err != nil {
		return err
	}

	kinds := scalars.All()
	if len(args) == 1 {
		kind, err := scalars.ParseKind(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid kind", err)
		}
		kinds = []scalars.Kind{kind}
	}

	cat := catalog.Default()
	listing := make(OperatorListing, 0, len(kinds))
	for _, kind := range kinds {
		ops := cat.Operators(kind)
		keys := make([]string, 0, len(ops))
		for _, op := range ops {
			keys = append(keys, op.Key())
		}
		listing = append(listing, KindOperators{Kind: kind.String(), Operators: keys})
	}
	return formatter.Success(listing)
}

func runCatalogGenerate(rootOpts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter, err := newFormatter(rootOpts, cmd)
	if err != nil {
		return err
	}

	kind, err := scalars.ParseKind(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}
	key := args[1]
	if !strings.HasPrefix(key, "_") {
		key = "_" + key
	}
	op, ok := catalog.ParseOperator(key)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown operator %q", args[1]))
	}

	values := make([]interface{}, 0, len(args)-2)
	for _, raw := range args[2:] {
		values = append(values, parseValueArg(raw))
	}

	filters, err := catalog.Default().GenerateFilter(kind, op, values)
	if err != nil {
		kindOfErr := planner.ClassifyError(err)
		if writeErr := formatter.Error(kindOfErr.Code(), err.Error(), nil); writeErr != nil {
			return writeErr
		}
		return WrapExitError(ExitFailure, "generate failed", err)
	}
	formatter.VerboseLog("Generated %d filter(s) from %d value(s)", len(filters), len(values))
	return formatter.Success(GeneratedFilters(filters))
}

// parseValueArg reads raw as a JSON value, keeping it as a string when it
// is not valid JSON.
func parseValueArg(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
