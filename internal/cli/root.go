// Package cli implements the queryengine command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"queryengine/internal/app"
	"queryengine/internal/config"
	"queryengine/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Color      string // "auto" | "always" | "never"
	ConfigFile string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the queryengine CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "queryengine",
		Short: "Resolve collection queries against a schema graph",
		Long: `queryengine validates field selections, filters, sorts and deep clauses
against a collection schema and prints the resolved query plan.

The schema comes from a snapshot file or from live database introspection.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidColorModes, opts.Color) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid color mode %q: must be one of %v", opts.Color, ValidColorModes))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default: ./queryengine.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Color, "color", ColorAuto, "colorize JSON output (auto|always|never)")
	config.DefineFlags(cmd.PersistentFlags())

	// Add subcommands
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// newFormatter builds the formatter a command prints through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) (*OutputFormatter, error) {
	w, color, err := outputWriter(opts.Color, cmd.OutOrStdout())
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    w,
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
		Color:     color,
	}, nil
}

// startApp loads configuration, builds the logger and initializes the
// runtime. The caller must Shutdown the returned App.
func startApp(cmd *cobra.Command, formatter *OutputFormatter) (*app.App, context.Context, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = cmd.Root().Version
	}
	result := cfg.Validate()
	if result.HasErrors() {
		return nil, nil, NewExitError(ExitCommandError, "invalid configuration: "+result.Error())
	}

	logger, loggerProvider, err := app.InitLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize logging", err)
	}
	runID := logging.NewRunID()
	logger = logger.WithRunID(runID)

	for _, w := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", w.Field),
			slog.String("message", w.Message),
			slog.String("hint", w.Hint),
		)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	a.AttachLoggerProvider(loggerProvider)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}

	formatter.VerboseLog("Loaded schema with %d collection(s)", len(a.Graph().Collections()))
	ctx = logging.WithRunIDContext(a.Context(ctx), runID)
	return a, ctx, nil
}

// readInput reads path, or in when path is "-".
func readInput(path string, in io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
