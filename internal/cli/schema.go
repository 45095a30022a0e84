package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"queryengine/internal/app"
	"queryengine/internal/logging"
	"queryengine/internal/schema"
)

// SchemaInfo summarizes the loaded schema.
type SchemaInfo struct {
	Source      string    `json:"source"`
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"builtAt"`
	Collections []string  `json:"collections"`
	Relations   int       `json:"relations"`
}

// RenderText prints the summary as key: value lines.
func (s SchemaInfo) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "source: %s\nfingerprint: %s\ncollections: %d\nrelations: %d\n",
		s.Source, s.Fingerprint, len(s.Collections), s.Relations)
	return err
}

func schemaInfo(a *app.App) SchemaInfo {
	snapshot := a.Schema().CurrentSnapshot()
	return SchemaInfo{
		Source:      a.Config().Schema.Source,
		Fingerprint: snapshot.Fingerprint,
		BuiltAt:     snapshot.BuiltAt,
		Collections: snapshot.Graph.Collections(),
		Relations:   len(snapshot.Graph.Relations()),
	}
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect, convert and watch the collection schema",
	}

	cmd.AddCommand(newSchemaInfoCommand(rootOpts))
	cmd.AddCommand(newSchemaDumpCommand(rootOpts))
	cmd.AddCommand(newSchemaWatchCommand(rootOpts))

	return cmd
}

func newSchemaInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info",
		Short:         "Print the schema source, fingerprint and size",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, _, err := startApp(cmd, formatter)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			return formatter.Success(schemaInfo(a))
		},
	}
}

func newSchemaDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the loaded schema as a snapshot file",
		Long: `Load the schema from the configured source and write it as a snapshot.

The snapshot format follows the --out extension: .yaml, .yml, .json, .msgpack
or .msgpack.zst. Without --out the snapshot is printed to stdout as YAML
(text format) or JSON (json format). A database-backed dump is the usual
way to produce the file a file-backed deployment loads.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, _, err := startApp(cmd, formatter)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			def := a.Schema().CurrentSnapshot().Definition
			if out == "" || out == "-" {
				format := schema.FormatYAML
				if rootOpts.Format == "json" {
					format = schema.FormatJSON
				}
				data, err := schema.Encode(def, format)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to encode schema", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := schema.WriteFile(out, def); err != nil {
				return WrapExitError(ExitFailure, "failed to write schema", err)
			}
			formatter.VerboseLog("Wrote %d collection(s) to %s", len(def.Collections), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "snapshot path; the extension selects the format")

	return cmd
}

func newSchemaWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the schema source and rebuild on change until interrupted",
		Long: `Poll the schema source with the configured refresh intervals and rebuild
the graph whenever its fingerprint changes. Runs until SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, ctx, err := startApp(cmd, formatter)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager := a.Schema()
			logger := logging.FromContext(ctx)
			logger.Info("watching schema",
				"source", a.Config().Schema.Source,
				"fingerprint", manager.CurrentSnapshot().Fingerprint,
			)
			manager.Start(ctx)

			<-ctx.Done()
			waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := manager.Wait(waitCtx); err != nil {
				logger.Warn("schema refresh did not stop in time", "error", err.Error())
			}

			return formatter.Success(schemaInfo(a))
		},
	}
}
