package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"queryengine/internal/config"
	"queryengine/internal/logging"
	"queryengine/internal/observability"
)

// InitLogger builds the application logger writing to w and installs it as
// the slog default. When OTLP log export is enabled the returned provider
// must be passed to App.AttachLoggerProvider.
func InitLogger(cfg *config.Config, w io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	logCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Writer: w,
	}
	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger.Logger)
	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	otlp := cfg.Observability.GetLogsConfig()
	logExportAttrs(logger, "initializing OpenTelemetry logging", cfg, otlp)
	provider, err := observability.InitLoggerProvider(telemetryConfig(cfg, otlp))
	if err != nil {
		return nil, nil, err
	}

	logCfg.LoggerProvider = provider.Provider()
	logger = logging.NewLogger(logCfg)
	slog.SetDefault(logger.Logger)
	return logger, provider, nil
}

func logExportAttrs(logger *logging.Logger, msg string, cfg *config.Config, otlp config.OTLPConfig) {
	logger.Info(msg,
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	)
}

func telemetryConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

// telemetry holds the instruments handed to the rest of the app. Both are
// nil when metrics are disabled; their Record methods accept a nil receiver.
type telemetry struct {
	engine  *observability.EngineMetrics
	refresh *observability.SchemaRefreshMetrics
}

// startTelemetry starts the meter and tracer providers that are enabled and
// pushes their shutdown onto cleanup. The metrics textfile is written just
// before the meter provider stops.
func startTelemetry(cfg *config.Config, logger *logging.Logger, cleanup *cleanupStack) (telemetry, error) {
	var tel telemetry
	obs := cfg.Observability

	if obs.MetricsEnabled {
		provider, err := observability.InitMeterProvider(telemetryConfig(cfg, config.OTLPConfig{}))
		if err != nil {
			return tel, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
		}
		cleanup.push("meter provider", func(ctx context.Context) error {
			if path := obs.MetricsTextfile; path != "" {
				if err := provider.WriteTextfile(path); err != nil {
					logger.Warn("failed to write metrics textfile", slog.String("path", path), slog.String("error", err.Error()))
				}
			}
			return provider.Shutdown(ctx, logger.Logger)
		})
		if tel.engine, err = observability.InitMetrics(logger.Logger); err != nil {
			return tel, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
		}
		if tel.refresh, err = observability.InitSchemaRefreshMetrics(logger.Logger); err != nil {
			return tel, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
		}
		logger.Debug("OpenTelemetry metrics initialized")
	}

	if obs.TracingEnabled {
		otlp := obs.GetTracesConfig()
		logExportAttrs(logger, "initializing OpenTelemetry tracing", cfg, otlp)
		provider, err := observability.InitTracerProvider(telemetryConfig(cfg, otlp))
		if err != nil {
			return tel, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
		}
		cleanup.push("tracer provider", func(ctx context.Context) error {
			return provider.Shutdown(ctx, logger.Logger)
		})
	}
	return tel, nil
}
