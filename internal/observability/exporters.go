package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"

	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
)

// exportTarget is an OTLPExporterConfig resolved once and shared by the
// span and log exporters.
type exportTarget struct {
	protocol string
	endpoint string
	isURL    bool
	tls      *tls.Config // nil when insecure
	headers  map[string]string
	timeout  time.Duration
	gzip     bool
	// retryBudget is zero when retries are off.
	retryBudget time.Duration
}

func resolveExportTarget(cfg OTLPExporterConfig) (exportTarget, error) {
	t := exportTarget{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		gzip:     strings.EqualFold(cfg.Compression, "gzip"),
	}
	t.isURL = strings.HasPrefix(t.endpoint, "http://") || strings.HasPrefix(t.endpoint, "https://")

	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "", protocolGRPC:
		t.protocol = protocolGRPC
	case "http", protocolHTTP:
		t.protocol = protocolHTTP
	default:
		return exportTarget{}, fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", cfg.Protocol)
	}

	if !cfg.Insecure {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return exportTarget{}, err
		}
		t.tls = tlsConfig
	}
	if cfg.RetryEnabled && cfg.RetryMaxAttempts > 0 {
		t.retryBudget = time.Duration(cfg.RetryMaxAttempts) * retryMaxInterval
	}
	return t, nil
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
			return nil, fmt.Errorf("OTLP TLS client cert and key must both be set")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func newSpanExporter(ctx context.Context, t exportTarget) (sdktrace.SpanExporter, error) {
	if t.protocol == protocolHTTP {
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(t.headers)}
		if t.isURL {
			opts = append(opts, otlptracehttp.WithEndpointURL(t.endpoint))
		} else if t.endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(t.endpoint))
		}
		if t.tls == nil {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(t.tls))
		}
		if t.timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		if t.retryBudget > 0 {
			opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
				Enabled:         true,
				InitialInterval: retryInitialInterval,
				MaxInterval:     retryMaxInterval,
				MaxElapsedTime:  t.retryBudget,
			}))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithHeaders(t.headers)}
	if t.isURL {
		opts = append(opts, otlptracegrpc.WithEndpointURL(t.endpoint))
	} else if t.endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(t.endpoint))
	}
	if t.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	if t.timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(t.timeout))
	}
	if t.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if t.retryBudget > 0 {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  t.retryBudget,
		}))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newLogExporter(ctx context.Context, t exportTarget) (log.Exporter, error) {
	if t.protocol == protocolHTTP {
		opts := []otlploghttp.Option{otlploghttp.WithHeaders(t.headers)}
		if t.isURL {
			opts = append(opts, otlploghttp.WithEndpointURL(t.endpoint))
		} else if t.endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpoint(t.endpoint))
		}
		if t.tls == nil {
			opts = append(opts, otlploghttp.WithInsecure())
		} else {
			opts = append(opts, otlploghttp.WithTLSClientConfig(t.tls))
		}
		if t.timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
		}
		if t.retryBudget > 0 {
			opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
				Enabled:         true,
				InitialInterval: retryInitialInterval,
				MaxInterval:     retryMaxInterval,
				MaxElapsedTime:  t.retryBudget,
			}))
		}
		return otlploghttp.New(ctx, opts...)
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithHeaders(t.headers)}
	if t.isURL {
		opts = append(opts, otlploggrpc.WithEndpointURL(t.endpoint))
	} else if t.endpoint != "" {
		opts = append(opts, otlploggrpc.WithEndpoint(t.endpoint))
	}
	if t.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	if t.timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(t.timeout))
	}
	if t.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if t.retryBudget > 0 {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  t.retryBudget,
		}))
	}
	return otlploggrpc.New(ctx, opts...)
}
