package config

import (
	"time"

	"queryengine/internal/naming"
	"queryengine/internal/planner"
	"queryengine/internal/schema"
	"queryengine/internal/schemafilter"
)

// Config holds the application configuration.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	SchemaFilters schemafilter.Config `mapstructure:"schema_filters"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// EngineConfig bounds what a single query may ask for.
type EngineConfig struct {
	MaxRelationalDepth int `mapstructure:"max_relational_depth"`
	// DefaultLimit applies when a query or deep clause sets no limit. -1 means unlimited.
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
	MaxRows      int `mapstructure:"max_rows"`
}

// Limits converts the engine settings into planner limits.
func (e EngineConfig) Limits() planner.Limits {
	return planner.Limits{
		MaxRelationalDepth: e.MaxRelationalDepth,
		DefaultLimit:       e.DefaultLimit,
		MaxLimit:           e.MaxLimit,
		MaxRows:            e.MaxRows,
	}
}

// SchemaConfig selects where the collection graph comes from.
type SchemaConfig struct {
	// Source is "file" (a snapshot) or "database" (INFORMATION_SCHEMA introspection).
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
	// Singletons lists collections treated as single-row regardless of table comments.
	Singletons []string `mapstructure:"singletons"`
	// Relations are declared on top of introspected foreign keys. They carry
	// the relations a database cannot express, such as many-to-any.
	Relations []RelationConfig `mapstructure:"relations"`

	RefreshMinInterval time.Duration `mapstructure:"refresh_min_interval"`
	RefreshMaxInterval time.Duration `mapstructure:"refresh_max_interval"`
}

// RelationConfig is one configured relation row.
type RelationConfig struct {
	Collection            string   `mapstructure:"collection"`
	Field                 string   `mapstructure:"field"`
	RelatedCollection     string   `mapstructure:"related_collection"`
	OneField              string   `mapstructure:"one_field"`
	JunctionField         string   `mapstructure:"junction_field"`
	OneCollectionField    string   `mapstructure:"one_collection_field"`
	OneAllowedCollections []string `mapstructure:"one_allowed_collections"`
}

// RelationDefs converts the configured relations into schema relation rows.
func (s SchemaConfig) RelationDefs() []schema.RelationDef {
	if len(s.Relations) == 0 {
		return nil
	}
	defs := make([]schema.RelationDef, 0, len(s.Relations))
	for _, r := range s.Relations {
		defs = append(defs, schema.RelationDef{
			Collection:            r.Collection,
			Field:                 r.Field,
			RelatedCollection:     r.RelatedCollection,
			OneField:              r.OneField,
			JunctionField:         r.JunctionField,
			OneCollectionField:    r.OneCollectionField,
			OneAllowedCollections: r.OneAllowedCollections,
		})
	}
	return defs
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql Data Source Name.
	// Format: user:password@tcp(host:port)/database?params
	// When set, overrides Host/Port/User/Password/Database fields.
	// Configured via "dsn" in YAML or QENGINE_DATABASE_DSN env var.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Discrete connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout bounds the initial ping.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsTextfile  string        `mapstructure:"metrics_textfile"` // Prometheus text exposition written on exit
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays signal-specific settings over the global ones.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// A present override block always decides Insecure.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}
