package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
	"strings"

	"queryengine/internal/naming"
	"queryengine/internal/schema"
	"queryengine/internal/schemafilter"
)

// ValidationError is a setting that prevents the engine from starting.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint == "" {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
}

// ValidationWarning is a setting that is accepted but probably not intended.
type ValidationWarning ValidationError

// ValidationResult collects every problem found by Validate.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors reports whether any error was recorded.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// Error joins all errors with "; ", or returns "" when there are none.
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Validate checks every section. Database settings are only checked when
// the schema is read from a database. A valid DSN settles Database.Database.
func (c *Config) Validate() *ValidationResult {
	r := &ValidationResult{}
	c.Engine.validate(r)
	c.Schema.validate(r)
	if c.Schema.Source == SourceDatabase {
		c.Database.validate(r)
	}
	c.Observability.validate(r)
	validateSchemaFilters(r, c.SchemaFilters)
	validateOverrides(r, "naming.plural_overrides", c.Naming.PluralOverrides)
	validateOverrides(r, "naming.singular_overrides", c.Naming.SingularOverrides)
	return r
}

func (e *EngineConfig) validate(r *ValidationResult) {
	if e.MaxRelationalDepth < 1 {
		r.fail("engine.max_relational_depth", "", "max_relational_depth must be at least 1, got %d", e.MaxRelationalDepth)
	}
	if e.DefaultLimit == 0 || e.DefaultLimit < -1 {
		r.fail("engine.default_limit", "-1 disables the default limit", "default_limit must be positive or -1, got %d", e.DefaultLimit)
	}
	if e.MaxLimit < 0 {
		r.fail("engine.max_limit", "", "max_limit cannot be negative")
	}
	if e.MaxRows < 0 {
		r.fail("engine.max_rows", "", "max_rows cannot be negative")
	}
	if e.MaxLimit > 0 && e.DefaultLimit > e.MaxLimit {
		r.warn("engine.default_limit", "max_limit only caps explicit limits", "default_limit is greater than max_limit")
	}
}

func (s *SchemaConfig) validate(r *ValidationResult) {
	switch s.Source {
	case SourceDatabase:
	case SourceFile:
		if strings.TrimSpace(s.File) == "" {
			r.fail("schema.file", "", "schema.file is required when schema.source is file")
		} else if _, err := schema.FormatFromPath(s.File); err != nil {
			r.fail("schema.file", "use a .yaml, .yml, .json, .msgpack or .msgpack.zst extension", "%v", err)
		}
	default:
		r.fail("schema.source", "valid values are: file, database", "invalid schema source %q", s.Source)
	}

	for i, name := range s.Singletons {
		if strings.TrimSpace(name) == "" {
			r.fail(fmt.Sprintf("schema.singletons[%d]", i), "", "collection name cannot be empty")
		}
	}

	for i, rel := range s.Relations {
		field := fmt.Sprintf("schema.relations[%d]", i)
		switch {
		case strings.TrimSpace(rel.Collection) == "" || strings.TrimSpace(rel.Field) == "":
			r.fail(field, "", "collection and field are required")
		case rel.RelatedCollection == "" && rel.OneCollectionField == "":
			r.fail(field, "", "relation %s.%s needs related_collection or one_collection_field", rel.Collection, rel.Field)
		case rel.OneCollectionField != "" && len(rel.OneAllowedCollections) == 0:
			r.warn(field, "", "many-to-any relation %s.%s allows no collections", rel.Collection, rel.Field)
		}
	}

	if s.RefreshMinInterval < 0 || s.RefreshMaxInterval < 0 {
		r.fail("schema.refresh_min_interval", "", "refresh intervals cannot be negative")
	} else if s.RefreshMaxInterval > 0 && s.RefreshMinInterval > s.RefreshMaxInterval {
		r.warn("schema.refresh_max_interval", "the minimum interval will be used", "refresh_max_interval is less than refresh_min_interval")
	}
}

func (d *DatabaseConfig) validate(r *ValidationResult) {
	if strings.TrimSpace(d.ConnectionString) == "" && (d.Port < 1 || d.Port > 65535) {
		r.fail("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
	}
	if d.Pool.MaxOpen < 0 {
		r.fail("database.pool.max_open", "", "max_open cannot be negative")
	}
	if d.Pool.MaxIdle < 0 {
		r.fail("database.pool.max_idle", "", "max_idle cannot be negative")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		r.warn("database.pool.max_idle", "idle connections will be limited to max_open", "max_idle is greater than max_open")
	}
	if d.ConnectionTimeout < 0 {
		r.fail("database.connection_timeout", "", "connection_timeout cannot be negative")
	}

	name, _, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err == nil {
		d.Database = name
		return
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "database.dsn"):
		r.fail("database.dsn", "set a valid MySQL DSN in database.dsn/database.dsn_file", "%s", msg)
	case strings.Contains(msg, "mismatch"):
		r.fail("database.database", "either remove database.database or set it to match the DSN database", "%s", msg)
	default:
		r.fail("database.database", "set database.database or include a /database in database.dsn", "%s", msg)
	}
}

func validateSchemaFilters(r *ValidationResult, filters schemafilter.Config) {
	for _, p := range filters.AllowTables {
		checkGlob(r, "schema_filters.allow_tables", "glob pattern", p)
	}
	for _, p := range filters.DenyTables {
		checkGlob(r, "schema_filters.deny_tables", "glob pattern", p)
	}
	validatePatternMap(r, "schema_filters.allow_columns", filters.AllowColumns)
	validatePatternMap(r, "schema_filters.deny_columns", filters.DenyColumns)
}

func validatePatternMap(r *ValidationResult, field string, patterns map[string][]string) {
	for table, columns := range patterns {
		if !checkGlob(r, field, "table pattern", table) {
			continue
		}
		for _, column := range columns {
			checkGlob(r, field, fmt.Sprintf("column pattern for table pattern %q", table), column)
		}
	}
}

// checkGlob records an error when pattern is blank or malformed and reports
// whether it was usable.
func checkGlob(r *ValidationResult, field, what, pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		r.fail(field, "", "%s cannot be empty", what)
		return false
	}
	if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
		r.fail(field, "", "invalid %s %q: %v", what, pattern, err)
		return false
	}
	return true
}

func validateOverrides(r *ValidationResult, field string, overrides map[string]string) {
	for from, to := range overrides {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		switch {
		case from == "" || to == "":
			r.fail(field, "", "override %q -> %q cannot have an empty side", from, to)
		case !naming.ValidFieldName(to):
			r.fail(field, "names cannot start with _ or contain path separators", "override %q for %q is not a usable field name", to, from)
		}
	}
}

func (o *ObservabilityConfig) validate(r *ValidationResult) {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, o.Logging.Level) {
		r.fail("observability.logging.level", "valid values are: debug, info, warn, error", "invalid log level %q", o.Logging.Level)
	}
	if !slices.Contains([]string{"json", "text"}, o.Logging.Format) {
		r.fail("observability.logging.format", "valid values are: json, text", "invalid log format %q", o.Logging.Format)
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		r.fail("observability.trace_sample_ratio", "", "trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio)
	}
	if o.MetricsTextfile != "" && !o.MetricsEnabled {
		r.warn("observability.metrics_textfile", "set observability.metrics_enabled to true", "metrics_textfile is set but metrics are disabled")
	}

	o.OTLP.validate("observability.otlp", r)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", r)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", r)
	}
}

func (o *OTLPConfig) validate(prefix string, r *ValidationResult) {
	if !slices.Contains([]string{"", "grpc", "http/protobuf"}, o.Protocol) {
		r.fail(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		r.fail(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}
	if !slices.Contains([]string{"", "none", "gzip"}, o.Compression) {
		r.fail(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}
	if o.RetryMaxAttempts < 0 {
		r.fail(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if !strings.Contains(endpoint, "://") {
		_, _, err := net.SplitHostPort(endpoint)
		return err == nil
	}
	u, err := url.Parse(endpoint)
	return err == nil && u.Host != ""
}
