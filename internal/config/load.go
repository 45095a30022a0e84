package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"queryengine/internal/planner"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "QENGINE"

// Schema sources.
const (
	SourceFile     = "file"
	SourceDatabase = "database"
)

// Load reads the configuration. Later sources win: defaults, the config
// file, QENGINE_* environment variables, then flags that were set
// explicitly. flags must already be parsed; only "config" and the dotted
// flags from DefineFlags are consulted.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, flags); err != nil {
		return nil, err
	}

	// QENGINE_ENGINE_MAX_RELATIONAL_DEPTH -> engine.max_relational_depth
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindChangedFlagsToViper(v, flags)
	}
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if v.GetString("schema.source") == SourceDatabase {
		if err := resolveDatabaseSecrets(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// readConfigFile reads --config when given. Otherwise queryengine.yaml is
// looked up in /etc/queryengine, ~/.queryengine and the working directory,
// and its absence is not an error.
func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) error {
	var path string
	if flags != nil && flags.Lookup("config") != nil {
		path, _ = flags.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("queryengine")
	v.SetConfigType("yaml")
	for _, dir := range []string{"/etc/queryengine/", "$HOME/.queryengine", "."} {
		v.AddConfigPath(dir)
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToStringSliceHookFunc(","),
		),
	)
}

// secretFiles maps each secret to the setting naming a file that can hold it.
var secretFiles = []struct{ value, file, what string }{
	{"database.dsn", "database.dsn_file", "DSN"},
	{"database.password", "database.password_file", "password"},
}

// resolveDatabaseSecrets fills the DSN and password from files or an
// interactive prompt, then settles the effective database name.
func resolveDatabaseSecrets(v *viper.Viper) error {
	for _, s := range secretFiles {
		path := v.GetString(s.file)
		if v.GetString(s.value) != "" || path == "" {
			continue
		}
		secret, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read database %s file: %w", s.what, err)
		}
		v.Set(s.value, secret)
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	name, _, err := resolveEffectiveDatabaseName(v.GetString("database.database"), v.GetString("database.dsn"))
	if err != nil {
		return fmt.Errorf("failed to resolve effective database name: %w", err)
	}
	v.Set("database.database", name)
	return nil
}

// flagGetters read a typed flag value by pflag type name.
var flagGetters = map[string]func(*pflag.FlagSet, string) (any, error){
	"string":      func(f *pflag.FlagSet, n string) (any, error) { return f.GetString(n) },
	"int":         func(f *pflag.FlagSet, n string) (any, error) { return f.GetInt(n) },
	"bool":        func(f *pflag.FlagSet, n string) (any, error) { return f.GetBool(n) },
	"float64":     func(f *pflag.FlagSet, n string) (any, error) { return f.GetFloat64(n) },
	"duration":    func(f *pflag.FlagSet, n string) (any, error) { return f.GetDuration(n) },
	"stringSlice": func(f *pflag.FlagSet, n string) (any, error) { return f.GetStringSlice(n) },
}

// bindChangedFlagsToViper copies explicitly set dotted flags into v, so an
// unset flag never shadows the environment or the config file.
func bindChangedFlagsToViper(v *viper.Viper, flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		if !strings.Contains(f.Name, ".") {
			return
		}
		if get, ok := flagGetters[f.Value.Type()]; ok {
			if val, err := get(flags, f.Name); err == nil {
				v.Set(f.Name, val)
				return
			}
		}
		v.Set(f.Name, f.Value.String())
	})
}

// DefineFlags registers the configuration flags using canonical snake_case keys.
func DefineFlags(flags *pflag.FlagSet) {
	// Engine flags
	flags.Int("engine.max_relational_depth", 0, "Maximum relation hops any field, filter, sort, or deep path may traverse")
	flags.Int("engine.default_limit", 0, "Default row limit for the root and to-many relations (-1 = unlimited)")
	flags.Int("engine.max_limit", 0, "Maximum explicit limit (0 = no cap)")
	flags.Int("engine.max_rows", 0, "Maximum estimated rows per query (0 = no cap)")

	// Schema flags
	flags.String("schema.source", "", "Schema source (file, database)")
	flags.String("schema.file", "", "Schema snapshot path (.yaml, .json, .msgpack, .msgpack.zst)")
	flags.StringSlice("schema.singletons", nil, "Collections treated as singletons (comma-separated or repeated)")

	// Database connection flags
	flags.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	flags.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	flags.String("database.host", "", "Database host")
	flags.Int("database.port", 0, "Database port")
	flags.String("database.user", "", "Database user")
	flags.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	flags.Bool("database.password_prompt", false, "Prompt for database password securely")
	flags.String("database.database", "", "Database name")

	// Schema filter flags
	flags.StringSlice("schema_filters.allow_tables", nil, "Table glob patterns to expose")
	flags.StringSlice("schema_filters.deny_tables", nil, "Table glob patterns to hide")

	// Observability flags
	flags.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	flags.String("observability.metrics_textfile", "", "Write Prometheus metrics to this file on exit")
	flags.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	flags.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	flags.String("observability.logging.format", "", "Log format (json, text)")
	flags.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	flags.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	flags.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	flags.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
}

// defaults are the lowest-precedence values. Every key is listed so that
// environment variables bind to it.
var defaults = map[string]any{
	"engine.max_relational_depth": planner.DefaultMaxRelationalDepth,
	"engine.default_limit":        planner.DefaultListLimit,
	"engine.max_limit":            0,
	"engine.max_rows":             0,

	"schema.source":               SourceFile,
	"schema.file":                 "schema.yaml",
	"schema.singletons":           []string{},
	"schema.relations":            []map[string]any{},
	"schema.refresh_min_interval": 30 * time.Second,
	"schema.refresh_max_interval": 5 * time.Minute,

	"database.dsn":                "",
	"database.dsn_file":           "",
	"database.host":               "localhost",
	"database.port":               4000,
	"database.user":               "root",
	"database.password":           "",
	"database.password_file":      "",
	"database.password_prompt":    false,
	"database.database":           "",
	"database.pool.max_open":      4,
	"database.pool.max_idle":      2,
	"database.pool.max_lifetime":  5 * time.Minute,
	"database.connection_timeout": 10 * time.Second,

	"observability.service_name":             "queryengine",
	"observability.service_version":          "",
	"observability.environment":              "development",
	"observability.metrics_enabled":          true,
	"observability.metrics_textfile":         "",
	"observability.tracing_enabled":          false,
	"observability.trace_sample_ratio":       1.0,
	"observability.logging.level":            "warn",
	"observability.logging.format":           "text",
	"observability.logging.exports_enabled":  false,
	"observability.otlp.endpoint":            "localhost:4317",
	"observability.otlp.protocol":            "grpc",
	"observability.otlp.insecure":            false,
	"observability.otlp.tls_cert_file":       "",
	"observability.otlp.tls_client_cert_file": "",
	"observability.otlp.tls_client_key_file": "",
	"observability.otlp.timeout":             10 * time.Second,
	"observability.otlp.compression":         "gzip",
	"observability.otlp.retry_enabled":       true,
	"observability.otlp.retry_max_attempts":  3,

	"schema_filters.allow_tables":       []string{"*"},
	"schema_filters.deny_tables":        []string{},
	"schema_filters.allow_columns":      map[string][]string{"*": {"*"}},
	"schema_filters.deny_columns":       map[string][]string{},
	"schema_filters.scan_views_enabled": false,

	"naming.plural_overrides":   map[string]string{},
	"naming.singular_overrides": map[string]string{},
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// promptPassword prompts for a password without echoing to the terminal.
// The prompt goes to w so stdout stays clean for command output.
func promptPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads path, or stdin for "@-", trimming surrounding space.
func readSecretFile(path string) (string, error) {
	read := func() ([]byte, error) { return os.ReadFile(path) }
	if path == "@-" {
		read = func() ([]byte, error) { return io.ReadAll(os.Stdin) }
	}
	data, err := read()
	return strings.TrimSpace(string(data)), err
}

// validateSingleStdinFileSource rejects more than one "@-" secret file,
// since stdin can only be read once.
func validateSingleStdinFileSource(v *viper.Viper) error {
	var stdin []string
	for _, s := range secretFiles {
		if strings.TrimSpace(v.GetString(s.file)) == "@-" {
			stdin = append(stdin, s.file)
		}
	}
	if len(stdin) > 1 {
		return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(stdin, ", "))
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		parts := []string{}
		for part := range strings.SplitSeq(data.(string), sep) {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
		return parts, nil
	}
}
