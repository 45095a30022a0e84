package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var errNoDatabase = errors.New("no effective database name configured: set database.database or include /<database> in database.dsn/database.dsn_file")

// DSN returns a go-sql-driver/mysql data source name with parseTime enabled
// and UTC timestamps. A configured connection string wins over the
// discrete fields; database.database only fills a DSN without one.
func (d *DatabaseConfig) DSN() (string, error) {
	cfg, err := parseDSN(d.ConnectionString)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		cfg = mysql.NewConfig()
		cfg.User, cfg.Passwd = d.User, d.Password
		cfg.Net, cfg.Addr = "tcp", net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	}
	if cfg.DBName == "" {
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// EffectiveDatabaseName returns the database introspection reads from and
// the setting that supplied it: "database.database" or "dsn".
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	return resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
}

// resolveEffectiveDatabaseName reconciles database.database with the DSN's
// database. When both are set they must agree.
func resolveEffectiveDatabaseName(databaseName, connectionString string) (string, string, error) {
	cfg, err := parseDSN(connectionString)
	if err != nil {
		return "", "", err
	}
	configured := strings.TrimSpace(databaseName)
	var fromDSN string
	if cfg != nil {
		fromDSN = strings.TrimSpace(cfg.DBName)
	}

	switch {
	case configured != "" && fromDSN != "" && configured != fromDSN:
		return "", "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", configured, fromDSN)
	case configured != "":
		return configured, "database.database", nil
	case fromDSN != "":
		return fromDSN, "dsn", nil
	default:
		return "", "", errNoDatabase
	}
}

// parseDSN returns nil for an empty connection string.
func parseDSN(connectionString string) (*mysql.Config, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return nil, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return cfg, nil
}
