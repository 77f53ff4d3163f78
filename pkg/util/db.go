package util

import (
	"fmt"
	"net/url"
	"strings"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
)

// UnsupportedDialect is returned when a driver has no corresponding goquent dialect.
type UnsupportedDialect struct{ Driver string }

func (UnsupportedDialect) Placeholder(int) string { return "?" }

func (UnsupportedDialect) QuoteIdent(ident string) string { return ident }

// DetectDriver returns the driver name based on the DSN scheme.
// Supported schemes: mysql and postgres/postgresql.
func DetectDriver(dsn string) (string, error) {
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	switch parsedURL.Scheme {
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unknown scheme: %s", parsedURL.Scheme)
	}
}

// DialectFromDriver returns the goquent dialect corresponding to a driver.
func DialectFromDriver(d string) ormdriver.Dialect {
	switch d {
	case "postgres":
		return ormdriver.PostgresDialect{}
	case "mysql":
		return ormdriver.MySQLDialect{}
	default:
		return UnsupportedDialect{Driver: d}
	}
}

// HasDatabaseName returns true if DSN appears to include a database name.
func HasDatabaseName(driver, dsn string) bool {
	switch driver {
	case "mysql":
		idx := strings.LastIndex(dsn, "/")
		if idx == -1 {
			return false
		}
		rest := dsn[idx+1:]
		return rest != "" && !strings.HasPrefix(rest, "?")
	case "postgres":
		if strings.Contains(dsn, "dbname=") {
			return true
		}
		u, err := url.Parse(dsn)
		return err == nil && strings.TrimPrefix(u.Path, "/") != ""
	default:
		return false
	}
}
