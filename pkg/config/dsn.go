package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// applyURL fills the connection fields from a postgres:// or postgresql://
// URL. sslmode is the only query option the connection uses; anything else is
// rejected so it is not silently dropped. Without sslmode the configured
// SSLMode is kept.
func (c *DatabaseConfig) applyURL() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("database URL has no host")
	}

	port := defaultPostgresPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("invalid port in database URL: %w", err)
		}
	}

	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return fmt.Errorf("database URL has no database name")
	}

	sslMode := c.SSLMode
	for key, values := range u.Query() {
		if key != "sslmode" {
			return fmt.Errorf("unsupported database URL option %q", key)
		}
		sslMode = values[0]
	}

	c.Host = u.Hostname()
	c.Port = port
	c.Database = name
	c.SSLMode = sslMode
	if u.User != nil {
		c.User = u.User.Username()
		c.Password, _ = u.User.Password()
	}
	return nil
}

// DSN returns the libpq keyword/value connection string for lib/pq
func (c *DatabaseConfig) DSN() string {
	return strings.Join([]string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
	}, " ")
}

// Redacted renders the connection as a URL with the password masked
func (c *DatabaseConfig) Redacted() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, "xxxxx")
	}
	return u.String()
}

// dsnValue quotes v when libpq would otherwise split or misread it
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}
