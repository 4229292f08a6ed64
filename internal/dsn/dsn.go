// Package dsn parses sqlpool connection strings.
// Connection strings use the format:
// sqlpool://[username[:password]@]host[:port][/database][?driver=value&param1=value1]
package dsn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Parsed is a parsed sqlpool DSN.
type Parsed struct {
	Username string
	Password string
	Host     string
	Port     int
	Database string
	// Driver selects the RawSessionFactory OpenDSN builds: "sqldriver" (the
	// default) or "remote". See drivers/sqldriver and drivers/remote.
	Driver string
	Params map[string]string
}

// Parse parses a sqlpool DSN string.
func Parse(raw string) (*Parsed, error) {
	if raw == "" {
		return nil, fmt.Errorf("dsn: must be a non-empty string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("dsn: invalid format: %w", err)
	}

	if u.Scheme != "sqlpool" {
		return nil, fmt.Errorf("dsn: invalid scheme %q, expected \"sqlpool\"", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("dsn: host is required")
	}

	var port int
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("dsn: invalid port %q", u.Port())
		}
	}

	username, password := "", ""
	if u.User != nil {
		username = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			password = pwd
		}
	}

	database := ""
	if u.Path != "" && u.Path != "/" {
		database = strings.TrimPrefix(u.Path, "/")
	}

	params := make(map[string]string)
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	driver := params["driver"]
	delete(params, "driver")
	if driver == "" {
		driver = "sqldriver"
	}

	return &Parsed{
		Username: username,
		Password: password,
		Host:     host,
		Port:     port,
		Database: database,
		Driver:   driver,
		Params:   params,
	}, nil
}

// Endpoint builds an http(s) API endpoint from a parsed DSN, honoring an
// explicit "endpoint" param and an "ssl=false" opt-out.
func Endpoint(p *Parsed) string {
	if endpoint, ok := p.Params["endpoint"]; ok {
		return endpoint
	}

	protocol := "https"
	if ssl, ok := p.Params["ssl"]; ok && ssl == "false" {
		protocol = "http"
	}

	port := ""
	if p.Port > 0 {
		port = fmt.Sprintf(":%d", p.Port)
	}

	return fmt.Sprintf("%s://%s%s", protocol, p.Host, port)
}
