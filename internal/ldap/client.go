package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// searchBufferSize is the number of responses buffered by an asynchronous search.
const searchBufferSize = 16

// client implements the Client interface over a single LDAP session.
type client struct {
	config *ConnectionConfig
	server *ServerInfo
	logger *slog.Logger

	mu     sync.Mutex
	conn   *ldap.Conn
	closed bool
}

// NewClient creates a new LDAP client. No network activity happens until Connect.
func NewClient(config *ConnectionConfig, logger *slog.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	server, err := validateConfig(config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &client{
		config: config,
		server: server,
		logger: orDiscard(logger).With("subsystem", "ldap"),
	}, nil
}

// validateConfig validates the connection configuration and returns the parsed server.
func validateConfig(config *ConnectionConfig) (*ServerInfo, error) {
	if config.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	server, err := ParseLDAPURL(config.URL)
	if err != nil {
		return nil, err
	}

	if config.StartTLS && server.UseTLS {
		return nil, errors.New("StartTLS cannot be combined with an ldaps:// URL")
	}

	return server, nil
}

// Connect dials the server, upgrades to TLS when configured and binds.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return NewConnectionError("client is closed", nil)
	}
	if c.conn != nil {
		return nil
	}

	url := ServerInfoToURL(c.server)
	authMethod := c.config.GetAuthMethod()

	return LogOperation(ctx, c.logger, "connect", map[string]any{
		"url":         url,
		"auth_method": authMethod.String(),
		"start_tls":   c.config.StartTLS,
	}, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx, url)
		if err != nil {
			LogConnectionEvent(ctx, c.logger, "connection_failed", map[string]any{
				"url":   url,
				"error": err.Error(),
			})
			return NewConnectionError(fmt.Sprintf("failed to connect to %s", url), err)
		}

		if err := c.authenticate(ctx, conn); err != nil {
			conn.Close()
			LogConnectionEvent(ctx, c.logger, "authentication_failed", map[string]any{
				"url":         url,
				"auth_method": authMethod.String(),
				"error":       err.Error(),
			})
			return NewConnectionError(fmt.Sprintf("failed to bind to %s", url), NewLDAPError("bind", err))
		}

		LogConnectionEvent(ctx, c.logger, "connection_established", map[string]any{
			"url":         url,
			"auth_method": authMethod.String(),
		})

		c.conn = conn
		return nil
	})
}

// dial opens the transport, either LDAPS or plain with an optional StartTLS upgrade.
func (c *client) dial(ctx context.Context, url string) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}

	var tlsConfig *tls.Config
	if c.server.UseTLS || c.config.StartTLS {
		var err error
		tlsConfig, err = c.tlsConfig()
		if err != nil {
			return nil, err
		}
	}

	if c.server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, err
	}

	conn.SetTimeout(c.config.Timeout)

	if c.config.StartTLS {
		c.logger.DebugContext(ctx, "Upgrading connection with StartTLS")
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, nil
}

// tlsConfig builds the TLS configuration for LDAPS and StartTLS.
func (c *client) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.server.Host,
		InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if c.config.TLSCACertFile != "" {
		pem, err := os.ReadFile(c.config.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.config.TLSCACertFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// authenticate performs authentication based on the configured method.
func (c *client) authenticate(ctx context.Context, conn *ldap.Conn) error {
	authMethod := c.config.GetAuthMethod()
	start := time.Now()

	var err error
	switch authMethod {
	case AuthMethodSimpleBind:
		err = conn.Bind(c.config.BindDN, c.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(conn, c.config, c.server)
	case AuthMethodAnonymous:
		// LDAPv3 sessions start anonymous; no bind request is needed.
	default:
		err = fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	fields := map[string]any{
		"auth_method": authMethod.String(),
		"bind_dn":     c.config.BindDN,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	if err != nil {
		LogLDAPError(ctx, c.logger, "bind", err, fields)
		return err
	}

	LogConnectionEvent(ctx, c.logger, "authentication_success", fields)
	return nil
}

// Search performs an LDAP search on the open session.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		return nil, NewConnectionError("search on a session that is not connected", nil)
	}
	if conn.IsClosing() {
		return nil, NewConnectionError("search on a session that was closed by the server", nil)
	}

	searchFields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
		"time_limit": req.TimeLimit.String(),
	}

	var result *SearchResult
	err := LogOperation(ctx, c.logger, "search", searchFields, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			req.SizeLimit,
			timeLimitSeconds(req.TimeLimit),
			false, // TypesOnly
			req.Filter,
			req.Attributes,
			nil, // Controls
		)

		var entries []*ldap.Entry
		resp := conn.SearchAsync(ctx, ldapReq, searchBufferSize)
		for resp.Next() {
			if entry := resp.Entry(); entry != nil {
				entries = append(entries, entry)
			}
		}
		err := resp.Err()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// A dropped session ends the response stream early, sometimes without an error.
		if conn.IsClosing() {
			connErr := NewConnectionError("connection lost during search", err)
			LogLDAPError(ctx, c.logger, "search", connErr, map[string]any{"filter": req.Filter})
			return connErr
		}
		if err != nil {
			LogLDAPError(ctx, c.logger, "search", err, map[string]any{"filter": req.Filter})
			return WrapError("search", err)
		}

		result = &SearchResult{
			Entries: entries,
			Total:   len(entries),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// timeLimitSeconds converts a lookup time limit to whole seconds. A positive
// limit never rounds down to 0, which the server reads as unlimited.
func timeLimitSeconds(limit time.Duration) int {
	if limit <= 0 {
		return 0
	}
	return int((limit + time.Second - 1) / time.Second)
}

// Close unbinds and closes the session.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		_ = c.conn.Unbind()
		c.conn.Close()
		c.conn = nil
		LogConnectionEvent(context.Background(), c.logger, "connection_closed", nil)
	}

	return nil
}
