package ldap

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for the directory session.
type ConnectionConfig struct {
	// Connection settings
	URL     string        // ldap:// or ldaps:// URL of the directory server
	Timeout time.Duration // Dial and per-operation timeout

	// Authentication settings
	BindDN   string // Distinguished name (or Kerberos principal) used to bind
	Password string // Password for simple bind authentication

	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override (default ldap/<host>)

	// TLS settings
	StartTLS           bool   // Upgrade a plain ldap:// session with StartTLS
	InsecureSkipVerify bool   // Skip certificate verification (testing only)
	TLSCACertFile      string // Path to a PEM CA bundle
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout: 30 * time.Second,
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host   string
	Port   int
	UseTLS bool
}

// Client provides the directory operations used by an export run.
type Client interface {
	// Connect dials the server and binds. It must be called once before Search.
	Connect(ctx context.Context) error

	// Search performs a single, non-paged search.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// Close unbinds and closes the session. Safe to call more than once.
	Close() error
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult contains search results.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns the RFC 4516 name of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodAnonymous                    // Unauthenticated bind
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
// The method is chosen from what is configured; nothing is negotiated with the server.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" {
		return AuthMethodKerberos
	}

	if c.BindDN == "" && c.Password == "" {
		return AuthMethodAnonymous
	}

	return AuthMethodSimpleBind
}

// ConnectionError represents a failure to establish or keep the directory session.
type ConnectionError struct {
	message string
	cause   error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{
		message: message,
		cause:   cause,
	}
}
