package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Encryption selects how the transport to the directory is secured.
type Encryption string

const (
	EncryptionNone     Encryption = "none"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionLDAPS    Encryption = "ldaps"
)

// ParseEncryption accepts the configuration spellings of an encryption mode.
func ParseEncryption(s string) (Encryption, error) {
	switch e := Encryption(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EncryptionNone, nil
	case EncryptionNone, EncryptionStartTLS, EncryptionLDAPS:
		return e, nil
	case "tls", "ssl":
		return EncryptionLDAPS, nil
	default:
		return "", fmt.Errorf("unsupported encryption %q", s)
	}
}

// DefaultPort returns the conventional port for the mode.
func (e Encryption) DefaultPort() int {
	if e == EncryptionLDAPS {
		return 636
	}
	return 389
}

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	Hosts      []string      // Host names, host:port pairs or ldap(s):// URLs
	Domain     string        // Domain for SRV discovery when Hosts is empty
	Port       int           // Port used for hosts without one; 0 picks the encryption default
	Encryption Encryption    // Transport security
	BaseDN     string        // Base DN for searches
	Timeout    time.Duration // Connection and operation timeout

	// Service account used for searches and modifications
	Username string // DN, UPN, or SAM format
	Password string

	// Kerberos service bind
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string // Path to krb5.conf
	KerberosCCache string // Path to credential cache
	KerberosSPN    string // Service principal override

	// TLS settings
	AllowSelfSigned bool        // Skip certificate verification
	TLSConfig       *tls.Config // Custom TLS configuration, built from the above when nil

	// Pool settings
	MaxConnections int
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration

	// Retry settings
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Encryption:     EncryptionStartTLS,
		Timeout:        10 * time.Second,
		MaxConnections: 10,
		MaxIdleTime:    5 * time.Minute,
		HealthCheck:    30 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// tlsConfig returns the configured TLS settings for host.
func (c *ConnectionConfig) tlsConfig(host string) *tls.Config {
	if c.TLSConfig != nil {
		cfg := c.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: c.AllowSelfSigned, //nolint:gosec // operator opt-in
	}
}

// PooledConnection represents a connection in the pool.
type PooledConnection struct {
	conn          *ldap.Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Address returns host:port.
func (s *ServerInfo) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConnectionPool manages a pool of service-bound LDAP connections.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Servers() []*ServerInfo
	Close() error
	Stats() PoolStats
	HealthCheck(ctx context.Context) error
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Total   int           // Total connections
	Active  int64         // Active (in-use) connections
	Idle    int           // Idle connections
	Created int64         // Total connections created
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Pool uptime
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

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// ModifyRequest encapsulates LDAP modify parameters. A replace with no
// values removes the attribute.
type ModifyRequest struct {
	DN                string
	ReplaceAttributes map[string][]string
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

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
	AuthMethodSimpleBind AuthMethod = iota // Username/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodNone                         // Anonymous
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodNone:
		return "anonymous"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the service bind method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "") {
		return AuthMethodKerberos
	}
	if c.Username != "" {
		return AuthMethodSimpleBind
	}
	return AuthMethodNone
}

// HasAuthentication reports whether service credentials are configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodNone
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors. It always matches
// ErrUnreachable.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrUnreachable}
	}
	return []error{ErrUnreachable, e.cause}
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
