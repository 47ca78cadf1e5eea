package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/ldap"
	"github.com/isometry/adbridge/internal/reconcile"
	"github.com/isometry/adbridge/internal/storage"
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.LDAP.Hosts) == 0 && c.LDAP.Domain == "" {
		add("ldap: hosts or domain is required")
	}
	if _, err := ldap.ParseEncryption(c.LDAP.Encryption); err != nil {
		add("ldap: %w", err)
	}
	if c.LDAP.Port < 0 || c.LDAP.Port > 65535 {
		add("ldap: port %d out of range", c.LDAP.Port)
	}
	if c.LDAP.Timeout <= 0 {
		add("ldap: timeout must be positive")
	}
	if c.LDAP.Password != "" && c.LDAP.Username == "" {
		add("ldap: password set without username")
	}

	if c.Auth.AuthorizeByGroup && len(c.Auth.AuthorizationGroups) == 0 {
		add("auth: authorize_by_group requires authorization_groups")
	}

	if c.BruteForce.MaxLoginAttempts < 0 {
		add("bruteforce: max_login_attempts must not be negative")
	}
	if c.BruteForce.BlockTime < 0 {
		add("bruteforce: block_time must not be negative")
	}
	switch c.BruteForce.Store {
	case StoreDatabase, StoreMemory:
	case StoreRedis:
		if c.BruteForce.RedisURL == "" {
			add("bruteforce: store %q requires redis_url", StoreRedis)
		}
	default:
		add("bruteforce: unknown store %q", c.BruteForce.Store)
	}

	if _, err := reconcile.ParseEmailPolicy(c.Accounts.DuplicateEmailPrevention); err != nil {
		add("accounts: %w", err)
	}
	if _, err := reconcile.ParseRoleMappings(c.Accounts.RoleEquivalentGroups); err != nil {
		add("accounts: %w", err)
	}

	for _, name := range c.SyncToDirectory.Attributes {
		if !containsFold(c.Accounts.SyncAttributes, name) {
			add("sync_to_directory: attribute %q is not in accounts.sync_attributes", strings.TrimSpace(name))
		}
	}

	if c.SyncToLocal.RateLimit < 0 || c.SyncToDirectory.RateLimit < 0 {
		add("sync: rate_limit must not be negative")
	}

	switch strings.ToLower(c.Database.Driver) {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		add("database: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		add("database: dsn is required")
	}

	if c.Server.AuthRateLimit < 0 || c.Server.AuthBurst < 0 {
		add("server: auth rate limit must not be negative")
	}

	if hclog.LevelFromString(c.Logging.Level) == hclog.NoLevel {
		add("logging: unknown level %q", c.Logging.Level)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func containsFold(list []string, name string) bool {
	name = strings.TrimSpace(name)
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return true
		}
	}
	return false
}

// ConnectionConfig translates the section into the directory client
// configuration.
func (c LDAPConfig) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	enc, err := ldap.ParseEncryption(c.Encryption)
	if err != nil {
		return nil, err
	}
	cc := ldap.DefaultConfig()
	cc.Hosts = c.Hosts
	cc.Domain = c.Domain
	cc.Port = c.Port
	cc.Encryption = enc
	cc.BaseDN = c.BaseDN
	cc.Timeout = c.Timeout
	cc.Username = c.Username
	cc.Password = c.Password
	cc.AllowSelfSigned = c.AllowSelfSigned
	cc.KerberosRealm = c.KerberosRealm
	cc.KerberosKeytab = c.KerberosKeytab
	cc.KerberosConfig = c.KerberosConfig
	cc.KerberosCCache = c.KerberosCCache
	cc.KerberosSPN = c.KerberosSPN
	if c.MaxConnections > 0 {
		cc.MaxConnections = c.MaxConnections
	}
	return cc, nil
}
