// Package config loads adbridge configuration. Values are resolved in order:
// struct tag defaults, then an optional YAML file, then ADBRIDGE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	LDAP            LDAPConfig            `yaml:"ldap"`
	Auth            AuthConfig            `yaml:"auth"`
	BruteForce      BruteForceConfig      `yaml:"bruteforce"`
	Accounts        AccountsConfig        `yaml:"accounts"`
	SyncToLocal     SyncToLocalConfig     `yaml:"sync_to_local"`
	SyncToDirectory SyncToDirectoryConfig `yaml:"sync_to_directory"`
	Database        DatabaseConfig        `yaml:"database"`
	Server          ServerConfig          `yaml:"server"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// LDAPConfig describes how to reach the directory.
type LDAPConfig struct {
	// Hosts are ldap:// or ldaps:// URLs, host:port pairs or bare hosts.
	Hosts []string `yaml:"hosts"`
	// Domain is used for SRV discovery when Hosts is empty.
	Domain          string        `yaml:"domain"`
	Port            int           `yaml:"port"`
	Encryption      string        `yaml:"encryption" default:"starttls"`
	Timeout         time.Duration `yaml:"timeout" default:"10s"`
	BaseDN          string        `yaml:"base_dn"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	AllowSelfSigned bool          `yaml:"allow_self_signed"`
	MaxConnections  int           `yaml:"max_connections" default:"10"`

	KerberosRealm  string `yaml:"kerberos_realm"`
	KerberosKeytab string `yaml:"kerberos_keytab"`
	KerberosConfig string `yaml:"kerberos_config"`
	KerberosCCache string `yaml:"kerberos_ccache"`
	KerberosSPN    string `yaml:"kerberos_spn"`
}

type AuthConfig struct {
	AccountSuffixes     []string `yaml:"account_suffixes"`
	ExcludedUsernames   []string `yaml:"excluded_usernames"`
	PrimordialAdminID   int64    `yaml:"primordial_admin_id" default:"1"`
	AuthorizeByGroup    bool     `yaml:"authorize_by_group"`
	AuthorizationGroups []string `yaml:"authorization_groups"`
}

// Brute-force attempt stores.
const (
	StoreDatabase = "database"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

type BruteForceConfig struct {
	MaxLoginAttempts int           `yaml:"max_login_attempts" default:"3"`
	BlockTime        time.Duration `yaml:"block_time" default:"30m"`
	Store            string        `yaml:"store" default:"database"`
	RedisURL         string        `yaml:"redis_url"`
	WebhookURL       string        `yaml:"webhook_url"`
}

type AccountsConfig struct {
	AutoCreateUser           bool     `yaml:"auto_create_user" default:"true"`
	AutoUpdateUser           bool     `yaml:"auto_update_user" default:"true"`
	AutoUpdatePassword       bool     `yaml:"auto_update_password"`
	DuplicateEmailPrevention string   `yaml:"duplicate_email_prevention" default:"prevent"`
	DefaultEmailDomain       string   `yaml:"default_email_domain"`
	DefaultRole              string   `yaml:"default_role" default:"user"`
	RoleEquivalentGroups     []string `yaml:"role_equivalent_groups"`
	SyncAttributes           []string `yaml:"sync_attributes"`
}

type SyncToLocalConfig struct {
	SecurityGroups              []string      `yaml:"security_groups"`
	SynchronizeDisabledAccounts bool          `yaml:"synchronize_disabled_accounts"`
	ImportDisabledAccounts      bool          `yaml:"import_disabled_accounts"`
	SmartcardLoginEnabled       bool          `yaml:"smartcard_login_enabled"`
	RateLimit                   float64       `yaml:"rate_limit"`
	MaxExecutionTime            time.Duration `yaml:"max_execution_time" default:"1h"`
}

type SyncToDirectoryConfig struct {
	Attributes       []string      `yaml:"attributes"`
	RateLimit        float64       `yaml:"rate_limit"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"1h"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" default:"sqlite"`
	DSN    string `yaml:"dsn" default:"adbridge.db"`
}

type ServerConfig struct {
	Listen        string  `yaml:"listen" default:":8080"`
	AuthRateLimit float64 `yaml:"auth_rate_limit" default:"10"`
	AuthBurst     int     `yaml:"auth_burst" default:"20"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration with only tag defaults applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")
