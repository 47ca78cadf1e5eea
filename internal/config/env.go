package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ADBRIDGE_"

// ListSeparator splits list values given in the environment.
const ListSeparator = ";"

type lookupFunc func(string) (string, bool)

type binding struct {
	name  string
	apply func(string) error
}

func bindings(cfg *Config) []binding {
	return []binding{
		{"LDAP_HOSTS", setStrings(&cfg.LDAP.Hosts)},
		{"LDAP_DOMAIN", setString(&cfg.LDAP.Domain)},
		{"LDAP_PORT", setInt(&cfg.LDAP.Port)},
		{"LDAP_ENCRYPTION", setString(&cfg.LDAP.Encryption)},
		{"LDAP_TIMEOUT", setDuration(&cfg.LDAP.Timeout)},
		{"LDAP_BASE_DN", setString(&cfg.LDAP.BaseDN)},
		{"LDAP_USERNAME", setString(&cfg.LDAP.Username)},
		{"LDAP_PASSWORD", setString(&cfg.LDAP.Password)},
		{"LDAP_ALLOW_SELF_SIGNED", setBool(&cfg.LDAP.AllowSelfSigned)},
		{"LDAP_MAX_CONNECTIONS", setInt(&cfg.LDAP.MaxConnections)},
		{"LDAP_KERBEROS_REALM", setString(&cfg.LDAP.KerberosRealm)},
		{"LDAP_KERBEROS_KEYTAB", setString(&cfg.LDAP.KerberosKeytab)},
		{"LDAP_KERBEROS_CONFIG", setString(&cfg.LDAP.KerberosConfig)},
		{"LDAP_KERBEROS_CCACHE", setString(&cfg.LDAP.KerberosCCache)},
		{"LDAP_KERBEROS_SPN", setString(&cfg.LDAP.KerberosSPN)},

		{"AUTH_ACCOUNT_SUFFIXES", setStrings(&cfg.Auth.AccountSuffixes)},
		{"AUTH_EXCLUDED_USERNAMES", setStrings(&cfg.Auth.ExcludedUsernames)},
		{"AUTH_PRIMORDIAL_ADMIN_ID", setInt64(&cfg.Auth.PrimordialAdminID)},
		{"AUTH_AUTHORIZE_BY_GROUP", setBool(&cfg.Auth.AuthorizeByGroup)},
		{"AUTH_AUTHORIZATION_GROUPS", setStrings(&cfg.Auth.AuthorizationGroups)},

		{"BRUTEFORCE_MAX_LOGIN_ATTEMPTS", setInt(&cfg.BruteForce.MaxLoginAttempts)},
		{"BRUTEFORCE_BLOCK_TIME", setDuration(&cfg.BruteForce.BlockTime)},
		{"BRUTEFORCE_STORE", setString(&cfg.BruteForce.Store)},
		{"BRUTEFORCE_REDIS_URL", setString(&cfg.BruteForce.RedisURL)},
		{"BRUTEFORCE_WEBHOOK_URL", setString(&cfg.BruteForce.WebhookURL)},

		{"ACCOUNTS_AUTO_CREATE_USER", setBool(&cfg.Accounts.AutoCreateUser)},
		{"ACCOUNTS_AUTO_UPDATE_USER", setBool(&cfg.Accounts.AutoUpdateUser)},
		{"ACCOUNTS_AUTO_UPDATE_PASSWORD", setBool(&cfg.Accounts.AutoUpdatePassword)},
		{"ACCOUNTS_DUPLICATE_EMAIL_PREVENTION", setString(&cfg.Accounts.DuplicateEmailPrevention)},
		{"ACCOUNTS_DEFAULT_EMAIL_DOMAIN", setString(&cfg.Accounts.DefaultEmailDomain)},
		{"ACCOUNTS_DEFAULT_ROLE", setString(&cfg.Accounts.DefaultRole)},
		{"ACCOUNTS_ROLE_EQUIVALENT_GROUPS", setStrings(&cfg.Accounts.RoleEquivalentGroups)},
		{"ACCOUNTS_SYNC_ATTRIBUTES", setStrings(&cfg.Accounts.SyncAttributes)},

		{"SYNC_TO_LOCAL_SECURITY_GROUPS", setStrings(&cfg.SyncToLocal.SecurityGroups)},
		{"SYNC_TO_LOCAL_SYNCHRONIZE_DISABLED_ACCOUNTS", setBool(&cfg.SyncToLocal.SynchronizeDisabledAccounts)},
		{"SYNC_TO_LOCAL_IMPORT_DISABLED_ACCOUNTS", setBool(&cfg.SyncToLocal.ImportDisabledAccounts)},
		{"SYNC_TO_LOCAL_SMARTCARD_LOGIN_ENABLED", setBool(&cfg.SyncToLocal.SmartcardLoginEnabled)},
		{"SYNC_TO_LOCAL_RATE_LIMIT", setFloat(&cfg.SyncToLocal.RateLimit)},
		{"SYNC_TO_LOCAL_MAX_EXECUTION_TIME", setDuration(&cfg.SyncToLocal.MaxExecutionTime)},

		{"SYNC_TO_DIRECTORY_ATTRIBUTES", setStrings(&cfg.SyncToDirectory.Attributes)},
		{"SYNC_TO_DIRECTORY_RATE_LIMIT", setFloat(&cfg.SyncToDirectory.RateLimit)},
		{"SYNC_TO_DIRECTORY_MAX_EXECUTION_TIME", setDuration(&cfg.SyncToDirectory.MaxExecutionTime)},

		{"DATABASE_DRIVER", setString(&cfg.Database.Driver)},
		{"DATABASE_DSN", setString(&cfg.Database.DSN)},

		{"SERVER_LISTEN", setString(&cfg.Server.Listen)},
		{"SERVER_AUTH_RATE_LIMIT", setFloat(&cfg.Server.AuthRateLimit)},
		{"SERVER_AUTH_BURST", setInt(&cfg.Server.AuthBurst)},

		{"LOGGING_LEVEL", setString(&cfg.Logging.Level)},
		{"LOGGING_JSON", setBool(&cfg.Logging.JSON)},
	}
}

// applyEnv overrides cfg from the environment. Set but empty variables
// reset the value.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	for _, b := range bindings(cfg) {
		raw, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SplitList splits a ";" delimited list, dropping blank entries.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ListSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setStrings(dst *[]string) func(string) error {
	return func(v string) error {
		*dst = SplitList(v)
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		if v == "" {
			*dst = false
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		if v == "" {
			*dst = 0
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(v string) error {
		if v == "" {
			*dst = 0
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		if v == "" {
			*dst = 0
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

// setDuration accepts Go durations or a bare number of seconds.
func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		if v == "" {
			*dst = 0
			return nil
		}
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
