package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/go-hclog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosIdentity is the service principal used for GSSAPI binds.
type kerberosIdentity struct {
	username string
	realm    string
	krb5conf string
}

// performKerberosAuth performs a GSSAPI service bind on conn.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo, logger hclog.Logger) error {
	id, err := resolveKerberosIdentity(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(cfg, id, logger)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func createGSSAPIClient(cfg *ConnectionConfig, id kerberosIdentity, logger hclog.Logger) (ldap.GSSAPIClient, error) {
	if !fileExists(id.krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s; example minimal configuration:\n%s",
			id.krb5conf, generateExampleKrb5Conf(id.realm))
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, id.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(id.username, id.realm, cfg.KerberosKeytab, id.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.Password != "" {
		return gssapi.NewClientWithPassword(id.username, id.realm, cfg.Password, id.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if ccache := defaultCCachePath(); fileExists(ccache) {
		logger.Debug("using default credential cache", "path", ccache)
		return gssapi.NewClientFromCCache(ccache, id.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if keytab := defaultKeytabPath(); fileExists(keytab) {
		logger.Debug("using default keytab", "path", keytab)
		return gssapi.NewClientWithKeytab(id.username, id.realm, keytab, id.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// resolveKerberosIdentity derives principal and realm without mutating cfg.
// A realm embedded in the username (user@REALM) is used when none is set.
func resolveKerberosIdentity(cfg *ConnectionConfig) (kerberosIdentity, error) {
	if cfg == nil {
		return kerberosIdentity{}, fmt.Errorf("configuration cannot be nil")
	}

	id := kerberosIdentity{
		username: cfg.Username,
		realm:    cfg.KerberosRealm,
		krb5conf: cfg.KerberosConfig,
	}
	if id.krb5conf == "" {
		id.krb5conf = defaultKrb5Conf
	}

	if user, realm, ok := strings.Cut(id.username, "@"); ok {
		id.username = user
		if id.realm == "" {
			id.realm = realm
		}
	}
	id.realm = strings.ToUpper(id.realm)

	if id.realm == "" {
		return id, fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in username)")
	}
	if id.username == "" && cfg.KerberosCCache == "" {
		return id, fmt.Errorf("username (principal) is required for Kerberos authentication")
	}
	return id, nil
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
// If cfg.KerberosSPN is set, it overrides the automatic SPN construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	hostname, _, _ := strings.Cut(serverInfo.Host, ":")
	return "ldap/" + hostname, nil
}

// defaultCCachePath returns the default credential cache location.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns the default keytab location.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// generateExampleKrb5Conf generates example krb5.conf content for error messages.
func generateExampleKrb5Conf(realm string) string {
	if realm == "" {
		realm = "YOUR.REALM.COM"
	}
	domain := strings.ToLower(realm)
	kdc := "dc." + domain

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_realm = false
    dns_lookup_kdc = false

[realms]
    %[1]s = {
        kdc = %[2]s:88
    }

[domain_realm]
    .%[3]s = %[1]s
    %[3]s = %[1]s`, realm, kdc, domain)
}
