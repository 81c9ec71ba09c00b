package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosSettings is the resolved Kerberos view of a ConnectionConfig.
type kerberosSettings struct {
	principal string
	realm     string
	password  string
	krb5conf  string
	keytab    string
	ccache    string
	spn       string
}

// performKerberosAuth performs a SASL/GSSAPI bind on an LDAP connection.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	settings, err := prepareKerberosConfig(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(settings)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(settings, server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// prepareKerberosConfig validates the configuration and resolves defaults
// without mutating cfg.
func prepareKerberosConfig(cfg *ConnectionConfig) (*kerberosSettings, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	s := &kerberosSettings{
		principal: cfg.BindDN,
		realm:     cfg.KerberosRealm,
		password:  cfg.Password,
		krb5conf:  cfg.KerberosConfig,
		keytab:    cfg.KerberosKeytab,
		ccache:    cfg.KerberosCCache,
		spn:       cfg.KerberosSPN,
	}

	if s.krb5conf == "" {
		s.krb5conf = defaultKrb5Conf
	}

	// user@REALM carries its own realm
	if user, realm, ok := strings.Cut(s.principal, "@"); ok {
		s.principal = user
		if s.realm == "" {
			s.realm = realm
		}
	}

	if s.realm == "" {
		return nil, fmt.Errorf("kerberos realm is required")
	}

	if s.principal == "" && s.ccache == "" {
		return nil, fmt.Errorf("a principal or a credential cache is required for Kerberos authentication")
	}

	return s, nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func createGSSAPIClient(s *kerberosSettings) (ldap.GSSAPIClient, error) {
	if !fileExists(s.krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", s.krb5conf)
	}

	disableFAST := krb5client.DisablePAFXFAST(true)

	ccache := s.ccache
	if ccache == "" {
		ccache = getDefaultCCachePath()
	}
	if fileExists(ccache) {
		c, err := gssapi.NewClientFromCCache(ccache, s.krb5conf, disableFAST)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	keytab := s.keytab
	if keytab == "" && s.password == "" {
		keytab = getDefaultKeytabPath()
	}
	if keytab != "" && fileExists(keytab) {
		c, err := gssapi.NewClientWithKeytab(s.principal, s.realm, keytab, s.krb5conf, disableFAST)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	if s.password != "" {
		c, err := gssapi.NewClientWithPassword(s.principal, s.realm, s.password, s.krb5conf, disableFAST)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns the SPN override or ldap/<host>.
func buildServicePrincipal(s *kerberosSettings, server *ServerInfo) (string, error) {
	if s.spn != "" {
		return s.spn, nil
	}

	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + server.Host, nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
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
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
