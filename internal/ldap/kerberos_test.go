package ldap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareKerberosConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      *ConnectionConfig
		expectError bool
		errorMsg    string
		expected    *kerberosSettings
	}{
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "configuration cannot be nil",
		},
		{
			name: "password config",
			config: &ConnectionConfig{
				BindDN:        "reader",
				Password:      "secret",
				KerberosRealm: "EXAMPLE.ORG",
			},
			expected: &kerberosSettings{
				principal: "reader",
				realm:     "EXAMPLE.ORG",
				password:  "secret",
				krb5conf:  "/etc/krb5.conf", // default
			},
		},
		{
			name: "realm from principal",
			config: &ConnectionConfig{
				BindDN:         "reader@EXAMPLE.ORG",
				KerberosKeytab: "/etc/reader.keytab",
			},
			expected: &kerberosSettings{
				principal: "reader",
				realm:     "EXAMPLE.ORG",
				keytab:    "/etc/reader.keytab",
				krb5conf:  "/etc/krb5.conf",
			},
		},
		{
			name: "explicit realm wins over principal suffix",
			config: &ConnectionConfig{
				BindDN:         "reader@OTHER.ORG",
				KerberosRealm:  "EXAMPLE.ORG",
				KerberosConfig: "/opt/krb5.conf",
				KerberosSPN:    "ldap/dc1.example.org",
			},
			expected: &kerberosSettings{
				principal: "reader",
				realm:     "EXAMPLE.ORG",
				krb5conf:  "/opt/krb5.conf",
				spn:       "ldap/dc1.example.org",
			},
		},
		{
			name: "ccache without principal",
			config: &ConnectionConfig{
				KerberosRealm:  "EXAMPLE.ORG",
				KerberosCCache: "/tmp/krb5cc_test",
			},
			expected: &kerberosSettings{
				realm:    "EXAMPLE.ORG",
				ccache:   "/tmp/krb5cc_test",
				krb5conf: "/etc/krb5.conf",
			},
		},
		{
			name: "missing realm",
			config: &ConnectionConfig{
				BindDN:   "reader",
				Password: "secret",
			},
			expectError: true,
			errorMsg:    "kerberos realm is required",
		},
		{
			name: "missing principal and ccache",
			config: &ConnectionConfig{
				KerberosRealm: "EXAMPLE.ORG",
			},
			expectError: true,
			errorMsg:    "a principal or a credential cache is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before ConnectionConfig
			if tt.config != nil {
				before = *tt.config
			}

			result, err := prepareKerberosConfig(tt.config)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
			assert.Equal(t, before, *tt.config, "config must not be mutated")
		})
	}
}

func TestCreateGSSAPIClient_MissingKrb5Conf(t *testing.T) {
	tests := []struct {
		name     string
		settings *kerberosSettings
		errorMsg string
	}{
		{
			name: "explicit path",
			settings: &kerberosSettings{
				principal: "reader",
				realm:     "EXAMPLE.ORG",
				password:  "secret",
				krb5conf:  "/nonexistent/krb5.conf",
			},
			errorMsg: "kerberos configuration file not found at /nonexistent/krb5.conf",
		},
		{
			name: "empty path",
			settings: &kerberosSettings{
				principal: "reader",
				realm:     "EXAMPLE.ORG",
				password:  "secret",
			},
			errorMsg: "kerberos configuration file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := createGSSAPIClient(tt.settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestCreateGSSAPIClient_NoCredentials(t *testing.T) {
	dir := t.TempDir()
	krb5conf := filepath.Join(dir, "krb5.conf")
	require.NoError(t, os.WriteFile(krb5conf, []byte("[libdefaults]\n  default_realm = EXAMPLE.ORG\n"), 0o600))

	t.Setenv("KRB5CCNAME", filepath.Join(dir, "no-ccache"))
	t.Setenv("KRB5_KTNAME", filepath.Join(dir, "no-keytab"))

	_, err := createGSSAPIClient(&kerberosSettings{
		principal: "reader",
		realm:     "EXAMPLE.ORG",
		krb5conf:  krb5conf,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable credentials found")
}

func TestBuildServicePrincipal(t *testing.T) {
	tests := []struct {
		name        string
		settings    *kerberosSettings
		server      *ServerInfo
		expected    string
		expectError bool
	}{
		{
			name:     "from host",
			settings: &kerberosSettings{},
			server:   &ServerInfo{Host: "dc1.example.org", Port: 389},
			expected: "ldap/dc1.example.org",
		},
		{
			name:     "override",
			settings: &kerberosSettings{spn: "ldap/ldap.example.org"},
			server:   &ServerInfo{Host: "10.0.0.1", Port: 389},
			expected: "ldap/ldap.example.org",
		},
		{
			name:        "no host",
			settings:    &kerberosSettings{},
			server:      &ServerInfo{},
			expectError: true,
		},
		{
			name:        "nil server",
			settings:    &kerberosSettings{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spn, err := buildServicePrincipal(tt.settings, tt.server)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, spn)
		})
	}
}

func TestDefaultCredentialPaths(t *testing.T) {
	t.Setenv("KRB5CCNAME", "FILE:/tmp/krb5cc_custom")
	t.Setenv("KRB5_KTNAME", "FILE:/etc/custom.keytab")
	assert.Equal(t, "/tmp/krb5cc_custom", getDefaultCCachePath())
	assert.Equal(t, "/etc/custom.keytab", getDefaultKeytabPath())

	t.Setenv("KRB5CCNAME", "")
	t.Setenv("KRB5_KTNAME", "")
	assert.Equal(t, fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid()), getDefaultCCachePath())
	assert.Equal(t, "/etc/krb5.keytab", getDefaultKeytabPath())
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	assert.True(t, fileExists(path))
	assert.False(t, fileExists(path+".missing"))
	assert.False(t, fileExists(""))
}
