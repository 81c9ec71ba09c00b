// Package config holds the settings of an export run: built-in defaults, an
// optional YAML file and environment overrides, followed by command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldif-export/internal/export"
	ldapclient "github.com/isometry/ldif-export/internal/ldap"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvLogLevel = "LDIF_EXPORT_LOG_LEVEL"
	EnvNoColor  = "NO_COLOR"
)

// ErrMissingValue is returned by Validate when a required setting is empty.
var ErrMissingValue = errors.New("missing required value")

// Config represents the configuration of an export run.
type Config struct {
	// URL of the directory server, ldap[s]://host[:port]
	URL string `yaml:"url"`

	// BindDN and Password are used for simple bind. With Kerberos, BindDN is the principal.
	BindDN   string `yaml:"bind_dn"`
	Password string `yaml:"password"`

	// BaseDN is the subtree searched for identifiers
	BaseDN string `yaml:"base_dn" default:"OU=people,DC=agroparistech,DC=FR"`

	// UIDAttribute is the attribute matched against each identifier
	UIDAttribute string `yaml:"uid_attribute" default:"uid"`

	// FilterPath is the semicolon-delimited identifier file
	FilterPath string `yaml:"filter"`

	// OutputPath is the LDIF file to create; it must not exist
	OutputPath string `yaml:"out" default:"out.ldif"`

	// Threshold is the number of non-empty lines a block must exceed to count as rich
	Threshold int `yaml:"threshold" default:"5"`

	// Timeout bounds the dial and each lookup
	Timeout time.Duration `yaml:"timeout" default:"30s"`

	TLS      TLSConfig      `yaml:"tls"`
	Kerberos KerberosConfig `yaml:"kerberos"`
	Log      LogConfig      `yaml:"log"`
}

// TLSConfig configures transport security.
type TLSConfig struct {
	StartTLS           bool   `yaml:"start_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CACert             string `yaml:"ca_cert"`
}

// KerberosConfig selects GSSAPI bind when Realm is set.
type KerberosConfig struct {
	Realm  string `yaml:"realm"`
	Config string `yaml:"config"`
	Keytab string `yaml:"keytab"`
	CCache string `yaml:"ccache"`
	SPN    string `yaml:"spn"`
}

// LogConfig configures the terminal logger.
type LogConfig struct {
	Level   string `yaml:"level" default:"info"`
	NoColor bool   `yaml:"no_color"`
}

// Default returns a configuration with all defaults applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if level := getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
	if getenv(EnvNoColor) != "" {
		c.Log.NoColor = true
	}
}

// UsesKerberos reports whether GSSAPI bind is selected.
func (c *Config) UsesKerberos() bool {
	return c.Kerberos.Realm != ""
}

// Validate checks that the configuration can drive an export run.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: directory URL", ErrMissingValue)
	}
	if c.FilterPath == "" {
		return fmt.Errorf("%w: filter file", ErrMissingValue)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output file", ErrMissingValue)
	}

	if _, err := ldapclient.ParseLDAPURL(c.URL); err != nil {
		return fmt.Errorf("invalid directory URL: %w", err)
	}

	// With Kerberos the bind identity is a principal, not a DN.
	if c.BindDN != "" && !c.UsesKerberos() {
		if _, err := ldap.ParseDN(c.BindDN); err != nil {
			return fmt.Errorf("invalid bind DN %q: %w", c.BindDN, err)
		}
	}

	if _, err := ldap.ParseDN(c.BaseDN); err != nil {
		return fmt.Errorf("invalid base DN %q: %w", c.BaseDN, err)
	}

	if c.UIDAttribute == "" {
		return fmt.Errorf("%w: uid attribute", ErrMissingValue)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative, got %d", c.Threshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}

	return nil
}

// ConnectionConfig returns the directory client configuration.
func (c *Config) ConnectionConfig() *ldapclient.ConnectionConfig {
	return &ldapclient.ConnectionConfig{
		URL:                c.URL,
		Timeout:            c.Timeout,
		BindDN:             c.BindDN,
		Password:           c.Password,
		KerberosRealm:      c.Kerberos.Realm,
		KerberosConfig:     c.Kerberos.Config,
		KerberosKeytab:     c.Kerberos.Keytab,
		KerberosCCache:     c.Kerberos.CCache,
		KerberosSPN:        c.Kerberos.SPN,
		StartTLS:           c.TLS.StartTLS,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		TLSCACertFile:      c.TLS.CACert,
	}
}

// DriverOptions returns the export driver options.
func (c *Config) DriverOptions() export.Options {
	return export.Options{
		OutputPath: c.OutputPath,
		Threshold:  c.Threshold,
	}
}
