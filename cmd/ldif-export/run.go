package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/isometry/ldif-export/internal/config"
	"github.com/isometry/ldif-export/internal/export"
	"github.com/isometry/ldif-export/internal/filter"
	ldapclient "github.com/isometry/ldif-export/internal/ldap"
	"github.com/isometry/ldif-export/internal/ldif"
	"github.com/isometry/ldif-export/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flags holds the raw command-line values before they are merged into a config.Config.
type flags struct {
	configPath string
	ldapToLDIF bool

	filter       string
	out          string
	baseDN       string
	uidAttribute string
	threshold    int
	timeout      time.Duration

	startTLS           bool
	insecureSkipVerify bool
	caCert             string

	kerberosRealm  string
	kerberosConfig string
	keytab         string
	ccache         string
	spn            string

	logLevel string
	noColor  bool
}

// The run function is like the main function, except that it takes in operating system fundamentals as arguments, and returns an error.
//
// If the run function finishes without an error, the export completed and the output file is closed.
// If the run function returns an error, the error is the single line reported to the operator.
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCommand(getenv, stdout, stderr)
	cmd.SetArgs(args[1:])

	return cmd.ExecuteContext(ctx)
}

func newRootCommand(getenv func(string) string, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "ldif-export --ldap-to-ldif HOST_URL DN PASSWORD -f CSV_FILE_IN [-o OUT_FILE]",
		Short: "Export LDAP entries selected by a CSV list of uids to an LDIF file",
		Long: `Export the directory entries whose uid appears in the login column of a
semicolon-delimited CSV file. One LDIF block is appended per uid, in file order.

HOST_URL can be ldap[s]://HOSTNAME.DOMAIN:PORT. The output file must not exist.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, &f, args, getenv)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cfg, stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fs := cmd.Flags()
	fs.BoolVar(&f.ldapToLDIF, "ldap-to-ldif", false, "Get entries from the LDAP directory server given by HOST_URL DN PASSWORD")
	fs.StringVarP(&f.filter, "filter", "f", "", "CSV file of uids: ';' delimiter, a 'login' header column followed by one uid per row")
	fs.StringVarP(&f.out, "out", "o", export.DefaultOutputPath, "Output LDIF file")
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&f.baseDN, "base-dn", "", "Search base DN")
	fs.StringVar(&f.uidAttribute, "uid-attribute", "", "Attribute matched against each uid")
	fs.IntVar(&f.threshold, "threshold", ldif.DefaultRichThreshold, "Non-empty lines an entry must exceed to be reported OK")
	fs.DurationVar(&f.timeout, "timeout", 0, "Connection and per-lookup timeout")
	fs.BoolVar(&f.startTLS, "start-tls", false, "Upgrade an ldap:// connection with StartTLS")
	fs.BoolVar(&f.insecureSkipVerify, "insecure-skip-verify", false, "Do not verify the server certificate")
	fs.StringVar(&f.caCert, "ca-cert", "", "PEM file of trusted CA certificates")
	fs.StringVar(&f.kerberosRealm, "kerberos-realm", "", "Bind with Kerberos (GSSAPI) in this realm; DN is the principal")
	fs.StringVar(&f.kerberosConfig, "krb5-config", "", "Path to krb5.conf")
	fs.StringVar(&f.keytab, "keytab", "", "Kerberos keytab")
	fs.StringVar(&f.ccache, "ccache", "", "Kerberos credential cache")
	fs.StringVar(&f.spn, "spn", "", "LDAP service principal (default ldap/<host>)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")

	return cmd
}

// buildConfig layers defaults, the config file, the environment, flags and
// positional arguments, in that order.
func buildConfig(cmd *cobra.Command, f *flags, args []string, getenv func(string) string) (*config.Config, error) {
	if !f.ldapToLDIF {
		return nil, export.NewError(export.KindMissingArgument, "--ldap-to-ldif HOST_URL DN PASSWORD is required", "", nil)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(getenv)

	switch len(args) {
	case 3:
		cfg.URL, cfg.BindDN, cfg.Password = args[0], args[1], args[2]
	case 0:
		// HOST_URL, DN and PASSWORD come from the config file.
	default:
		return nil, export.NewError(export.KindMissingArgument, "--ldap-to-ldif takes HOST_URL DN PASSWORD", "", nil)
	}

	changed := cmd.Flags().Changed
	if changed("filter") {
		cfg.FilterPath = f.filter
	}
	if changed("out") {
		cfg.OutputPath = f.out
	}
	if changed("base-dn") {
		cfg.BaseDN = f.baseDN
	}
	if changed("uid-attribute") {
		cfg.UIDAttribute = f.uidAttribute
	}
	if changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("start-tls") {
		cfg.TLS.StartTLS = f.startTLS
	}
	if changed("insecure-skip-verify") {
		cfg.TLS.InsecureSkipVerify = f.insecureSkipVerify
	}
	if changed("ca-cert") {
		cfg.TLS.CACert = f.caCert
	}
	if changed("kerberos-realm") {
		cfg.Kerberos.Realm = f.kerberosRealm
	}
	if changed("krb5-config") {
		cfg.Kerberos.Config = f.kerberosConfig
	}
	if changed("keytab") {
		cfg.Kerberos.Keytab = f.keytab
	}
	if changed("ccache") {
		cfg.Kerberos.CCache = f.ccache
	}
	if changed("spn") {
		cfg.Kerberos.SPN = f.spn
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("no-color") {
		cfg.Log.NoColor = f.noColor
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingValue) {
			return nil, export.NewError(export.KindMissingArgument, "invalid arguments", "", err)
		}
		return nil, err
	}

	return cfg, nil
}

// runExport loads the identifiers, then drives the export against the directory.
func runExport(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	logger := slog.New(logging.NewTerminalHandler(stderr, logging.Options{
		Level:   level,
		NoColor: cfg.Log.NoColor,
	})).With("run_id", uuid.NewString())

	logger.InfoContext(ctx, "LDAP to LDIF export starting",
		"version", version,
		"url", cfg.URL,
		"base_dn", cfg.BaseDN,
		"auth", cfg.ConnectionConfig().GetAuthMethod().String(),
		"filter", cfg.FilterPath,
		"out", cfg.OutputPath)

	ids, err := filter.Load(cfg.FilterPath)
	if err != nil {
		kind := export.KindIO
		if errors.Is(err, filter.ErrMalformed) {
			kind = export.KindMalformedFilterFile
		}
		return export.NewError(kind, "read filter", "", err)
	}
	logger.DebugContext(ctx, "filter loaded", "uids", len(ids))

	client, err := ldapclient.NewClient(cfg.ConnectionConfig(), logger)
	if err != nil {
		return err
	}

	reader := ldapclient.NewEntryReader(client, cfg.BaseDN, cfg.UIDAttribute)
	reader.SetTimeout(cfg.Timeout)

	driver := export.NewDriver(reader, export.NewLogReporter(logger), cfg.DriverOptions())

	tally, err := driver.Run(ctx, ids)
	if err != nil {
		if ldapclient.IsAuthenticationError(err) {
			logger.ErrorContext(ctx, "directory rejected the credentials",
				"bind_dn", cfg.BindDN,
				"auth", cfg.ConnectionConfig().GetAuthMethod().String())
		}
		logger.DebugContext(ctx, "export failed", "kind", export.KindOf(err).String())
		return err
	}

	fmt.Fprintf(stdout, "Ok: %d\nWarn: %d\nTotal: %d\n", tally.Rich, tally.Sparse, tally.Total())
	logger.InfoContext(ctx, "output saved", "path", cfg.OutputPath)

	return nil
}
