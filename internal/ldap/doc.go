/*
Package ldap provides the directory access used by ldif-export.

The package wraps github.com/go-ldap/ldap/v3 behind a small single-session
client:

  - Client: dial (ldap://, ldaps://, StartTLS), bind and search
  - EntryReader: equality lookups on an identifier attribute under a base DN
  - Errors: categorized LDAPError values and connection classification

# Connection Management

A Client holds exactly one session. Connect dials and binds once; Close
unbinds. There is no pooling and no retry: a failed dial or bind is reported
as a *ConnectionError and the caller decides what to clean up.

# Authentication

The bind method follows the configuration:

  - Simple bind with a DN and password
  - Kerberos (SASL/GSSAPI) when a realm is configured
  - Anonymous when neither DN nor password is set

# Error Handling

LDAPError carries the operation, LDAP result code and a category. Use
IsConnectionError to tell a broken session (fatal for an export run) from a
per-entry failure such as a missing base object.

# Example Usage

	client, err := ldap.NewClient(&ldap.ConnectionConfig{
		URL:      "ldaps://ldap.example.com",
		BindDN:   "cn=reader,dc=example,dc=com",
		Password: "secret",
		Timeout:  30 * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	reader := ldap.NewEntryReader(client, "ou=people,dc=example,dc=com", "uid")
	if err := reader.Connect(ctx); err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.LookupUID(ctx, "alice")
*/
package ldap
