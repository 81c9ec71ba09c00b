package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Defaults for entry lookups.
const (
	DefaultUIDAttribute = "uid"
	AllUserAttributes   = "*"
)

// EntryReader looks up directory entries by an identifier attribute under a fixed base DN.
type EntryReader struct {
	client    Client
	baseDN    string
	attribute string
	timeout   time.Duration
}

// NewEntryReader creates a new entry reader. An empty attribute means uid.
func NewEntryReader(client Client, baseDN, attribute string) *EntryReader {
	if attribute == "" {
		attribute = DefaultUIDAttribute
	}
	return &EntryReader{
		client:    client,
		baseDN:    baseDN,
		attribute: attribute,
		timeout:   30 * time.Second,
	}
}

// SetTimeout sets the server-side time limit of each lookup.
func (er *EntryReader) SetTimeout(timeout time.Duration) {
	er.timeout = timeout
}

// Connect opens the underlying session.
func (er *EntryReader) Connect(ctx context.Context) error {
	return er.client.Connect(ctx)
}

// Close closes the underlying session.
func (er *EntryReader) Close() error {
	return er.client.Close()
}

// Filter returns the equality filter matching identifier. The value is escaped,
// so any identifier yields a syntactically valid filter.
func (er *EntryReader) Filter(identifier string) string {
	return fmt.Sprintf("(%s=%s)", er.attribute, ldap.EscapeFilter(identifier))
}

// LookupUID returns every entry under the base DN whose identifier attribute
// equals identifier, with all user attributes. An empty slice is not an error.
func (er *EntryReader) LookupUID(ctx context.Context, identifier string) ([]*ldap.Entry, error) {
	searchReq := &SearchRequest{
		BaseDN:     er.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     er.Filter(identifier),
		Attributes: []string{AllUserAttributes},
		TimeLimit:  er.timeout,
	}

	result, err := er.client.Search(ctx, searchReq)
	if err != nil {
		return nil, WrapError("lookup_uid", err)
	}

	return result.Entries, nil
}
