package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	ldapclient "github.com/isometry/ldif-export/internal/ldap"
	"github.com/isometry/ldif-export/internal/ldap/ldaptest"
	"github.com/isometry/ldif-export/internal/ldif"
)

func TestMain(m *testing.M) {
	// go-ldap arms a request timer per message that lives until the timeout
	// fires, even after the connection is closed.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/go-ldap/ldap/v3.(*Conn).processMessages.func2"))
}

// fakeDirectory serves entries from memory and records what was asked of it.
type fakeDirectory struct {
	entries    map[string][]*ldap.Entry
	errs       map[string]error
	connectErr error

	connected bool
	closed    bool
	lookups   []string
}

func (f *fakeDirectory) Connect(_ context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeDirectory) LookupUID(_ context.Context, uid string) ([]*ldap.Entry, error) {
	f.lookups = append(f.lookups, uid)
	if err, ok := f.errs[uid]; ok {
		return nil, err
	}
	return f.entries[uid], nil
}

func (f *fakeDirectory) Close() error {
	f.closed = true
	return nil
}

// recordingReporter keeps every report for assertions.
type recordingReporter struct {
	entries []string
	classes []ldif.Class
	failed  []string
	nothing bool
	done    *Tally
}

func (r *recordingReporter) Entry(_ context.Context, uid string, class ldif.Class, _ int) {
	r.entries = append(r.entries, uid)
	r.classes = append(r.classes, class)
}

func (r *recordingReporter) LookupFailed(_ context.Context, uid string, _ error) {
	r.failed = append(r.failed, uid)
}

func (r *recordingReporter) Nothing(_ context.Context) {
	r.nothing = true
}

func (r *recordingReporter) Done(_ context.Context, _ string, tally Tally) {
	r.done = &tally
}

func person(uid, cn string) *ldap.Entry {
	return &ldap.Entry{
		DN: "uid=" + uid + ",ou=people,dc=example,dc=org",
		Attributes: []*ldap.EntryAttribute{
			ldap.NewEntryAttribute("objectClass", []string{"top", "person", "organizationalPerson", "inetOrgPerson"}),
			ldap.NewEntryAttribute("uid", []string{uid}),
			ldap.NewEntryAttribute("cn", []string{cn}),
			ldap.NewEntryAttribute("sn", []string{cn}),
		},
	}
}

func newDriver(t *testing.T, dir Directory) (*Driver, *recordingReporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.ldif")
	reporter := &recordingReporter{}
	opts := DefaultOptions()
	opts.OutputPath = path
	return NewDriver(dir, reporter, opts), reporter, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_AliceAndBob(t *testing.T) {
	dir := &fakeDirectory{entries: map[string][]*ldap.Entry{
		"alice": {person("alice", "Alice A")},
	}}
	driver, reporter, path := newDriver(t, dir)

	tally, err := driver.Run(t.Context(), []string{"alice", "bob"})

	require.NoError(t, err)
	assert.Equal(t, Tally{Rich: 1, Sparse: 1}, tally)
	assert.Equal(t, 2, tally.Total())
	assert.Equal(t, []string{"alice", "bob"}, dir.lookups)
	assert.True(t, dir.closed)

	assert.Equal(t, []string{"alice", "bob"}, reporter.entries)
	assert.Equal(t, []ldif.Class{ldif.Rich, ldif.Sparse}, reporter.classes)
	require.NotNil(t, reporter.done)
	assert.Equal(t, tally, *reporter.done)

	want := "version: 1\n" +
		"dn: uid=alice,ou=people,dc=example,dc=org\n" +
		"objectClass: top\n" +
		"objectClass: person\n" +
		"objectClass: organizationalPerson\n" +
		"objectClass: inetOrgPerson\n" +
		"uid: alice\n" +
		"cn: Alice A\n" +
		"sn: Alice A\n" +
		"\n" +
		"# total number of entries: 0\n"
	assert.Equal(t, want, readFile(t, path))
}

func TestRun_BlocksFollowIdentifierOrder(t *testing.T) {
	ids := []string{"carol", "alice", "dave", "bob"}
	dir := &fakeDirectory{entries: map[string][]*ldap.Entry{}}
	for _, id := range ids {
		dir.entries[id] = []*ldap.Entry{person(id, strings.ToUpper(id))}
	}
	driver, _, path := newDriver(t, dir)

	tally, err := driver.Run(t.Context(), ids)

	require.NoError(t, err)
	assert.Equal(t, len(ids), tally.Total())

	content := readFile(t, path)
	assert.Equal(t, 1, strings.Count(content, "version: 1"))
	last := -1
	for _, id := range ids {
		idx := strings.Index(content, "dn: uid="+id+",")
		require.GreaterOrEqual(t, idx, 0, id)
		assert.Greater(t, idx, last, id)
		last = idx
	}
}

func TestRun_EmptyFilter(t *testing.T) {
	dir := &fakeDirectory{}
	driver, reporter, path := newDriver(t, dir)

	tally, err := driver.Run(t.Context(), []string{})

	require.NoError(t, err)
	assert.Equal(t, Tally{}, tally)
	assert.Empty(t, dir.lookups)
	assert.True(t, dir.connected)
	assert.True(t, reporter.nothing)
	assert.Equal(t, "version: 1\n# Nothing to show\n", readFile(t, path))
}

func TestRun_AlreadyExists(t *testing.T) {
	dir := &fakeDirectory{entries: map[string][]*ldap.Entry{"alice": {person("alice", "Alice A")}}}
	driver, _, path := newDriver(t, dir)

	_, err := driver.Run(t.Context(), []string{"alice"})
	require.NoError(t, err)
	first := readFile(t, path)

	second := &fakeDirectory{}
	driver2, _, _ := newDriver(t, second)
	driver2.opts.OutputPath = path

	_, err = driver2.Run(t.Context(), []string{"alice"})

	require.Error(t, err)
	assert.Equal(t, KindAlreadyExists, KindOf(err))
	assert.False(t, second.connected, "directory must not be contacted")
	assert.Empty(t, second.lookups)
	assert.Equal(t, first, readFile(t, path), "existing file must not change")
}

func TestRun_ConnectionUnavailableRemovesFile(t *testing.T) {
	for _, ids := range [][]string{{}, {"alice", "bob"}} {
		t.Run(strings.Join(ids, ","), func(t *testing.T) {
			dir := &fakeDirectory{connectErr: ldapclient.NewConnectionError("failed to connect", errors.New("connection refused"))}
			driver, reporter, path := newDriver(t, dir)

			_, err := driver.Run(t.Context(), ids)

			require.Error(t, err)
			assert.Equal(t, KindConnectionUnavailable, KindOf(err))
			assert.NoFileExists(t, path)
			assert.Empty(t, dir.lookups)
			assert.Nil(t, reporter.done)
		})
	}
}

func TestRun_RecoverableLookupErrorIsSparse(t *testing.T) {
	noSuchObject := ldapclient.NewLDAPError("lookup_uid", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))
	dir := &fakeDirectory{
		entries: map[string][]*ldap.Entry{"alice": {person("alice", "Alice A")}},
		errs:    map[string]error{"bad": noSuchObject},
	}
	driver, reporter, path := newDriver(t, dir)

	tally, err := driver.Run(t.Context(), []string{"bad", "alice"})

	require.NoError(t, err)
	assert.Equal(t, Tally{Rich: 1, Sparse: 1}, tally)
	assert.Equal(t, []string{"bad"}, reporter.failed)
	assert.True(t, strings.HasPrefix(readFile(t, path), "version: 1\n# total number of entries: 0\ndn: uid=alice,"))
}

func TestRun_ConnectionLostKeepsPartialExport(t *testing.T) {
	lost := ldapclient.NewLDAPError("search", ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed")))
	dir := &fakeDirectory{
		entries: map[string][]*ldap.Entry{"alice": {person("alice", "Alice A")}},
		errs:    map[string]error{"bob": lost},
	}
	driver, reporter, path := newDriver(t, dir)

	tally, err := driver.Run(t.Context(), []string{"alice", "bob", "carol"})

	require.Error(t, err)
	assert.Equal(t, KindConnectionUnavailable, KindOf(err))
	assert.Equal(t, Tally{Rich: 1}, tally)
	assert.Equal(t, []string{"alice", "bob"}, dir.lookups)
	assert.Nil(t, reporter.done)
	assert.Contains(t, readFile(t, path), "dn: uid=alice,")
}

func TestRun_ServerDropsSessionMidRun(t *testing.T) {
	srv := &ldaptest.Server{
		Entries: []*ldap.Entry{person("alice", "Alice A"), person("carol", "Carol C")},
		DropOn:  "bob",
	}
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	client, err := ldapclient.NewClient(&ldapclient.ConnectionConfig{
		URL:     srv.URL(),
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	reader := ldapclient.NewEntryReader(client, "ou=people,dc=example,dc=org", "")
	driver, reporter, path := newDriver(t, reader)

	tally, err := driver.Run(t.Context(), []string{"alice", "bob", "carol"})

	require.Error(t, err)
	assert.Equal(t, KindConnectionUnavailable, KindOf(err))
	assert.Equal(t, Tally{Rich: 1}, tally)
	assert.Empty(t, reporter.failed, "a lost session is not a per-entry failure")
	assert.Equal(t, []string{"alice"}, reporter.entries)
	assert.Nil(t, reporter.done)

	content := readFile(t, path)
	assert.Contains(t, content, "dn: uid=alice,")
	assert.NotContains(t, content, "# total number of entries: 0")
}

func TestRun_Interrupted(t *testing.T) {
	dir := &fakeDirectory{entries: map[string][]*ldap.Entry{"alice": {person("alice", "Alice A")}}}
	driver, _, path := newDriver(t, dir)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := driver.Run(ctx, []string{"alice"})

	require.Error(t, err)
	assert.Equal(t, KindInterrupted, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dir.lookups)
	assert.FileExists(t, path)
}

func TestRun_ThresholdIsConfigurable(t *testing.T) {
	dir := &fakeDirectory{entries: map[string][]*ldap.Entry{"alice": {person("alice", "Alice A")}}}
	driver, reporter, _ := newDriver(t, dir)
	driver.opts.Threshold = 100

	tally, err := driver.Run(t.Context(), []string{"alice"})

	require.NoError(t, err)
	assert.Equal(t, Tally{Sparse: 1}, tally)
	assert.Equal(t, []ldif.Class{ldif.Sparse}, reporter.classes)
}

func TestRun_CreateFailure(t *testing.T) {
	dir := &fakeDirectory{}
	driver, _, _ := newDriver(t, dir)
	driver.opts.OutputPath = filepath.Join(t.TempDir(), "missing", "out.ldif")

	_, err := driver.Run(t.Context(), nil)

	require.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
	assert.False(t, dir.connected)
}
