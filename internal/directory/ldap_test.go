package directory

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/logging"
)

const (
	testComputerDN = "CN=MAC01,OU=Macs,DC=corp,DC=example,DC=com"
	testNTDS       = "CN=NTDS Settings,CN=DC1,CN=Servers,CN=Default-First-Site-Name,CN=Sites,CN=Configuration,DC=corp,DC=example,DC=com"
)

// fakeConn answers searches from an in-memory tree keyed by DN.
type fakeConn struct {
	mu       sync.Mutex
	entries  map[string]map[string][]string
	bindErr  error
	modErr   error
	searches []*ldap.SearchRequest
	modifies []*ldap.ModifyRequest
	binds    []string
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{entries: map[string]map[string][]string{
		"": {"dsServiceName": {testNTDS}},
		testNTDS: {"msDS-isRODC": {"FALSE"}},
		testComputerDN: {
			"ms-Mcs-AdmPwdExpirationTime": {"134116992000000000"},
			"allowedAttributes":           {"cn", "ms-Mcs-AdmPwd", "ms-Mcs-AdmPwdExpirationTime"},
			"allowedAttributesEffective":  {"ms-Mcs-AdmPwd", "ms-Mcs-AdmPwdExpirationTime"},
		},
	}}
}

func (f *fakeConn) Bind(username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, "simple:"+username)
	return f.bindErr
}

func (f *fakeConn) NTLMBind(domain, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, "ntlm:"+domain+"\\"+username)
	return f.bindErr
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)

	if req.Scope == ldap.ScopeWholeSubtree {
		if strings.Contains(req.Filter, "sAMAccountName=MAC01$") {
			return &ldap.SearchResult{Entries: []*ldap.Entry{ldap.NewEntry(testComputerDN, nil)}}, nil
		}
		return &ldap.SearchResult{}, nil
	}

	attrs, ok := f.entries[req.BaseDN]
	if !ok {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	selected := map[string][]string{}
	for _, a := range req.Attributes {
		if v, ok := attrs[a]; ok {
			selected[a] = v
		}
	}
	return &ldap.SearchResult{Entries: []*ldap.Entry{ldap.NewEntry(req.BaseDN, selected)}}, nil
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifies = append(f.modifies, req)
	if f.modErr != nil {
		return f.modErr
	}
	for _, c := range req.Changes {
		f.entries[req.DN][c.Modification.Type] = c.Modification.Vals
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testSettings() Settings {
	return Settings{
		Servers:      []string{"dc1.corp.example.com"},
		Domain:       "corp.example.com",
		ComputerName: "mac01",
		BindDN:       "MAC01$@corp.example.com",
		BindPassword: "machine-secret",
	}
}

func newTestClient(settings Settings, conns map[string]*fakeConn) *LDAPClient {
	c := NewLDAPClient(settings, logging.Discard())
	c.dial = func(address string) (conn, error) {
		if fc, ok := conns[address]; ok {
			return fc, nil
		}
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused"))
	}
	c.lookupSRV = func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
		return "", nil, errors.New("no SRV records")
	}
	return c
}

func TestDomainToDN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DC=corp,DC=example,DC=com", DomainToDN("corp.example.com"))
	assert.Equal(t, "DC=corp,DC=example,DC=com", DomainToDN("corp.example.com."))
	assert.Equal(t, "", DomainToDN(""))

	s := Settings{Domain: "corp.example.com"}
	assert.Equal(t, "DC=corp,DC=example,DC=com", s.SearchBase())
	s.BaseDN = "OU=Macs,DC=corp,DC=example,DC=com"
	assert.Equal(t, s.BaseDN, s.SearchBase())
}

func TestSettings_Computer(t *testing.T) {
	t.Parallel()

	name, err := Settings{ComputerName: "MAC01$"}.Computer()
	require.NoError(t, err)
	assert.Equal(t, "MAC01", name)

	name, err = Settings{}.Computer()
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	assert.NotContains(t, name, ".")
}

func TestLDAPClient_Addresses(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Servers = []string{"dc1.corp.example.com", "ldap://dc2.corp.example.com:389"}
	settings.DiscoverSRV = true
	c := newTestClient(settings, nil)
	c.lookupSRV = func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
		assert.Equal(t, "dc._msdcs.corp.example.com", name)
		return "", []*net.SRV{
			{Target: "dc1.corp.example.com.", Port: 389},
			{Target: "dc3.corp.example.com.", Port: 389},
		}, nil
	}

	got := c.Addresses(context.Background())
	assert.Equal(t, []string{
		"ldaps://dc1.corp.example.com",
		"ldap://dc2.corp.example.com:389",
		"ldaps://dc1.corp.example.com:636",
		"ldaps://dc3.corp.example.com:636",
	}, got)
}

func TestLDAPClient_AddressesStartTLS(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.StartTLS = true
	settings.DiscoverSRV = true
	c := newTestClient(settings, nil)
	c.lookupSRV = func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
		return "", []*net.SRV{{Target: "dc9.corp.example.com.", Port: 389}}, nil
	}

	assert.Equal(t, []string{"ldap://dc1.corp.example.com", "ldap://dc9.corp.example.com:389"}, c.Addresses(context.Background()))
}

func TestLDAPClient_BindFallsThrough(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Servers = []string{"dc1.corp.example.com", "dc2.corp.example.com"}
	good := newFakeConn()
	c := newTestClient(settings, map[string]*fakeConn{"ldaps://dc2.corp.example.com": good})

	s, err := c.Bind(context.Background())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "ldaps://dc2.corp.example.com", s.Server())
	assert.Equal(t, []string{"simple:MAC01$@corp.example.com"}, good.binds)
}

func TestLDAPClient_BindUnreachable(t *testing.T) {
	t.Parallel()

	c := newTestClient(testSettings(), nil)
	_, err := c.Bind(context.Background())
	require.Error(t, err)
	assert.True(t, dserrors.IsKind(err, dserrors.KindUnreachable))

	empty := newTestClient(Settings{}, nil)
	_, err = empty.Bind(context.Background())
	assert.True(t, dserrors.IsKind(err, dserrors.KindUnreachable))
}

func TestLDAPClient_BindRejected(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	fc.bindErr = ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	c := newTestClient(testSettings(), map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})

	_, err := c.BindReplica(context.Background(), "ldaps://dc1.corp.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected the bind credentials")
	assert.True(t, fc.closed)
}

func TestLDAPClient_NTLMBind(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.BindMethod = BindNTLM
	settings.BindDN = "MAC01$"
	fc := newFakeConn()
	c := newTestClient(settings, map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})

	s, err := c.Bind(context.Background())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"ntlm:corp.example.com\\MAC01$"}, fc.binds)
}

func TestLDAPSession_ComputerLookupAndRead(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	c := newTestClient(testSettings(), map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})
	s, err := c.Bind(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	dn, err := s.ComputerDN(ctx)
	require.NoError(t, err)
	assert.Equal(t, testComputerDN, dn)
	assert.Equal(t, "DC=corp,DC=example,DC=com", fc.searches[0].BaseDN)
	assert.Contains(t, fc.searches[0].Filter, "(objectClass=computer)")

	v, ok, err := s.ReadAttribute(ctx, "ms-Mcs-AdmPwdExpirationTime")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "134116992000000000", v)

	_, ok, err = s.ReadAttribute(ctx, "msLAPS-PasswordExpirationTime")
	require.NoError(t, err)
	assert.False(t, ok)

	allowed, err := s.AllowedAttributes(ctx)
	require.NoError(t, err)
	assert.Contains(t, allowed, "ms-Mcs-AdmPwd")

	// The DN lookup is cached.
	subtree := 0
	for _, req := range fc.searches {
		if req.Scope == ldap.ScopeWholeSubtree {
			subtree++
		}
	}
	assert.Equal(t, 1, subtree)
}

func TestLDAPSession_ComputerMissing(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.ComputerName = "ghost"
	c := newTestClient(settings, map[string]*fakeConn{"ldaps://dc1.corp.example.com": newFakeConn()})
	s, err := c.Bind(context.Background())
	require.NoError(t, err)

	_, err = s.ComputerDN(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GHOST$")
	assert.Equal(t, dserrors.KindPreconditionFailed, dserrors.KindOf(err), "a reachable directory without the object is not Unreachable")
}

func TestLDAPSession_WriteAttributesSingleModify(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	c := newTestClient(testSettings(), map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})
	s, err := c.Bind(context.Background())
	require.NoError(t, err)

	err = s.WriteAttributes(context.Background(), map[string]string{
		"ms-Mcs-AdmPwdExpirationTime": "134200000000000000",
		"ms-Mcs-AdmPwd":               "N3w!pass",
	})
	require.NoError(t, err)

	require.Len(t, fc.modifies, 1)
	req := fc.modifies[0]
	assert.Equal(t, testComputerDN, req.DN)
	require.Len(t, req.Changes, 2)
	assert.Equal(t, "ms-Mcs-AdmPwd", req.Changes[0].Modification.Type)
	assert.Equal(t, []string{"N3w!pass"}, req.Changes[0].Modification.Vals)
	assert.Equal(t, "ms-Mcs-AdmPwdExpirationTime", req.Changes[1].Modification.Type)
}

func TestLDAPSession_WriteFailure(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	fc.modErr = ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied"))
	c := newTestClient(testSettings(), map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})
	s, err := c.Bind(context.Background())
	require.NoError(t, err)

	err = s.WriteAttributes(context.Background(), map[string]string{"ms-Mcs-AdmPwd": "x"})
	require.Error(t, err)
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights))
}

func TestLDAPClient_EnumerateReplicas(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Servers = []string{"dc1.corp.example.com", "rodc.corp.example.com", "dc2.corp.example.com", "down.corp.example.com"}

	writable := newFakeConn()
	rodc := newFakeConn()
	rodc.entries[testNTDS]["msDS-isRODC"] = []string{"TRUE"}
	noRights := newFakeConn()
	noRights.entries[testComputerDN]["allowedAttributesEffective"] = []string{"ms-Mcs-AdmPwdExpirationTime"}

	c := newTestClient(settings, map[string]*fakeConn{
		"ldaps://dc1.corp.example.com":  writable,
		"ldaps://rodc.corp.example.com": rodc,
		"ldaps://dc2.corp.example.com":  noRights,
	})

	replicas, err := c.EnumerateReplicas(context.Background(), []string{"ms-Mcs-AdmPwd", "ms-Mcs-AdmPwdExpirationTime"})
	require.NoError(t, err)
	require.Len(t, replicas, 4)

	assert.True(t, replicas[0].Writable)
	assert.Empty(t, replicas[0].Reason)

	assert.False(t, replicas[1].Writable)
	assert.Equal(t, "read-only domain controller", replicas[1].Reason)

	assert.False(t, replicas[2].Writable)
	assert.Equal(t, "no write access to ms-Mcs-AdmPwd", replicas[2].Reason)

	assert.False(t, replicas[3].Writable)
	assert.Contains(t, replicas[3].Reason, "unreachable")

	assert.True(t, writable.closed)
}

func TestLDAPSession_ReadOnlyWithoutServiceName(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	delete(fc.entries, "")
	fc.entries[""] = map[string][]string{}
	c := newTestClient(testSettings(), map[string]*fakeConn{"ldaps://dc1.corp.example.com": fc})
	s, err := c.Bind(context.Background())
	require.NoError(t, err)

	ro, err := s.ReadOnly(context.Background())
	require.NoError(t, err)
	assert.False(t, ro)
}
