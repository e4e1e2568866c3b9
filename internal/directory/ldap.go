package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/logging"
)

// conn is the subset of *ldap.Conn the client uses.
type conn interface {
	Bind(username, password string) error
	NTLMBind(domain, username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

type srvLookup func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

// LDAPClient implements Client over LDAP.
type LDAPClient struct {
	settings  Settings
	logger    *logging.Logger
	dial      func(address string) (conn, error)
	lookupSRV srvLookup
}

// NewLDAPClient creates a client for settings.
func NewLDAPClient(settings Settings, logger *logging.Logger) *LDAPClient {
	c := &LDAPClient{
		settings:  settings,
		logger:    logger,
		lookupSRV: net.DefaultResolver.LookupSRV,
	}
	c.dial = c.dialLDAP
	return c
}

func (c *LDAPClient) dialLDAP(address string) (conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid directory address %q: %w", address, err)
	}
	tlsConfig := &tls.Config{
		ServerName:         u.Hostname(),
		InsecureSkipVerify: c.settings.InsecureSkipVerify, //nolint:gosec // operator opt-in for lab directories
		MinVersion:         tls.VersionTLS12,
	}

	l, err := ldap.DialURL(address,
		ldap.DialWithDialer(&net.Dialer{Timeout: c.settings.Timeout}),
		ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, err
	}
	if c.settings.Timeout > 0 {
		l.SetTimeout(c.settings.Timeout)
	}
	if c.settings.StartTLS && u.Scheme == "ldap" {
		if err := l.StartTLS(tlsConfig); err != nil {
			l.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}
	return l, nil
}

// Addresses returns configured servers followed by SRV-discovered ones, deduplicated.
func (c *LDAPClient) Addresses(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}

	for _, s := range c.settings.Servers {
		add(c.normalize(s))
	}

	if c.settings.DiscoverSRV && c.settings.Domain != "" {
		_, srvs, err := c.lookupSRV(ctx, "ldap", "tcp", "dc._msdcs."+c.settings.Domain)
		if err != nil {
			c.logger.Debug("SRV discovery for %s failed: %v", c.settings.Domain, err)
		}
		for _, srv := range srvs {
			host := strings.TrimSuffix(srv.Target, ".")
			if c.settings.StartTLS {
				add(fmt.Sprintf("ldap://%s:%d", host, srv.Port))
			} else {
				add(fmt.Sprintf("ldaps://%s:636", host))
			}
		}
	}
	return out
}

func (c *LDAPClient) normalize(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	if c.settings.StartTLS {
		return "ldap://" + server
	}
	return "ldaps://" + server
}

// Bind connects to the first reachable replica.
func (c *LDAPClient) Bind(ctx context.Context) (Session, error) {
	addresses := c.Addresses(ctx)
	if len(addresses) == 0 {
		return nil, dserrors.New(dserrors.KindUnreachable, "bind", "no directory servers configured or discovered")
	}

	var errs []error
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, dserrors.Wrap(dserrors.KindUnreachable, "bind", err, "cancelled")
		}
		s, err := c.BindReplica(ctx, address)
		if err == nil {
			return s, nil
		}
		c.logger.Debug("Directory replica %s unavailable: %v", address, err)
		errs = append(errs, err)
	}
	return nil, dserrors.Wrap(dserrors.KindUnreachable, "bind", errors.Join(errs...), "no directory replica could be contacted")
}

// BindReplica connects and binds to address.
func (c *LDAPClient) BindReplica(ctx context.Context, address string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := c.dial(address)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindUnreachable, "dial", err, address)
	}

	switch c.settings.BindMethod {
	case BindNTLM:
		err = l.NTLMBind(c.settings.Domain, c.settings.BindDN, c.settings.BindPassword)
	default:
		err = l.Bind(c.settings.BindDN, c.settings.BindPassword)
	}
	if err != nil {
		l.Close()
		return nil, dserrors.Wrap(dserrors.KindUnreachable, "bind", err, describe(address, err))
	}

	return &ldapSession{conn: l, address: address, settings: c.settings}, nil
}

// EnumerateReplicas probes every known replica for writability of attrs.
func (c *LDAPClient) EnumerateReplicas(ctx context.Context, attrs []string) ([]Replica, error) {
	addresses := c.Addresses(ctx)
	if len(addresses) == 0 {
		return nil, dserrors.New(dserrors.KindUnreachable, "enumerate replicas", "no directory servers configured or discovered")
	}

	replicas := make([]Replica, 0, len(addresses))
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return replicas, err
		}
		replicas = append(replicas, c.probe(ctx, address, attrs))
	}
	return replicas, nil
}

func (c *LDAPClient) probe(ctx context.Context, address string, attrs []string) Replica {
	r := Replica{Address: address}
	s, err := c.BindReplica(ctx, address)
	if err != nil {
		r.Reason = "unreachable: " + err.Error()
		return r
	}
	defer s.Close()

	writable, reason, err := ProbeWritable(ctx, s, attrs)
	if err != nil {
		r.Reason = "probe failed: " + err.Error()
		return r
	}
	r.Writable = writable
	r.Reason = reason
	return r
}

// ldapSession is a Session over one bound LDAP connection.
type ldapSession struct {
	conn     conn
	address  string
	settings Settings

	mu sync.Mutex
	dn string
}

func (s *ldapSession) Server() string {
	return s.address
}

func (s *ldapSession) ComputerDN(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dn != "" {
		return s.dn, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name, err := s.settings.Computer()
	if err != nil {
		return "", err
	}
	base := s.settings.SearchBase()
	sam := strings.ToUpper(name) + "$"
	filter := fmt.Sprintf("(&(objectClass=computer)(sAMAccountName=%s))", ldap.EscapeFilter(sam))
	req := ldap.NewSearchRequest(base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, s.timeLimit(), false,
		filter, []string{"distinguishedName"}, nil)

	res, err := s.conn.Search(req)
	if err != nil {
		return "", dserrors.Wrap(dserrors.KindUnreachable, "lookup computer", err, describe(s.address, err))
	}
	switch len(res.Entries) {
	case 0:
		return "", dserrors.New(dserrors.KindPreconditionFailed, "lookup computer",
			fmt.Sprintf("computer object %s not found under %q", sam, base))
	case 1:
	default:
		return "", dserrors.New(dserrors.KindPreconditionFailed, "lookup computer",
			fmt.Sprintf("computer name %s is ambiguous under %q", sam, base))
	}
	s.dn = res.Entries[0].DN
	return s.dn, nil
}

func (s *ldapSession) ReadAttribute(ctx context.Context, attr string) (string, bool, error) {
	values, err := s.readComputer(ctx, attr)
	if err != nil {
		return "", false, err
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func (s *ldapSession) AllowedAttributes(ctx context.Context) ([]string, error) {
	return s.readComputer(ctx, "allowedAttributes")
}

func (s *ldapSession) AllowedAttributesEffective(ctx context.Context) ([]string, error) {
	return s.readComputer(ctx, "allowedAttributesEffective")
}

// ReadOnly checks msDS-isRODC on the server's NTDS settings object. Servers
// that do not publish dsServiceName are treated as writable.
func (s *ldapSession) ReadOnly(ctx context.Context) (bool, error) {
	root, err := s.readEntry(ctx, "", "dsServiceName")
	if err != nil {
		return false, err
	}
	service := root.GetEqualFoldAttributeValue("dsServiceName")
	if service == "" {
		return false, nil
	}
	ntds, err := s.readEntry(ctx, service, "msDS-isRODC")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(ntds.GetEqualFoldAttributeValue("msDS-isRODC"), "TRUE"), nil
}

func (s *ldapSession) WriteAttributes(ctx context.Context, values map[string]string) error {
	dn, err := s.ComputerDN(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	req := ldap.NewModifyRequest(dn, nil)
	for _, name := range names {
		req.Replace(name, []string{values[name]})
	}
	if err := s.conn.Modify(req); err != nil {
		return fmt.Errorf("modify of %s on %s failed: %w", strings.Join(names, ", "), s.address, err)
	}
	return nil
}

func (s *ldapSession) Close() error {
	return s.conn.Close()
}

func (s *ldapSession) readComputer(ctx context.Context, attr string) ([]string, error) {
	dn, err := s.ComputerDN(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := s.readEntry(ctx, dn, attr)
	if err != nil {
		return nil, err
	}
	return entry.GetEqualFoldAttributeValues(attr), nil
}

func (s *ldapSession) readEntry(ctx context.Context, dn, attr string) (*ldap.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, s.timeLimit(), false,
		"(objectClass=*)", []string{attr}, nil)
	res, err := s.conn.Search(req)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindUnreachable, "read "+attr, err, describe(s.address, err))
	}
	if len(res.Entries) == 0 {
		return &ldap.Entry{DN: dn}, nil
	}
	return res.Entries[0], nil
}

func (s *ldapSession) timeLimit() int {
	return int(s.settings.Timeout.Seconds())
}

// describe adds a hint for the LDAP result codes operators commonly hit.
func describe(address string, err error) string {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return address + " rejected the bind credentials"
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights):
		return address + " denied access"
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return address + " is not reachable"
	}
	return address
}
