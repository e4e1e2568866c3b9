// Package directory is the directory-service client used by the directory
// backend: bind to this computer's object, read and write its attributes and
// find a replica that accepts the write.
package directory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Bind methods.
const (
	BindSimple = "simple"
	BindNTLM   = "ntlm"
)

// Settings configure the directory connection. They are built once from the
// configuration file and never mutated.
type Settings struct {
	// Servers are LDAP URLs (ldaps://dc1.corp.example.com) or bare hosts.
	Servers []string
	// Domain enables DNS SRV discovery and provides the default base DN.
	Domain string
	BaseDN string
	// ComputerName is the sAMAccountName without the trailing '$'. Defaults to the short hostname.
	ComputerName string

	BindMethod   string
	BindDN       string
	BindPassword string

	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	DiscoverSRV        bool
}

// SearchBase returns BaseDN, or the DN derived from Domain.
func (s Settings) SearchBase() string {
	if s.BaseDN != "" {
		return s.BaseDN
	}
	return DomainToDN(s.Domain)
}

// Computer returns the computer account name to look up.
func (s Settings) Computer() (string, error) {
	if s.ComputerName != "" {
		return strings.TrimSuffix(s.ComputerName, "$"), nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname: %w", err)
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host, nil
}

// DomainToDN converts corp.example.com to DC=corp,DC=example,DC=com.
func DomainToDN(domain string) string {
	if domain == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(domain, "."), ".")
	for i, p := range parts {
		parts[i] = "DC=" + p
	}
	return strings.Join(parts, ",")
}

// Replica is a directory server and whether it accepts the target writes.
type Replica struct {
	Address  string `json:"address" yaml:"address"`
	Writable bool   `json:"writable" yaml:"writable"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Session is a bound connection to one replica, scoped to this computer's object.
type Session interface {
	// Server returns the replica address.
	Server() string

	// ComputerDN returns the distinguished name of this computer's object.
	ComputerDN(ctx context.Context) (string, error)

	// ReadAttribute returns the first value of attr on the computer object.
	// ok is false when the attribute has no value.
	ReadAttribute(ctx context.Context, attr string) (value string, ok bool, err error)

	// AllowedAttributes lists attributes the schema permits on the computer object.
	AllowedAttributes(ctx context.Context) ([]string, error)

	// AllowedAttributesEffective lists attributes the bound identity may write.
	AllowedAttributesEffective(ctx context.Context) ([]string, error)

	// ReadOnly reports whether the replica is a read-only domain controller.
	ReadOnly(ctx context.Context) (bool, error)

	// WriteAttributes replaces every attribute in values in a single modify.
	WriteAttributes(ctx context.Context, values map[string]string) error

	Close() error
}

// Client opens sessions against the directory.
type Client interface {
	// Bind connects to the first reachable replica.
	Bind(ctx context.Context) (Session, error)

	// BindReplica connects to a specific replica.
	BindReplica(ctx context.Context, address string) (Session, error)

	// EnumerateReplicas probes every known replica and reports whether it
	// accepts writes to attrs.
	EnumerateReplicas(ctx context.Context, attrs []string) ([]Replica, error)
}

// ProbeWritable reports whether s accepts writes to every attribute in attrs.
// The reason is empty when it does.
func ProbeWritable(ctx context.Context, s Session, attrs []string) (bool, string, error) {
	readOnly, err := s.ReadOnly(ctx)
	if err != nil {
		return false, "", err
	}
	if readOnly {
		return false, "read-only domain controller", nil
	}

	effective, err := s.AllowedAttributesEffective(ctx)
	if err != nil {
		return false, "", err
	}
	granted := make(map[string]bool, len(effective))
	for _, a := range effective {
		granted[strings.ToLower(a)] = true
	}
	var missing []string
	for _, a := range attrs {
		if !granted[strings.ToLower(a)] {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return false, "no write access to " + strings.Join(missing, ", "), nil
	}
	return true, "", nil
}
