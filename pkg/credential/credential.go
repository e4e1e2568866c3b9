// Package credential defines the data model shared by the rotation engine,
// its backends and the escrow: credentials, expiration records and the
// directory schema variant.
package credential

import (
	"fmt"
	"time"

	"github.com/systmms/laps/internal/secure"
)

// Credential is an account name paired with a plaintext password held in
// protected memory. It is owned by the operation that generated or retrieved
// it and must be destroyed once consumed.
type Credential struct {
	Account string
	secret  *secure.SecureBuffer
}

// New seals plaintext for account.
func New(account, plaintext string) (*Credential, error) {
	buf, err := secure.NewSecureBuffer([]byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to seal credential for %s: %w", account, err)
	}
	return &Credential{Account: account, secret: buf}, nil
}

// Plaintext returns a copy of the password.
func (c *Credential) Plaintext() (string, error) {
	if c == nil || c.secret == nil {
		return "", secure.ErrDestroyed
	}
	return c.secret.Reveal()
}

// Destroy invalidates the credential. Safe on nil.
func (c *Credential) Destroy() {
	if c == nil || c.secret == nil {
		return
	}
	c.secret.Destroy()
}

// String never prints the password.
func (c *Credential) String() string {
	if c == nil {
		return "<nil credential>"
	}
	return fmt.Sprintf("credential(%s, [REDACTED])", c.Account)
}

// GoString never prints the password.
func (c *Credential) GoString() string {
	return c.String()
}

// Schema is the directory attribute convention a password is escrowed under.
type Schema int

const (
	// SchemaNone is used by the local backend, which has no directory schema.
	SchemaNone Schema = iota
	// SchemaClassic is the legacy vendor attribute pair ms-Mcs-AdmPwd / ms-Mcs-AdmPwdExpirationTime.
	SchemaClassic
	// SchemaExtended is the msLAPS-Password / msLAPS-PasswordExpirationTime pair.
	SchemaExtended
)

// Attribute names for each schema.
const (
	ClassicPasswordAttribute    = "ms-Mcs-AdmPwd"
	ClassicExpirationAttribute  = "ms-Mcs-AdmPwdExpirationTime"
	ExtendedPasswordAttribute   = "msLAPS-Password"
	ExtendedExpirationAttribute = "msLAPS-PasswordExpirationTime"
)

func (s Schema) String() string {
	switch s {
	case SchemaClassic:
		return "classic"
	case SchemaExtended:
		return "extended"
	default:
		return "none"
	}
}

// ParseSchema maps a configuration value to a Schema. "auto" and "" map to SchemaNone,
// which callers treat as "detect".
func ParseSchema(v string) (Schema, error) {
	switch v {
	case "", "auto":
		return SchemaNone, nil
	case "classic":
		return SchemaClassic, nil
	case "extended":
		return SchemaExtended, nil
	}
	return SchemaNone, fmt.Errorf("unknown directory schema %q (want auto, classic or extended)", v)
}

// PasswordAttribute returns the attribute holding the password.
func (s Schema) PasswordAttribute() string {
	switch s {
	case SchemaClassic:
		return ClassicPasswordAttribute
	case SchemaExtended:
		return ExtendedPasswordAttribute
	}
	return ""
}

// ExpirationAttribute returns the attribute holding the expiration time.
func (s Schema) ExpirationAttribute() string {
	switch s {
	case SchemaClassic:
		return ClassicExpirationAttribute
	case SchemaExtended:
		return ExtendedExpirationAttribute
	}
	return ""
}

// ExpirationRecord is the persisted expiration of an account's escrowed password.
// ExpiresAt is always UTC regardless of how the backend encodes it.
type ExpirationRecord struct {
	Account   string    `json:"account" yaml:"account"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	Schema    Schema    `json:"schema" yaml:"schema"`
}

// NewExpirationRecord normalizes expiresAt to UTC.
func NewExpirationRecord(account string, expiresAt time.Time, schema Schema) ExpirationRecord {
	return ExpirationRecord{Account: account, ExpiresAt: expiresAt.UTC(), Schema: schema}
}
