package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/systmms/laps/internal/account"
	"github.com/systmms/laps/internal/clock"
	"github.com/systmms/laps/internal/directory"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/credential"
)

// DirectoryBackend escrows passwords on this computer's directory object.
// The directory is authoritative for the expiration.
type DirectoryBackend struct {
	client   directory.Client
	account  string
	override credential.Schema
	clock    clock.Clock
	logger   *logging.Logger
	apply    *applier

	session directory.Session
	schema  credential.Schema
}

// DirectoryOption customizes a DirectoryBackend.
type DirectoryOption func(*DirectoryBackend)

// WithDirectoryClock sets the clock used for the extended schema's update time.
func WithDirectoryClock(c clock.Clock) DirectoryOption {
	return func(b *DirectoryBackend) { b.clock = c }
}

// NewDirectoryBackend creates a directory backend. override forces a schema;
// SchemaNone means detect it.
func NewDirectoryBackend(client directory.Client, esc *escrow.Escrow, accounts account.Store, name string,
	override credential.Schema, logger *logging.Logger, opts ...DirectoryOption) *DirectoryBackend {
	b := &DirectoryBackend{
		client:   client,
		account:  name,
		override: override,
		clock:    clock.System{},
		logger:   logger,
		apply:    &applier{accounts: accounts, journal: esc, logger: logger},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DirectoryBackend) Name() string              { return BackendDirectory }
func (b *DirectoryBackend) Schema() credential.Schema { return b.schema }

// Open connects and negotiates the schema.
func (b *DirectoryBackend) Open(ctx context.Context) error {
	session, err := b.Connect(ctx)
	if err != nil {
		return err
	}
	schema, err := DetectSchema(ctx, session, b.override)
	if err != nil {
		if cerr := session.Close(); cerr != nil {
			b.logger.Debug("Closing directory session: %v", cerr)
		}
		return err
	}
	b.session = session
	b.schema = schema
	b.logger.Debug("Using %s directory schema on %s", schema, session.Server())
	return nil
}

// Connect binds to the first reachable replica.
func (b *DirectoryBackend) Connect(ctx context.Context) (directory.Session, error) {
	session, err := b.client.Bind(ctx)
	if err != nil {
		if dserrors.KindOf(err) == dserrors.KindUnknown {
			return nil, dserrors.Wrap(dserrors.KindUnreachable, "bind", err, "no directory service could be contacted")
		}
		return nil, err
	}
	return session, nil
}

func (b *DirectoryBackend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

// CurrentExpiration reads the expiration attribute of the negotiated schema.
func (b *DirectoryBackend) CurrentExpiration(ctx context.Context) (credential.ExpirationRecord, error) {
	if b.session == nil {
		return credential.ExpirationRecord{}, fmt.Errorf("directory backend is not open")
	}
	return ReadExpiration(ctx, b.session, b.account, b.schema)
}

// VerifyWritableReplica returns the first replica that accepts writes to both
// schema attributes.
func (b *DirectoryBackend) VerifyWritableReplica(ctx context.Context) (directory.Replica, error) {
	attrs := []string{b.schema.PasswordAttribute(), b.schema.ExpirationAttribute()}
	replicas, err := b.client.EnumerateReplicas(ctx, attrs)
	if err != nil {
		return directory.Replica{}, err
	}

	var reasons []string
	for _, r := range replicas {
		if r.Writable {
			b.logger.Debug("Writable replica: %s", r.Address)
			return r, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", r.Address, r.Reason))
	}
	if len(reasons) == 0 {
		return directory.Replica{}, dserrors.New(dserrors.KindNoWritableReplica, "replicas", "no directory replicas were found")
	}
	return directory.Replica{}, dserrors.New(dserrors.KindNoWritableReplica, "replicas", strings.Join(reasons, "; "))
}

// Rotate applies in.Credential locally and then writes the password and
// expiration attributes to a writable replica in one modify. Everything that
// can fail without touching the account runs before the apply.
func (b *DirectoryBackend) Rotate(ctx context.Context, in RotateInput) (credential.ExpirationRecord, error) {
	if b.session == nil {
		return credential.ExpirationRecord{}, fmt.Errorf("directory backend is not open")
	}
	rec := credential.NewExpirationRecord(b.account, in.ExpiresAt, b.schema)

	values, err := b.attributeValues(in.Credential, rec)
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	target, err := b.writableSession(ctx)
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	defer target.Close()

	err = b.apply.run(ctx, applyRequest{
		account:     b.account,
		cred:        in.Credential,
		rec:         rec,
		oldPassword: b.directoryPassword(ctx),
		firstPass:   in.FirstPass,
		publish: func(ctx context.Context) error {
			return target.WriteAttributes(ctx, values)
		},
	})
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	b.logger.Debug("Wrote %s and %s on %s", b.schema.PasswordAttribute(), b.schema.ExpirationAttribute(), target.Server())
	return rec, nil
}

// Republish writes a credential the account already holds.
func (b *DirectoryBackend) Republish(ctx context.Context, cred *credential.Credential, rec credential.ExpirationRecord) error {
	if b.session == nil {
		return fmt.Errorf("directory backend is not open")
	}
	values, err := b.attributeValues(cred, credential.NewExpirationRecord(b.account, rec.ExpiresAt, b.schema))
	if err != nil {
		return err
	}
	target, err := b.writableSession(ctx)
	if err != nil {
		return err
	}
	defer target.Close()
	return target.WriteAttributes(ctx, values)
}

func (b *DirectoryBackend) writableSession(ctx context.Context) (directory.Session, error) {
	replica, err := b.VerifyWritableReplica(ctx)
	if err != nil {
		return nil, err
	}
	return b.client.BindReplica(ctx, replica.Address)
}

// extendedPassword is the JSON value of msLAPS-Password.
type extendedPassword struct {
	Account  string `json:"n"`
	Updated  string `json:"t"`
	Password string `json:"p"`
}

func (b *DirectoryBackend) attributeValues(cred *credential.Credential, rec credential.ExpirationRecord) (map[string]string, error) {
	plaintext, err := cred.Plaintext()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	expiration, err := clock.FormatDirectoryNative(rec.ExpiresAt)
	if err != nil {
		return nil, err
	}

	password := plaintext
	if b.schema == credential.SchemaExtended {
		password, err = encodeExtendedPassword(b.account, plaintext, b.clock.Now())
		if err != nil {
			return nil, err
		}
	}
	return map[string]string{
		b.schema.PasswordAttribute():   password,
		b.schema.ExpirationAttribute(): expiration,
	}, nil
}

func encodeExtendedPassword(name, plaintext string, updated time.Time) (string, error) {
	ticks, err := clock.ToDirectoryNative(updated)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(extendedPassword{Account: name, Updated: strconv.FormatInt(ticks, 16), Password: plaintext}); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", credential.ExtendedPasswordAttribute, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeExtendedPassword(raw string) (string, error) {
	var v extendedPassword
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", fmt.Errorf("%s is not valid JSON: %w", credential.ExtendedPasswordAttribute, err)
	}
	return v.Password, nil
}

// directoryPassword returns the escrowed password, or "" when it cannot be read.
func (b *DirectoryBackend) directoryPassword(ctx context.Context) string {
	raw, ok, err := b.session.ReadAttribute(ctx, b.schema.PasswordAttribute())
	if err != nil || !ok {
		return ""
	}
	if b.schema == credential.SchemaExtended {
		pw, err := decodeExtendedPassword(raw)
		if err != nil {
			b.logger.Debug("Ignoring unreadable escrowed password: %v", err)
			return ""
		}
		return pw
	}
	return raw
}

// DetectSchema picks the schema used on the computer object. An override wins.
// Otherwise the schema whose expiration attribute has a value is used, then the
// one the directory schema permits; Extended is preferred in both checks.
func DetectSchema(ctx context.Context, s directory.Session, override credential.Schema) (credential.Schema, error) {
	if override != credential.SchemaNone {
		return override, nil
	}

	candidates := []credential.Schema{credential.SchemaExtended, credential.SchemaClassic}
	for _, schema := range candidates {
		_, ok, err := s.ReadAttribute(ctx, schema.ExpirationAttribute())
		if err != nil {
			return credential.SchemaNone, err
		}
		if ok {
			return schema, nil
		}
	}

	allowed, err := s.AllowedAttributes(ctx)
	if err != nil {
		return credential.SchemaNone, err
	}
	permitted := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		permitted[strings.ToLower(a)] = true
	}
	for _, schema := range candidates {
		if permitted[strings.ToLower(schema.PasswordAttribute())] && permitted[strings.ToLower(schema.ExpirationAttribute())] {
			return schema, nil
		}
	}
	return credential.SchemaNone, dserrors.New(dserrors.KindSchemaNotProvisioned, "detect schema",
		fmt.Sprintf("computer object has neither %s nor %s", credential.ClassicPasswordAttribute, credential.ExtendedPasswordAttribute))
}

// ReadExpiration reads and converts the schema's expiration attribute. A
// missing value yields a zero ExpiresAt.
func ReadExpiration(ctx context.Context, s directory.Session, name string, schema credential.Schema) (credential.ExpirationRecord, error) {
	raw, ok, err := s.ReadAttribute(ctx, schema.ExpirationAttribute())
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return credential.NewExpirationRecord(name, time.Time{}, schema), nil
	}
	expiresAt, err := clock.ParseDirectoryNative(raw)
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	return credential.NewExpirationRecord(name, expiresAt, schema), nil
}
