package rotation

import (
	"context"
	"time"

	"github.com/systmms/laps/internal/account"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/credential"
)

// LocalBackend escrows passwords in the host's secure store only. An external
// poller collects the one-time export when exports are enabled.
type LocalBackend struct {
	escrow  *escrow.Escrow
	account string
	export  bool
	logger  *logging.Logger
	apply   *applier
}

// NewLocalBackend creates a local backend for account.
func NewLocalBackend(esc *escrow.Escrow, accounts account.Store, name string, logger *logging.Logger, exportEnabled bool) *LocalBackend {
	return &LocalBackend{
		escrow:  esc,
		account: name,
		export:  exportEnabled,
		logger:  logger,
		apply:   &applier{accounts: accounts, journal: esc, logger: logger},
	}
}

func (b *LocalBackend) Name() string              { return BackendLocal }
func (b *LocalBackend) Schema() credential.Schema { return credential.SchemaNone }
func (b *LocalBackend) Close() error              { return nil }

// Open destroys the export left by the previous run.
func (b *LocalBackend) Open(ctx context.Context) error {
	id, err := b.escrow.ReclaimPrior()
	if err != nil {
		return err
	}
	if id != "" {
		b.logger.Debug("Reclaimed prior export %s", id)
	}
	return nil
}

// CurrentExpiration reads the durable record. With no record the expiration
// is the zero time, which is always due.
func (b *LocalBackend) CurrentExpiration(ctx context.Context) (credential.ExpirationRecord, error) {
	cred, rec, err := b.escrow.Current()
	if err != nil {
		if dserrors.IsKind(err, dserrors.KindNotFound) {
			return credential.NewExpirationRecord(b.account, time.Time{}, credential.SchemaNone), nil
		}
		return credential.ExpirationRecord{}, err
	}
	cred.Destroy()
	return rec, nil
}

// Rotate applies in.Credential and then commits it as the durable record.
func (b *LocalBackend) Rotate(ctx context.Context, in RotateInput) (credential.ExpirationRecord, error) {
	rec := credential.NewExpirationRecord(b.account, in.ExpiresAt, credential.SchemaNone)

	old, err := b.escrowedPassword()
	if err != nil {
		return credential.ExpirationRecord{}, err
	}

	err = b.apply.run(ctx, applyRequest{
		account:     b.account,
		cred:        in.Credential,
		rec:         rec,
		oldPassword: old,
		firstPass:   in.FirstPass,
		publish: func(ctx context.Context) error {
			return b.publish(in.Credential, rec)
		},
	})
	if err != nil {
		return credential.ExpirationRecord{}, err
	}
	return rec, nil
}

// Republish commits a credential the account already holds.
func (b *LocalBackend) Republish(ctx context.Context, cred *credential.Credential, rec credential.ExpirationRecord) error {
	return b.publish(cred, credential.NewExpirationRecord(b.account, rec.ExpiresAt, credential.SchemaNone))
}

func (b *LocalBackend) publish(cred *credential.Credential, rec credential.ExpirationRecord) error {
	if err := b.escrow.Commit(cred, rec); err != nil {
		return err
	}
	if !b.export {
		return nil
	}
	if h, err := b.escrow.Land(cred, rec); err != nil {
		b.logger.Warn("Password was escrowed but the one-time export failed: %v", err)
	} else {
		b.logger.Debug("Exported password under handle %s", h.ID)
	}
	return nil
}

func (b *LocalBackend) escrowedPassword() (string, error) {
	cred, _, err := b.escrow.Current()
	if err != nil {
		if dserrors.IsKind(err, dserrors.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	defer cred.Destroy()
	return cred.Plaintext()
}
