// Package escrow lands passwords in the OS secure credential store.
//
// Three kinds of items are kept per account:
//
//   - the durable record: the current password and its expiration, read by
//     the local backend to decide whether rotation is due;
//   - the pending journal: a password staged before it is applied to the
//     local account, kept until it has been published;
//   - the one-time export: a copy under a random handle whose id is written
//     to a marker file so an external poller can read it once. The next run
//     reclaims and deletes it, so at most one export exists at a time.
package escrow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/laps/internal/clock"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/credential"
)

// Handle is a transient, single-use landing spot for a secret.
type Handle struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// payload is what is written to the secure store.
type payload struct {
	Account   string            `json:"account"`
	Password  string            `json:"password"`
	ExpiresAt time.Time         `json:"expires_at"`
	Schema    credential.Schema `json:"schema"`
	WrittenAt time.Time         `json:"written_at"`
}

// Escrow lands, reclaims and retrieves secrets for one account.
type Escrow struct {
	store      SecureStore
	account    string
	markerPath string
	clock      clock.Clock
	logger     *logging.Logger
	newID      func() string
}

// Option customizes an Escrow.
type Option func(*Escrow)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Escrow) { e.clock = c }
}

// WithIDGenerator replaces the random handle generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Escrow) { e.newID = f }
}

// New creates an Escrow. markerPath is the file that records the live export handle.
func New(store SecureStore, account, markerPath string, logger *logging.Logger, opts ...Option) *Escrow {
	e := &Escrow{
		store:      store,
		account:    account,
		markerPath: markerPath,
		clock:      clock.System{},
		logger:     logger,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkerPath returns the marker file location.
func (e *Escrow) MarkerPath() string {
	return e.markerPath
}

func (e *Escrow) recordHandle() string  { return e.account + ".current" }
func (e *Escrow) pendingHandle() string { return e.account + ".pending" }
func exportHandle(id string) string     { return "export." + id }

// Commit writes the durable record for the account.
func (e *Escrow) Commit(cred *credential.Credential, rec credential.ExpirationRecord) error {
	return e.put("commit", e.recordHandle(), cred, rec)
}

// Current reads the durable record. It fails with EscrowError NotFound when none exists.
func (e *Escrow) Current() (*credential.Credential, credential.ExpirationRecord, error) {
	return e.get(e.recordHandle())
}

// Stage journals a password before it is applied to the local account.
func (e *Escrow) Stage(cred *credential.Credential, rec credential.ExpirationRecord) error {
	return e.put("stage", e.pendingHandle(), cred, rec)
}

// Pending returns the staged password, if any. A missing journal is not an error.
func (e *Escrow) Pending() (*credential.Credential, credential.ExpirationRecord, bool, error) {
	cred, rec, err := e.get(e.pendingHandle())
	if err != nil {
		if dserrors.IsKind(err, dserrors.KindNotFound) {
			return nil, credential.ExpirationRecord{}, false, nil
		}
		return nil, credential.ExpirationRecord{}, false, err
	}
	return cred, rec, true, nil
}

// ClearPending removes the journal. A missing journal is not an error.
func (e *Escrow) ClearPending() error {
	if err := e.store.Delete(e.pendingHandle()); err != nil && !dserrors.IsKind(err, dserrors.KindNotFound) {
		return err
	}
	return nil
}

// Land stores cred under a fresh random handle and records the handle id in
// the marker file. A previously landed handle is deleted afterwards so that at
// most one export stays live.
func (e *Escrow) Land(cred *credential.Credential, rec credential.ExpirationRecord) (Handle, error) {
	prior, _, err := e.readMarker(e.markerPath)
	if err != nil && !dserrors.IsKind(err, dserrors.KindNotFound) {
		return Handle{}, err
	}

	h := Handle{ID: e.newID(), CreatedAt: e.clock.Now()}
	if err := e.put("land", exportHandle(h.ID), cred, rec); err != nil {
		return Handle{}, err
	}
	if err := e.writeMarker(h); err != nil {
		// Do not leave an unreachable secret behind.
		_ = e.store.Delete(exportHandle(h.ID))
		return Handle{}, err
	}

	if prior.ID != "" && prior.ID != h.ID {
		if err := e.store.Delete(exportHandle(prior.ID)); err != nil && !dserrors.IsKind(err, dserrors.KindNotFound) {
			e.logger.Warn("Failed to delete prior escrow handle %s: %v", prior.ID, err)
		}
	}
	e.logger.Debug("Landed escrow handle %s for %s", h.ID, e.account)
	return h, nil
}

// ReclaimPrior deletes the export named by the marker and clears the marker.
// It returns the reclaimed handle id, or "" when no marker exists.
//
// The marker is first renamed to a per-process claim file so that two
// concurrent invocations cannot both reclaim the same handle.
func (e *Escrow) ReclaimPrior() (string, error) {
	claim := e.markerPath + ".reclaim." + strconv.Itoa(os.Getpid())
	if err := os.Rename(e.markerPath, claim); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to claim escrow marker: %w", err)
	}
	defer os.Remove(claim)

	h, _, err := e.readMarker(claim)
	if err != nil {
		if dserrors.IsKind(err, dserrors.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	if err := e.store.Delete(exportHandle(h.ID)); err != nil && !dserrors.IsKind(err, dserrors.KindNotFound) {
		// Put the marker back so the next run can try again.
		_ = os.Rename(claim, e.markerPath)
		return "", err
	}
	e.logger.Debug("Reclaimed escrow handle %s", h.ID)
	return h.ID, nil
}

// Retrieve reads the currently landed export without deleting it.
func (e *Escrow) Retrieve() (*credential.Credential, credential.ExpirationRecord, Handle, error) {
	h, ok, err := e.readMarker(e.markerPath)
	if err != nil {
		return nil, credential.ExpirationRecord{}, Handle{}, err
	}
	if !ok {
		return nil, credential.ExpirationRecord{}, Handle{}, dserrors.New(dserrors.KindNotFound, "retrieve", "no escrow handle has been landed")
	}
	cred, rec, err := e.get(exportHandle(h.ID))
	if err != nil {
		return nil, credential.ExpirationRecord{}, Handle{}, err
	}
	return cred, rec, h, nil
}

func (e *Escrow) put(op, handle string, cred *credential.Credential, rec credential.ExpirationRecord) error {
	plaintext, err := cred.Plaintext()
	if err != nil {
		return fmt.Errorf("escrow %s: %w", op, err)
	}
	data, err := json.Marshal(payload{
		Account:   cred.Account,
		Password:  plaintext,
		ExpiresAt: rec.ExpiresAt.UTC(),
		Schema:    rec.Schema,
		WrittenAt: e.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal escrow payload: %w", err)
	}
	return e.store.Store(handle, data)
}

func (e *Escrow) get(handle string) (*credential.Credential, credential.ExpirationRecord, error) {
	data, err := e.store.Load(handle)
	if err != nil {
		return nil, credential.ExpirationRecord{}, err
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, credential.ExpirationRecord{}, fmt.Errorf("escrow item %s is corrupt: %w", handle, err)
	}
	cred, err := credential.New(p.Account, p.Password)
	if err != nil {
		return nil, credential.ExpirationRecord{}, err
	}
	return cred, credential.NewExpirationRecord(p.Account, p.ExpiresAt, p.Schema), nil
}

// readMarker returns the handle recorded at path. ok is false when the file
// does not exist; err carries NotFound only for an empty marker.
func (e *Escrow) readMarker(path string) (Handle, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Handle{}, false, nil
		}
		if os.IsPermission(err) {
			return Handle{}, false, dserrors.Wrap(dserrors.KindAccessDenied, "read marker", err, path)
		}
		return Handle{}, false, fmt.Errorf("failed to read escrow marker: %w", err)
	}
	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return Handle{}, false, fmt.Errorf("escrow marker %s is corrupt: %w", path, err)
	}
	if h.ID == "" {
		return Handle{}, false, dserrors.New(dserrors.KindNotFound, "read marker", "marker holds no handle")
	}
	return h, true, nil
}

// writeMarker atomically replaces the marker file.
func (e *Escrow) writeMarker(h Handle) error {
	dir := filepath.Dir(e.markerPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal escrow marker: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return fmt.Errorf("failed to create escrow marker: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write escrow marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write escrow marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.markerPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to install escrow marker: %w", err)
	}
	return nil
}

