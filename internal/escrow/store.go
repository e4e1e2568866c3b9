package escrow

import (
	"errors"
	"fmt"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/keychain"
)

// SecureStore is the OS-level secure credential store contract.
type SecureStore interface {
	Store(handle string, secret []byte) error
	// Load returns an EscrowError NotFound when handle does not exist.
	Load(handle string) ([]byte, error)
	// Delete returns an EscrowError NotFound when handle does not exist.
	Delete(handle string) error
}

// KeyringStore keeps escrow items in the OS keychain under one service name.
type KeyringStore struct {
	service string
	client  keychain.Client
}

// NewKeyringStore creates a store backed by the platform keychain.
func NewKeyringStore(service string) *KeyringStore {
	return NewKeyringStoreWithClient(service, keychain.NewClient())
}

// NewKeyringStoreWithClient creates a store with a custom keychain client.
func NewKeyringStoreWithClient(service string, client keychain.Client) *KeyringStore {
	return &KeyringStore{service: service, client: client}
}

// Store writes secret under handle.
func (s *KeyringStore) Store(handle string, secret []byte) error {
	if err := s.client.Set(s.service, handle, secret); err != nil {
		return mapKeychainError("store", handle, err)
	}
	return nil
}

// Load reads the secret under handle.
func (s *KeyringStore) Load(handle string) ([]byte, error) {
	secret, err := s.client.Query(s.service, handle)
	if err != nil {
		return nil, mapKeychainError("load", handle, err)
	}
	return secret, nil
}

// Delete removes the secret under handle.
func (s *KeyringStore) Delete(handle string) error {
	if err := s.client.Delete(s.service, handle); err != nil {
		return mapKeychainError("delete", handle, err)
	}
	return nil
}

func mapKeychainError(op, handle string, err error) error {
	switch {
	case errors.Is(err, keychain.ErrItemNotFound):
		return dserrors.Wrap(dserrors.KindNotFound, op, err, fmt.Sprintf("no escrow item %s", handle))
	case errors.Is(err, keychain.ErrAccessDenied):
		return dserrors.Wrap(dserrors.KindAccessDenied, op, err, fmt.Sprintf("escrow item %s", handle))
	}
	return fmt.Errorf("escrow %s of %s failed: %w", op, handle, err)
}
