// Package account applies and verifies passwords on the host's local user database.
package account

import (
	"context"
	"errors"
)

// ErrNoSuchAccount is returned when the named account does not exist.
var ErrNoSuchAccount = errors.New("no such local account")

// Store is the local account record contract.
type Store interface {
	// Exists reports whether the account is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Verify reports whether candidate is the account's current password.
	// It never changes anything.
	Verify(ctx context.Context, name, candidate string) (bool, error)

	// SetPassword changes the password. oldPassword may be empty when the
	// store can reset without it.
	SetPassword(ctx context.Context, name, oldPassword, newPassword string) error
}
