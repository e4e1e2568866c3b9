package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/laps/internal/account"
)

// SetCall records one SetPassword call.
type SetCall struct {
	Account     string
	OldPassword string
	NewPassword string
}

// FakeAccountStore is an in-memory account.Store.
type FakeAccountStore struct {
	mu        sync.Mutex
	passwords map[string]string

	// SetErr is returned by SetPassword without changing anything.
	SetErr error
	// IgnoreSet makes SetPassword report success without changing the password.
	IgnoreSet bool
	// VerifyErr is returned by Verify when set.
	VerifyErr error

	SetCalls    []SetCall
	VerifyCalls int
}

// NewFakeAccountStore creates an empty store.
func NewFakeAccountStore() *FakeAccountStore {
	return &FakeAccountStore{passwords: make(map[string]string)}
}

// WithAccount adds an account with password.
func (f *FakeAccountStore) WithAccount(name, password string) *FakeAccountStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[name] = password
	return f
}

// Password returns the account's current password.
func (f *FakeAccountStore) Password(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwords[name]
}

func (f *FakeAccountStore) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.passwords[name]
	return ok, nil
}

func (f *FakeAccountStore) Verify(ctx context.Context, name, candidate string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VerifyCalls++
	if f.VerifyErr != nil {
		return false, f.VerifyErr
	}
	current, ok := f.passwords[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", account.ErrNoSuchAccount, name)
	}
	return current == candidate, nil
}

func (f *FakeAccountStore) SetPassword(ctx context.Context, name, oldPassword, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetCalls = append(f.SetCalls, SetCall{Account: name, OldPassword: oldPassword, NewPassword: newPassword})
	if f.SetErr != nil {
		return f.SetErr
	}
	if _, ok := f.passwords[name]; !ok {
		return fmt.Errorf("%w: %s", account.ErrNoSuchAccount, name)
	}
	if !f.IgnoreSet {
		f.passwords[name] = newPassword
	}
	return nil
}

// SetCount returns the number of SetPassword calls.
func (f *FakeAccountStore) SetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SetCalls)
}

var _ account.Store = (*FakeAccountStore)(nil)
