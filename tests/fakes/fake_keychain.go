package fakes

import (
	"sync"

	"github.com/systmms/laps/internal/keychain"
)

// FakeKeychainClient is a test double for keychain.Client
type FakeKeychainClient struct {
	mu sync.Mutex

	// Secrets is a map of service -> account -> value
	Secrets map[string]map[string][]byte

	// QueryErr, SetErr and DeleteErr are returned when set (overriding Secrets)
	QueryErr  error
	SetErr    error
	DeleteErr error
}

// NewFakeKeychainClient creates a new fake keychain client with defaults
func NewFakeKeychainClient() *FakeKeychainClient {
	return &FakeKeychainClient{
		Secrets: make(map[string]map[string][]byte),
	}
}

// Query retrieves a secret from the fake keychain
func (f *FakeKeychainClient) Query(service, account string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	if value, ok := f.Secrets[service][account]; ok {
		return append([]byte(nil), value...), nil
	}
	return nil, keychain.ErrItemNotFound
}

// Set adds or replaces a secret
func (f *FakeKeychainClient) Set(service, account string, secret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	if f.Secrets[service] == nil {
		f.Secrets[service] = make(map[string][]byte)
	}
	f.Secrets[service][account] = append([]byte(nil), secret...)
	return nil
}

// Delete removes a secret
func (f *FakeKeychainClient) Delete(service, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.Secrets[service][account]; !ok {
		return keychain.ErrItemNotFound
	}
	delete(f.Secrets[service], account)
	return nil
}

// Accounts returns the account names stored under service.
func (f *FakeKeychainClient) Accounts(service string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for account := range f.Secrets[service] {
		out = append(out, account)
	}
	return out
}

// Ensure FakeKeychainClient implements keychain.Client
var _ keychain.Client = (*FakeKeychainClient)(nil)
