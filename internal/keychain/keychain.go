// Package keychain wraps the OS secure credential store (macOS Keychain,
// Linux Secret Service, Windows Credential Manager).
package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Sentinel errors
var (
	ErrItemNotFound = errors.New("keychain item not found")
	ErrAccessDenied = errors.New("keychain access denied")
)

// Client abstracts OS keychain operations for testing
type Client interface {
	// Query retrieves a secret from the keychain
	Query(service, account string) ([]byte, error)

	// Set creates or replaces a secret
	Set(service, account string, secret []byte) error

	// Delete removes a secret
	Delete(service, account string) error
}

// Error wraps OS keychain errors with context
type Error struct {
	Op      string // Operation: "query", "set", "delete"
	Service string
	Account string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("keychain %s error for %s/%s: %v", e.Op, e.Service, e.Account, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// keyringClient implements Client on top of go-keyring.
type keyringClient struct{}

// NewClient returns the platform keychain client.
func NewClient() Client {
	return &keyringClient{}
}

func (c *keyringClient) Query(service, account string) ([]byte, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		return nil, classify("query", service, account, err)
	}
	return []byte(secret), nil
}

func (c *keyringClient) Set(service, account string, secret []byte) error {
	if err := keyring.Set(service, account, string(secret)); err != nil {
		return classify("set", service, account, err)
	}
	return nil
}

func (c *keyringClient) Delete(service, account string) error {
	if err := keyring.Delete(service, account); err != nil {
		return classify("delete", service, account, err)
	}
	return nil
}

func classify(op, service, account string, err error) error {
	switch {
	case errors.Is(err, keyring.ErrNotFound) || isNotFound(err):
		err = ErrItemNotFound
	case isAccessDenied(err):
		err = fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return &Error{Op: op, Service: service, Account: account, Err: err}
}

// isNotFound checks if an error indicates item not found
func isNotFound(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "itemNotFound")
}

// isAccessDenied checks if an error indicates access was denied
func isAccessDenied(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "accessdenied") ||
		strings.Contains(errStr, "user denied") ||
		strings.Contains(errStr, "permission denied")
}

// Reference represents a parsed keychain secret reference
type Reference struct {
	Service string
	Account string
}

// ParseReference parses a keychain reference string
// Format: service/account
func ParseReference(key string) (*Reference, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("keychain reference must be service/account format, got: %s", key)
	}

	service := strings.TrimSpace(parts[0])
	account := strings.TrimSpace(parts[1])

	if service == "" {
		return nil, fmt.Errorf("keychain reference service cannot be empty")
	}
	if account == "" {
		return nil, fmt.Errorf("keychain reference account cannot be empty")
	}

	return &Reference{Service: service, Account: account}, nil
}
