//go:build !darwin && !linux

package account

import (
	"context"
	"errors"

	"github.com/systmms/laps/pkg/exec"
)

var errUnsupportedPlatform = errors.New("local account management is not supported on this platform")

type unsupportedStore struct{}

// NewPlatformStore returns the account store for this operating system.
func NewPlatformStore(exec.CommandExecutor) Store {
	return unsupportedStore{}
}

func (unsupportedStore) Exists(context.Context, string) (bool, error) {
	return false, errUnsupportedPlatform
}

func (unsupportedStore) Verify(context.Context, string, string) (bool, error) {
	return false, errUnsupportedPlatform
}

func (unsupportedStore) SetPassword(context.Context, string, string, string) error {
	return errUnsupportedPlatform
}
