//go:build darwin

package account

import "github.com/systmms/laps/pkg/exec"

// NewPlatformStore returns the account store for this operating system.
func NewPlatformStore(executor exec.CommandExecutor) Store {
	return NewDsclStore(executor)
}
