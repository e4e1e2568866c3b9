package account

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/exec"
)

// DefaultShadowPath is the Linux shadow password file.
const DefaultShadowPath = "/etc/shadow"

// chpasswdArgs selects a crypt method Verify understands.
var chpasswdArgs = []string{"-c", "SHA512"}

// ErrUnsupportedHash is returned by Verify for hash schemes that cannot be checked locally.
var ErrUnsupportedHash = errors.New("unsupported password hash scheme")

// ShadowStore manages Linux local accounts: verification against the shadow
// file, changes through chpasswd.
type ShadowStore struct {
	exec       exec.CommandExecutor
	shadowPath string
	lookup     func(string) (*user.User, error)
}

// NewShadowStore creates a shadow-backed store.
func NewShadowStore(executor exec.CommandExecutor, shadowPath string) *ShadowStore {
	if shadowPath == "" {
		shadowPath = DefaultShadowPath
	}
	return &ShadowStore{exec: executor, shadowPath: shadowPath, lookup: user.Lookup}
}

func (s *ShadowStore) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := s.lookup(name); err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up %s: %w", name, err)
	}
	return true, nil
}

func (s *ShadowStore) Verify(ctx context.Context, name, candidate string) (bool, error) {
	hash, err := s.hashFor(name)
	if err != nil {
		return false, err
	}
	// Locked or passwordless accounts never verify.
	if hash == "" || strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*") {
		return false, nil
	}
	if !crypt.IsHashSupported(hash) {
		return false, fmt.Errorf("%w for %s", ErrUnsupportedHash, name)
	}
	if err := crypt.NewFromHash(hash).Verify(hash, []byte(candidate)); err != nil {
		if errors.Is(err, crypt.ErrKeyMismatch) {
			return false, nil
		}
		return false, fmt.Errorf("failed to verify %s: %w", name, err)
	}
	return true, nil
}

// SetPassword ignores oldPassword: chpasswd run as root resets directly.
// The hash method is pinned to SHA512, one Verify understands.
func (s *ShadowStore) SetPassword(ctx context.Context, name, oldPassword, newPassword string) error {
	if strings.ContainsAny(newPassword, ":\n") {
		return fmt.Errorf("password for %s contains a character chpasswd cannot accept", name)
	}
	input := []byte(name + ":" + newPassword + "\n")
	_, stderr, err := s.exec.ExecuteWithInput(ctx, input, "chpasswd", chpasswdArgs...)
	if err != nil {
		msg := logging.Redact(strings.TrimSpace(string(stderr)), []string{newPassword})
		if code := exec.ExitCode(err); code > 0 {
			return fmt.Errorf("chpasswd rejected the password for %s (exit %d): %s: %w", name, code, msg, err)
		}
		return fmt.Errorf("chpasswd rejected the password for %s: %s: %w", name, msg, err)
	}
	return nil
}

func (s *ShadowStore) hashFor(name string) (string, error) {
	f, err := os.Open(s.shadowPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", s.shadowPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), ":", 3)
		if len(fields) >= 2 && fields[0] == name {
			return fields[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s.shadowPath, err)
	}
	return "", fmt.Errorf("%w: %s", ErrNoSuchAccount, name)
}
