package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/exec"
)

const dsclPath = "/usr/bin/dscl"

// DsclStore manages macOS local accounts through dscl. Commands are fed on
// stdin in interactive mode so passwords stay out of argv.
type DsclStore struct {
	exec exec.CommandExecutor
}

// NewDsclStore creates a dscl-backed store.
func NewDsclStore(executor exec.CommandExecutor) *DsclStore {
	return &DsclStore{exec: executor}
}

func (s *DsclStore) Exists(ctx context.Context, name string) (bool, error) {
	stdout, stderr, err := s.exec.Execute(ctx, dsclPath, ".", "-read", "/Users/"+name, "RecordName")
	out := string(stdout) + string(stderr)
	if strings.Contains(out, "eDSRecordNotFound") || strings.Contains(out, "eDSUnknownNodeName") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dscl read %s failed: %w", name, err)
	}
	return true, nil
}

func (s *DsclStore) Verify(ctx context.Context, name, candidate string) (bool, error) {
	script := fmt.Sprintf("authonly %s %s\n", dsclQuote(name), dsclQuote(candidate))
	stdout, stderr, err := s.exec.ExecuteWithInput(ctx, []byte(script), dsclPath, ".")
	out := string(stdout) + string(stderr)
	switch {
	case strings.Contains(out, "eDSRecordNotFound"):
		return false, fmt.Errorf("%w: %s", ErrNoSuchAccount, name)
	case strings.Contains(out, "eDSAuthFailed"), strings.Contains(out, "eDSAuthMethodNotSupported"), strings.Contains(out, "eDSAuthAccountDisabled"):
		return false, nil
	case hasDsclError(out):
		return false, fmt.Errorf("dscl authonly %s failed: %s", name, firstLine(out))
	case err != nil:
		return false, fmt.Errorf("dscl authonly %s failed: %w", name, err)
	}
	return true, nil
}

func (s *DsclStore) SetPassword(ctx context.Context, name, oldPassword, newPassword string) error {
	script := fmt.Sprintf("passwd /Users/%s %s\n", dsclQuote(name), dsclQuote(newPassword))
	if oldPassword != "" {
		script = fmt.Sprintf("passwd /Users/%s %s %s\n", dsclQuote(name), dsclQuote(oldPassword), dsclQuote(newPassword))
	}
	stdout, stderr, err := s.exec.ExecuteWithInput(ctx, []byte(script), dsclPath, ".")
	out := string(stdout) + string(stderr)
	if strings.Contains(out, "eDSRecordNotFound") {
		return fmt.Errorf("%w: %s", ErrNoSuchAccount, name)
	}
	if hasDsclError(out) {
		msg := logging.Redact(firstLine(out), []string{oldPassword, newPassword})
		return fmt.Errorf("dscl passwd %s rejected: %s", name, msg)
	}
	if err != nil {
		return fmt.Errorf("dscl passwd %s failed: %w", name, err)
	}
	return nil
}

func hasDsclError(out string) bool {
	return strings.Contains(out, "DS Error") || strings.Contains(out, "eDS")
}

// dsclQuote wraps v in double quotes, escaping what dscl's parser interprets.
func dsclQuote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
