// Package testutil provides testing utilities for laps.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/systmms/laps/pkg/exec"
)

var _ exec.CommandExecutor = (*MockCommandExecutor)(nil)

// MockCommandExecutor provides a configurable mock for testing the platform account stores.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args)
	Responses map[string]MockResponse

	// InputResponses maps a substring of stdin to a response. It is consulted
	// before Responses so dscl scripts can be told apart.
	InputResponses map[string]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	Err      error
	ExitCode int // Used to simulate exit codes when Err is nil
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Command string
	Args    []string
	Stdin   []byte
	Context context.Context
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses:      make(map[string]MockResponse),
		InputResponses: make(map[string]MockResponse),
		RecordedCalls:  make([]RecordedCall, 0),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return m.ExecuteWithInput(ctx, nil, name, args...)
}

// ExecuteWithInput records stdin and returns the mocked response.
func (m *MockCommandExecutor) ExecuteWithInput(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{
		Command: name,
		Args:    args,
		Stdin:   append([]byte(nil), stdin...),
		Context: ctx,
	})

	if len(stdin) > 0 {
		for needle, resp := range m.InputResponses {
			if strings.Contains(string(stdin), needle) {
				return resp.Stdout, resp.Stderr, resp.Err
			}
		}
	}

	key := m.buildKey(name, args)

	if resp, ok := m.Responses[key]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	for pattern, resp := range m.Responses {
		if m.matchesPattern(key, pattern) {
			return resp.Stdout, resp.Stderr, resp.Err
		}
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	return []byte{}, []byte{}, nil
}

// buildKey creates a lookup key from command and arguments.
func (m *MockCommandExecutor) buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// matchesPattern checks if the command key matches a pattern.
// Supports simple prefix matching for flexible response configuration.
func (m *MockCommandExecutor) matchesPattern(key, pattern string) bool {
	if strings.Contains(pattern, "*") {
		return strings.HasPrefix(key, strings.Split(pattern, "*")[0])
	}
	return strings.HasPrefix(key, pattern)
}

// AddResponse registers a mock response for a specific command pattern.
func (m *MockCommandExecutor) AddResponse(commandPattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = response
}

// AddInputResponse registers a response for any call whose stdin contains needle.
func (m *MockCommandExecutor) AddInputResponse(needle string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InputResponses[needle] = response
}

// AddErrorResponse adds an error response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, exitCode int) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout:   []byte{},
		Stderr:   []byte(errMsg),
		Err:      fmt.Errorf("exit status %d: %s", exitCode, errMsg),
		ExitCode: exitCode,
	})
}

// GetCalls returns all recorded calls matching the given command name.
func (m *MockCommandExecutor) GetCalls(commandName string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if call.Command == commandName {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Reset clears all recorded calls and responses.
func (m *MockCommandExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = make(map[string]MockResponse)
	m.InputResponses = make(map[string]MockResponse)
	m.RecordedCalls = make([]RecordedCall, 0)
	m.DefaultResponse = nil
}

// AssertCalled verifies that a specific command was called at least once.
func (m *MockCommandExecutor) AssertCalled(t interface{ Error(args ...interface{}) }, commandName string) bool {
	calls := m.GetCalls(commandName)
	if len(calls) == 0 {
		t.Error("expected command", commandName, "to be called, but it was not")
		return false
	}
	return true
}

// AssertNotCalled verifies that a specific command was never called.
func (m *MockCommandExecutor) AssertNotCalled(t interface{ Error(args ...interface{}) }, commandName string) bool {
	calls := m.GetCalls(commandName)
	if len(calls) > 0 {
		t.Error("expected command", commandName, "to not be called, but it was called", len(calls), "times")
		return false
	}
	return true
}

// AssertNoSecretInArgs verifies that secret never appeared in any recorded argv.
func (m *MockCommandExecutor) AssertNoSecretInArgs(t interface{ Error(args ...interface{}) }, secret string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.RecordedCalls {
		for _, arg := range call.Args {
			if strings.Contains(arg, secret) {
				t.Error("secret leaked into argv of", call.Command)
				return false
			}
		}
	}
	return true
}

// DsclMockResponses provides pre-configured responses for dscl.
type DsclMockResponses struct{}

// RecordFound returns a successful dscl -read.
func (DsclMockResponses) RecordFound(name string) MockResponse {
	return MockResponse{Stdout: []byte("RecordName: " + name + "\n")}
}

// RecordNotFound returns the error dscl prints for a missing record.
func (DsclMockResponses) RecordNotFound(name string) MockResponse {
	msg := fmt.Sprintf("<dscl_cmd> DS Error: -14136 (eDSRecordNotFound)\nDataSource: /Users/%s\n", name)
	return MockResponse{Stderr: []byte(msg), Err: fmt.Errorf("exit status 56")}
}

// AuthFailed returns the interactive-mode output for a rejected password.
func (DsclMockResponses) AuthFailed() MockResponse {
	return MockResponse{Stdout: []byte("Authentication for node /Local/Default failed. (-14090, eDSAuthFailed)\n")}
}

// PasswordRejected returns the output for a passwd the password server refused.
func (DsclMockResponses) PasswordRejected() MockResponse {
	return MockResponse{Stdout: []byte("passwd: DS Error: -14165 (eDSAuthPasswordQualityCheckFailed)\n")}
}
