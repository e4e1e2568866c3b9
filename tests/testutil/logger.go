package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/laps/internal/logging"
)

// TestLogger captures log output for validation in tests.
//
// It hands out a real *logging.Logger that writes into an in-memory buffer,
// so tests can verify that secrets never reach the log and that expected
// messages are produced.
//
// Example usage:
//
//	logger := NewTestLogger(t)
//	engine := rotation.NewEngine(..., logger.Logger())
//
//	logger.AssertNotContains(t, "password123")
type TestLogger struct {
	buffer *syncBuffer
	logger *logging.Logger
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger creates a new TestLogger with debug output enabled.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	return NewTestLoggerWithDebug(t, true)
}

// NewTestLoggerWithDebug creates a TestLogger with debug set explicitly.
func NewTestLoggerWithDebug(t *testing.T, debug bool) *TestLogger {
	t.Helper()

	buf := &syncBuffer{}
	return &TestLogger{
		buffer: buf,
		logger: logging.NewWithWriter(buf, debug, true),
	}
}

// Logger returns the logger to inject into the code under test.
func (l *TestLogger) Logger() *logging.Logger {
	return l.logger
}

// GetOutput returns the captured log output as a string.
func (l *TestLogger) GetOutput() string {
	return l.buffer.String()
}

// AssertContains asserts that the log output contains the specified substring.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain the specified substring.
//
// This is particularly useful for verifying that passwords are never logged.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}
