package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", Secret(tt.input).GoString())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", Secret(tt.input)))
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", Secret(tt.input)))
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("rotated %s", "admin")
	logger.Warn("replica %s is read-only", "dc2")
	logger.Error("publish failed")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ rotated admin")
	assert.Contains(t, out, "⚠ replica dc2 is read-only")
	assert.Contains(t, out, "✗ publish failed")
	assert.NotContains(t, out, "hidden")
}

func TestLoggerDebugMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	assert.True(t, logger.DebugEnabled())
	logger.Debug("schema %s", "extended")
	assert.Contains(t, buf.String(), "[DEBUG] schema extended")
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, false)

	logger.Info("colored")
	assert.Contains(t, buf.String(), "\033[32m")
}

func TestLoggerNeverPrintsWrappedSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	logger.Info("new password %s", Secret("Tr0ub4dor&3"))
	logger.Debug("details %#v", Secret("Tr0ub4dor&3"))

	assert.NotContains(t, buf.String(), "Tr0ub4dor&3")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing")
	logger.Error("nothing")
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "short secrets are left alone",
			input:    "id abc",
			secrets:  []string{"abc"},
			expected: "id abc",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
