package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertNoSecretLeak verifies that none of the secret values appear in output.
//
// Use it on command output, log buffers and error messages after an operation
// that handled passwords.
//
// Example usage:
//
//	AssertNoSecretLeak(t, logger.String(), []string{oldPassword, newPassword})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		assert.NotContains(t, output, secret,
			"Secret %q should never be printed, but appears in output", secret)
	}
}

// AssertLinesContain verifies that specific lines are present in multi-line output.
//
// This is useful for testing command output line-by-line.
//
// Example usage:
//
//	AssertLinesContain(t, output, []string{"account ladmin", "Summary:"})
func AssertLinesContain(t *testing.T, output string, expectedLines []string) {
	t.Helper()

	lines := strings.Split(output, "\n")

	for _, expected := range expectedLines {
		found := false
		for _, line := range lines {
			if strings.Contains(line, expected) {
				found = true
				break
			}
		}

		assert.True(t, found,
			"Expected to find line containing %q in output", expected)
	}
}

// AssertErrorContains verifies that an error occurred and contains a substring.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()

	assert.Error(t, err, "Expected an error to occur")
	if err != nil {
		assert.Contains(t, err.Error(), substr,
			"Error message should contain %q", substr)
	}
}
