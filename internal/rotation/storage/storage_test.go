package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStorage(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	storage := NewFileStorage(tmpDir)

	require.NotNil(t, storage)
	assert.Equal(t, tmpDir, storage.baseDir)
}

func TestDefaultStorageDir(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv

	t.Run("with LAPS_STATE_DIR env var", func(t *testing.T) {
		t.Setenv("LAPS_STATE_DIR", "/custom/dir")
		assert.Equal(t, "/custom/dir", DefaultStorageDir())
	})

	t.Run("fallback", func(t *testing.T) {
		t.Setenv("LAPS_STATE_DIR", "")
		assert.Equal(t, "/var/db/laps", DefaultStorageDir())
	})
}

func TestFileStorage_SaveAndGetStatus(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.AddDate(0, 0, 30)
	status := &RotationStatus{
		Account:       "ladmin",
		Backend:       "directory",
		Schema:        "extended",
		LastRun:       now,
		LastRotation:  &now,
		ExpiresAt:     &expires,
		LastResult:    "Rotated",
		LastDecision:  "DueNormal",
		RunCount:      3,
		RotationCount: 2,
	}
	require.NoError(t, storage.SaveStatus(status))

	got, err := storage.GetStatus("ladmin")
	require.NoError(t, err)
	assert.Equal(t, "directory", got.Backend)
	assert.Equal(t, 2, got.RotationCount)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
}

func TestFileStorage_GetStatusMissing(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	_, err := storage.GetStatus("nobody")
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestFileStorage_HistoryNewestFirst(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	results := []string{"Skipped", "Rotated", "Failed"}
	for i, result := range results {
		entry := &HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Account:   "ladmin",
			Action:    "rotate",
			Result:    result,
		}
		require.NoError(t, storage.SaveHistory(entry))
		assert.NotEmpty(t, entry.ID)
	}

	all, err := storage.GetHistory("ladmin", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Failed", all[0].Result)
	assert.Equal(t, "Skipped", all[2].Result)

	limited, err := storage.GetHistory("ladmin", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFileStorage_HistorySameSecond(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, storage.SaveHistory(&HistoryEntry{Timestamp: base, Account: "ladmin", Result: "Rotated"}))
	require.NoError(t, storage.SaveHistory(&HistoryEntry{Timestamp: base.Add(time.Millisecond), Account: "ladmin", Result: "Skipped"}))

	entries, err := storage.GetHistory("ladmin", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileStorage_HistoryEmpty(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	entries, err := storage.GetHistory("ladmin", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStorage_HistorySkipsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storage := NewFileStorage(dir)
	require.NoError(t, storage.SaveHistory(&HistoryEntry{Timestamp: time.Now(), Account: "ladmin", Result: "Rotated"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "ladmin", "99999999-999999-0.json"), []byte("{"), 0600))

	entries, err := storage.GetHistory("ladmin", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStorage_CleanupOldEntries(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	now := time.Now().UTC()

	require.NoError(t, storage.SaveHistory(&HistoryEntry{Timestamp: now.AddDate(0, 0, -400), Account: "ladmin", Result: "Rotated"}))
	require.NoError(t, storage.SaveHistory(&HistoryEntry{Timestamp: now, Account: "ladmin", Result: "Skipped"}))

	require.NoError(t, storage.CleanupOldEntries(365*24*time.Hour))

	entries, err := storage.GetHistory("ladmin", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Skipped", entries[0].Result)
}

func TestFileStorage_CleanupWithoutHistory(t *testing.T) {
	t.Parallel()

	storage := NewFileStorage(t.TempDir())
	assert.NoError(t, storage.CleanupOldEntries(time.Hour))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ladmin", "ladmin"},
		{"CORP\\admin", "CORP-admin"},
		{"local admin", "local_admin"},
		{"a/b:c", "a-b-c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in))
	}
}
