package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() Run {
	return Run{
		Account:       "ladmin",
		Backend:       "local",
		Result:        "Rotated",
		ExpiresAt:     time.Unix(1800000000, 0),
		Finished:      time.Unix(1790000000, 0),
		Duration:      1500 * time.Millisecond,
		RotationCount: 4,
		FailureCount:  1,
	}
}

func TestRotationMetrics_ObserveRun(t *testing.T) {
	t.Parallel()

	m := NewRotationMetrics()
	m.ObserveRun(sampleRun())

	assert.Equal(t, float64(1800000000), testutil.ToFloat64(m.expiration.WithLabelValues("ladmin", "local")))
	assert.Equal(t, float64(1790000000), testutil.ToFloat64(m.lastRun.WithLabelValues("ladmin", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastResult.WithLabelValues("ladmin", "local", "Rotated")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastResult.WithLabelValues("ladmin", "local", "Failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.rotationsTotal.WithLabelValues("ladmin", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues("ladmin", "local")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.lastErrorKind))
}

func TestRotationMetrics_ObserveFailure(t *testing.T) {
	t.Parallel()

	m := NewRotationMetrics()
	run := sampleRun()
	run.Result = "Failed"
	run.ErrorKind = "BackendError: NoWritableReplica"
	run.ExpiresAt = time.Time{}
	m.ObserveRun(run)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastErrorKind.WithLabelValues("ladmin", "local", "BackendError: NoWritableReplica")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.expiration))
}

func TestRotationMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *RotationMetrics
	assert.NotPanics(t, func() { m.ObserveRun(sampleRun()) })
}

func TestRotationMetrics_WriteTextfile(t *testing.T) {
	t.Parallel()

	m := NewRotationMetrics()
	m.ObserveRun(sampleRun())

	path := filepath.Join(t.TempDir(), "textfile", "laps.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, "laps_password_expiration_timestamp_seconds"))
	assert.Contains(t, out, `laps_last_run_result{account="ladmin",backend="local",result="Rotated"} 1`)
	assert.Contains(t, out, "laps_run_duration_seconds_bucket")
}
