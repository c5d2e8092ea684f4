package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordRPCCallTracksSuccessRate(t *testing.T) {
	r := NewInMemoryRecorder()
	r.RecordRPCCall("getBalance", 10*time.Millisecond, true)
	r.RecordRPCCall("getBalance", 10*time.Millisecond, true)
	r.RecordRPCCall("getBalance", 10*time.Millisecond, false)

	status := r.GetHealthStatus()
	require.Equal(t, "Degraded", status.Status, "2/3 success rate is below the 90% threshold")
}

func TestGetHealthStatusOKWithNoCalls(t *testing.T) {
	r := NewInMemoryRecorder()
	status := r.GetHealthStatus()
	require.Equal(t, "OK", status.Status)
}

func TestExportIncludesRecordedCounters(t *testing.T) {
	r := NewInMemoryRecorder()
	r.RecordSuccessfulPurchase("usdc", 10)
	out := r.Export()
	require.Contains(t, out, "crossrail_successful_purchase_total")
	require.Contains(t, out, `ticker="usdc"`)
}

func TestResetClearsCounters(t *testing.T) {
	r := NewInMemoryRecorder()
	r.RecordSuccessfulPurchase("usdc", 10)
	r.Reset()
	require.Empty(t, r.Export())
}
