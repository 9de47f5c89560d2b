package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Isolated(t *testing.T) {
	a := New(nil)
	b := New(nil)

	a.LeasesGranted.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LeasesGranted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LeasesGranted))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New(nil)
	r.LeasesGranted.Add(3)
	r.Blocked.WithLabelValues("hijack").Inc()
	r.Blocked.WithLabelValues("rate-limited").Add(2)
	r.PoolAvailable.Set(7)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 3.0, snap["leasenet_leases_granted_total"])
	assert.Equal(t, 1.0, snap["leasenet_blocked_total{reason=hijack}"])
	assert.Equal(t, 2.0, snap["leasenet_blocked_total{reason=rate-limited}"])
	assert.Equal(t, 7.0, snap["leasenet_pool_available"])

	// Vectors without observations have no series yet.
	_, ok := snap["leasenet_attacks_total"]
	assert.False(t, ok)
}

func TestRegistry_WriteText(t *testing.T) {
	r := New(nil)
	r.DNSQueries.WithLabelValues("resolved").Inc()

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), `leasenet_dns_queries_total{result="resolved"} 1`)
	assert.Contains(t, buf.String(), "# TYPE leasenet_leases_granted_total counter")
}
