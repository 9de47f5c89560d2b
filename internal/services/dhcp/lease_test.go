package dhcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/services/dns"
	"grimm.is/leasenet/internal/transport"
)

type recordingListener struct {
	expired  []Lease
	released []Lease
}

func (r *recordingListener) LeaseExpired(l Lease)  { r.expired = append(r.expired, l) }
func (r *recordingListener) LeaseReleased(l Lease) { r.released = append(r.released, l) }

type leaseFixture struct {
	sched    *scheduler.Scheduler
	pool     *Pool
	names    *dns.Registry
	leases   *LeaseRegistry
	listener *recordingListener
}

func newLeaseFixture(t *testing.T) *leaseFixture {
	t.Helper()
	f := &leaseFixture{
		sched:    scheduler.New(clock.Epoch, logging.Discard()),
		pool:     newTestPool(t, "10.0.0.10", "10.0.0.12"),
		names:    dns.NewRegistry(logging.Discard()),
		listener: &recordingListener{},
	}
	f.leases = NewLeaseRegistry(f.sched, f.pool, f.names, logging.Discard().Logger)
	f.leases.SetListener(f.listener)
	return f
}

// commit allocates for identity and commits with a DNS record, as the
// server does.
func (f *leaseFixture) commit(t *testing.T, identity, hostname string, d time.Duration) Lease {
	t.Helper()
	addr, err := f.pool.Allocate(identity)
	require.NoError(t, err)
	l, err := f.leases.Commit(addr, identity, hostname, transport.Endpoint("ep-"+identity), f.sched.Now(), d)
	require.NoError(t, err)
	f.names.Register(l.Hostname, l.Address, l.Expiry)
	return l
}


func (f *leaseFixture) runUntil(t *testing.T, d time.Duration) {
	t.Helper()
	_, err := f.sched.Run(context.Background(), clock.At(d))
	require.NoError(t, err)
}

func TestLeaseRegistry_CommitSchedulesExpiry(t *testing.T) {
	f := newLeaseFixture(t)

	l := f.commit(t, "X", "host-01", 100*time.Second)
	assert.Equal(t, "10.0.0.10", l.Address)
	assert.Equal(t, clock.At(100*time.Second), l.Expiry)
	assert.Equal(t, 1, f.sched.Pending())

	got, ok := f.leases.ByIdentity("X")
	require.True(t, ok)
	assert.Equal(t, "host-01", got.Hostname)

	f.runUntil(t, 99*time.Second)
	_, ok = f.leases.Get("10.0.0.10")
	assert.True(t, ok)

	f.runUntil(t, 100*time.Second)
	_, ok = f.leases.Get("10.0.0.10")
	assert.False(t, ok)
	assert.Equal(t, 3, f.pool.Available())
	assert.Equal(t, 0, f.names.Len())
	require.Len(t, f.listener.expired, 1)
	assert.Equal(t, "X", f.listener.expired[0].Identity)
}

func TestLeaseRegistry_RenewSupersedesExpiry(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "host-01", 100*time.Second)

	f.runUntil(t, 50*time.Second)
	l, err := f.leases.Renew("10.0.0.10", f.sched.Now(), 100*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clock.At(150*time.Second), l.Expiry)
	assert.Equal(t, 1, f.sched.Pending(), "old expiry must be cancelled")

	// The original expiry instant passes without effect.
	f.runUntil(t, 120*time.Second)
	_, ok := f.leases.Get("10.0.0.10")
	assert.True(t, ok)
	assert.Empty(t, f.listener.expired)

	f.runUntil(t, 150*time.Second)
	_, ok = f.leases.Get("10.0.0.10")
	assert.False(t, ok)
	assert.Len(t, f.listener.expired, 1)
}

func TestLeaseRegistry_RecommitCancelsPriorTimer(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "host-01", 100*time.Second)

	l, err := f.leases.Commit("10.0.0.10", "X", "alice", "ep-X", clock.At(10*time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Hostname)
	assert.Equal(t, 1, f.sched.Pending())

	f.runUntil(t, 40*time.Second)
	assert.Equal(t, 0, f.leases.Len())
}

func TestLeaseRegistry_RenewUnknown(t *testing.T) {
	f := newLeaseFixture(t)
	_, err := f.leases.Renew("10.0.0.11", f.sched.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrUnknownLease)
}

func TestLeaseRegistry_CommitRequiresPoolHold(t *testing.T) {
	f := newLeaseFixture(t)

	_, err := f.leases.Commit("10.0.0.10", "X", "host-01", "ep", f.sched.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrAddressHeld)

	f.pool.Allocate("Y")
	_, err = f.leases.Commit("10.0.0.10", "X", "host-01", "ep", f.sched.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrAddressHeld)
	assert.Equal(t, 0, f.leases.Len())
}

func TestLeaseRegistry_ReleaseCancelsTimer(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "host-01", 100*time.Second)

	assert.True(t, f.leases.Release("10.0.0.10"))
	assert.False(t, f.leases.Release("10.0.0.10"))
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, 3, f.pool.Available())
	assert.Equal(t, 0, f.names.Len())
	assert.Len(t, f.listener.released, 1)

	f.runUntil(t, 200*time.Second)
	assert.Empty(t, f.listener.expired, "expiry must never fire for a released lease")
}

func TestLeaseRegistry_ExpireManually(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "host-01", 100*time.Second)

	assert.True(t, f.leases.Expire("10.0.0.10"))
	assert.False(t, f.leases.Expire("10.0.0.10"))
	assert.Equal(t, 0, f.sched.Pending())
	assert.Len(t, f.listener.expired, 1)
}

func TestLeaseRegistry_TeardownKeepsNewerNameOwner(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "printer", 100*time.Second)
	f.runUntil(t, 10*time.Second)
	f.commit(t, "Y", "printer", 200*time.Second)

	f.runUntil(t, 100*time.Second)
	addr, ok := f.names.Lookup("printer", f.sched.Now())
	assert.True(t, ok, "expiry of the older lease must not remove the newer record")
	assert.Equal(t, "10.0.0.11", addr)
}

func TestLeaseRegistry_TeardownRestoresSurvivingHolder(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "printer", 200*time.Second)
	f.runUntil(t, 10*time.Second)
	f.commit(t, "Y", "printer", 50*time.Second)

	f.runUntil(t, 60*time.Second)
	require.Len(t, f.listener.expired, 1)
	addr, ok := f.names.Lookup("printer", f.sched.Now())
	require.True(t, ok, "the older lease still holds the name")
	assert.Equal(t, "10.0.0.10", addr)

	require.True(t, f.leases.Release("10.0.0.10"))
	_, ok = f.names.Get("printer")
	assert.False(t, ok, "no holder left")
}

func TestLeaseRegistry_RestoreNamePrefersLatestExpiry(t *testing.T) {
	f := newLeaseFixture(t)
	f.commit(t, "X", "Shared", 300*time.Second)
	f.commit(t, "Y", "shared", 100*time.Second)
	f.names.Remove("shared")

	assert.True(t, f.leases.RestoreName("SHARED"))
	addr, ok := f.names.Lookup("shared", f.sched.Now())
	require.True(t, ok)
	assert.Equal(t, "10.0.0.10", addr)

	assert.False(t, f.leases.RestoreName("nobody"))
	assert.False(t, f.leases.RestoreName(""))
}

func TestLeaseRegistry_LeasesOrdered(t *testing.T) {
	f := newLeaseFixture(t)
	require.NoError(t, f.pool.Claim("10.0.0.12", "C"))
	_, err := f.leases.Commit("10.0.0.12", "C", "c", "ep", f.sched.Now(), time.Minute)
	require.NoError(t, err)
	f.commit(t, "A", "a", time.Minute)

	leases := f.leases.Leases()
	require.Len(t, leases, 2)
	assert.Equal(t, "10.0.0.10", leases[0].Address)
	assert.Equal(t, "10.0.0.12", leases[1].Address)
}
