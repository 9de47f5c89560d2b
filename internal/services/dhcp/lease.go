package dhcp

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/transport"
)

// Lease is a committed binding of an address to an identity.
type Lease struct {
	Address  string
	Identity string
	Hostname string
	Expiry   time.Time
	Endpoint transport.Endpoint

	timer scheduler.Handle
	gen   uint64
}

// DNSUpdater is the part of the name registry a lease needs to tear down
// its record.
type DNSUpdater interface {
	Register(hostname, address string, expiry time.Time)
	RemoveIfAddress(hostname, address string) bool
}

// LeaseListener is notified after a lease has been torn down. The address
// is already back in the pool and the name record removed.
type LeaseListener interface {
	LeaseExpired(l Lease)
	LeaseReleased(l Lease)
}

// LeaseRegistry owns active leases and their expiry timers.
type LeaseRegistry struct {
	timers   scheduler.Timers
	pool     *Pool
	names    DNSUpdater
	listener LeaseListener
	leases   map[string]*Lease
	gen      uint64
	logger   *slog.Logger
}

// NewLeaseRegistry creates a registry returning addresses to pool and
// removing names from names when leases end.
func NewLeaseRegistry(timers scheduler.Timers, pool *Pool, names DNSUpdater, logger *slog.Logger) *LeaseRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseRegistry{
		timers: timers,
		pool:   pool,
		names:  names,
		leases: make(map[string]*Lease),
		logger: logger,
	}
}

// SetListener registers the teardown listener.
func (r *LeaseRegistry) SetListener(l LeaseListener) {
	r.listener = l
}

// Commit creates or updates the lease for address and (re)arms its expiry
// at now+d. Any previously armed expiry for the address is cancelled first.
func (r *LeaseRegistry) Commit(address, identity, hostname string, endpoint transport.Endpoint, now time.Time, d time.Duration) (Lease, error) {
	if holder, ok := r.pool.Holder(address); !ok || holder != identity {
		return Lease{}, fmt.Errorf("commit %s for %s: %w", address, identity, ErrAddressHeld)
	}

	l, ok := r.leases[address]
	if !ok {
		l = &Lease{Address: address}
		r.leases[address] = l
	}
	l.Identity = identity
	l.Hostname = hostname
	l.Endpoint = endpoint
	r.arm(l, now, d)

	return *l, nil
}

// Renew extends the existing lease for address to now+d.
func (r *LeaseRegistry) Renew(address string, now time.Time, d time.Duration) (Lease, error) {
	l, ok := r.leases[address]
	if !ok {
		return Lease{}, fmt.Errorf("renew %s: %w", address, ErrUnknownLease)
	}
	r.arm(l, now, d)
	return *l, nil
}

func (r *LeaseRegistry) arm(l *Lease, now time.Time, d time.Duration) {
	if l.timer != 0 {
		r.timers.Cancel(l.timer)
	}
	r.gen++
	gen := r.gen
	address := l.Address

	l.gen = gen
	l.Expiry = now.Add(d)
	l.timer = r.timers.At(l.Expiry, "lease-expiry "+address, func() {
		r.expire(address, gen)
	})
}

// Expire tears down the lease for address as if its timer had fired.
func (r *LeaseRegistry) Expire(address string) bool {
	l, ok := r.leases[address]
	if !ok {
		return false
	}
	r.timers.Cancel(l.timer)
	return r.expire(address, l.gen)
}

// expire ignores callbacks from a superseded generation.
func (r *LeaseRegistry) expire(address string, gen uint64) bool {
	l, ok := r.leases[address]
	if !ok || l.gen != gen {
		return false
	}
	r.teardown(l)
	r.logger.Info("lease expired",
		"sim_time", clock.Offset(r.timers.Now()),
		"address", l.Address,
		"identity", l.Identity,
		"hostname", l.Hostname)
	if r.listener != nil {
		r.listener.LeaseExpired(*l)
	}
	return true
}

// Release ends the lease for address early. The expiry timer is cancelled
// before any state is touched.
func (r *LeaseRegistry) Release(address string) bool {
	l, ok := r.leases[address]
	if !ok {
		return false
	}
	r.timers.Cancel(l.timer)
	r.teardown(l)
	r.logger.Info("lease released",
		"sim_time", clock.Offset(r.timers.Now()),
		"address", l.Address,
		"identity", l.Identity)
	if r.listener != nil {
		r.listener.LeaseReleased(*l)
	}
	return true
}

func (r *LeaseRegistry) teardown(l *Lease) {
	delete(r.leases, l.Address)
	r.pool.Release(l.Address)
	if r.names != nil && l.Hostname != "" {
		if r.names.RemoveIfAddress(l.Hostname, l.Address) {
			r.RestoreName(l.Hostname)
		}
	}
	l.timer = 0
}

// RestoreName points hostname back at another active lease carrying it,
// if there is one. The lease with the latest expiry wins, then the lowest
// address. It reports whether a record was written.
func (r *LeaseRegistry) RestoreName(hostname string) bool {
	if r.names == nil || hostname == "" {
		return false
	}
	var best *Lease
	for _, l := range r.leases {
		if !strings.EqualFold(l.Hostname, hostname) {
			continue
		}
		if best == nil || l.Expiry.After(best.Expiry) ||
			(l.Expiry.Equal(best.Expiry) && r.mustOffset(l.Address) < r.mustOffset(best.Address)) {
			best = l
		}
	}
	if best == nil {
		return false
	}
	r.names.Register(best.Hostname, best.Address, best.Expiry)
	r.logger.Debug("name restored to surviving lease",
		"sim_time", clock.Offset(r.timers.Now()),
		"hostname", best.Hostname,
		"address", best.Address)
	return true
}

// Get returns the lease for address.
func (r *LeaseRegistry) Get(address string) (Lease, bool) {
	l, ok := r.leases[address]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// ByIdentity returns the lease held by identity.
func (r *LeaseRegistry) ByIdentity(identity string) (Lease, bool) {
	address, ok := r.pool.AddressOf(identity)
	if !ok {
		return Lease{}, false
	}
	return r.Get(address)
}

// Len returns the number of active leases.
func (r *LeaseRegistry) Len() int {
	return len(r.leases)
}

// Leases returns all active leases ordered by address.
func (r *LeaseRegistry) Leases() []Lease {
	out := make([]Lease, 0, len(r.leases))
	for _, l := range r.leases {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.mustOffset(out[i].Address) < r.mustOffset(out[j].Address)
	})
	return out
}

func (r *LeaseRegistry) mustOffset(address string) int {
	off, _ := r.pool.offset(address)
	return off
}
