// Package dns holds the name records derived from active leases.
package dns

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
)

// Record maps a hostname to a leased address until Expiry.
type Record struct {
	Hostname string
	Address  string
	Expiry   time.Time
}

// Registry stores at most one record per hostname; the last writer wins.
// Names compare case-insensitively.
type Registry struct {
	records map[string]Record
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		records: make(map[string]Record),
		logger:  logger.WithComponent("dns").Logger,
	}
}

func key(hostname string) string {
	return strings.ToLower(dns.Fqdn(hostname))
}

// Register adds or overwrites the record for hostname.
func (r *Registry) Register(hostname, address string, expiry time.Time) {
	k := key(hostname)
	if prev, ok := r.records[k]; ok && prev.Address != address {
		r.logger.Debug("record overwritten", "hostname", hostname, "old", prev.Address, "new", address)
	}
	r.records[k] = Record{Hostname: hostname, Address: address, Expiry: expiry}
	r.logger.Debug("record registered",
		"hostname", hostname,
		"address", address,
		"expiry", clock.Offset(expiry))
}

// Lookup returns the address for hostname if a record exists and has not
// expired at now.
func (r *Registry) Lookup(hostname string, now time.Time) (string, bool) {
	rec, ok := r.records[key(hostname)]
	if !ok || !rec.Expiry.After(now) {
		return "", false
	}
	return rec.Address, true
}

// Get returns the record for hostname regardless of expiry.
func (r *Registry) Get(hostname string) (Record, bool) {
	rec, ok := r.records[key(hostname)]
	return rec, ok
}

// Remove deletes the record for hostname. It reports whether one existed.
func (r *Registry) Remove(hostname string) bool {
	k := key(hostname)
	if _, ok := r.records[k]; !ok {
		return false
	}
	delete(r.records, k)
	r.logger.Debug("record removed", "hostname", hostname)
	return true
}

// RemoveIfAddress deletes the record for hostname only while it still
// points at address. A newer lease that took over the name is left alone.
func (r *Registry) RemoveIfAddress(hostname, address string) bool {
	rec, ok := r.records[key(hostname)]
	if !ok || rec.Address != address {
		return false
	}
	return r.Remove(hostname)
}

// Len returns the number of records, expired or not.
func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns all records ordered by hostname.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Hostname) < key(out[j].Hostname)
	})
	return out
}

// ValidHostname reports whether name can be registered.
func ValidHostname(name string) bool {
	if name == "" || strings.HasSuffix(name, ".") {
		return false
	}
	_, ok := dns.IsDomainName(name)
	return ok
}
