package simulation

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"grimm.is/leasenet/internal/adversary"
	"grimm.is/leasenet/internal/client"
	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/transport"
)

// Report is the end-of-run summary.
type Report struct {
	Seed          uint64             `yaml:"seed"`
	SimulatedTime string             `yaml:"simulated_time"`
	Events        uint64             `yaml:"events"`
	Server        ServerReport       `yaml:"server"`
	Names         []NameReport       `yaml:"dns_records"`
	Clients       []ClientReport     `yaml:"clients"`
	Adversaries   []AdversaryReport  `yaml:"adversaries,omitempty"`
	Transport     TransportReport    `yaml:"transport"`
	Metrics       map[string]float64 `yaml:"metrics"`
	Journal       *JournalReport     `yaml:"journal,omitempty"`
}

// ServerReport is the provisioning server's final state.
type ServerReport struct {
	PoolSize           int           `yaml:"pool_size"`
	AvailableAddresses int           `yaml:"available_addresses"`
	ActiveLeases       int           `yaml:"active_leases"`
	Leases             []LeaseReport `yaml:"leases,omitempty"`
	Blocklist          []string      `yaml:"blocklist,omitempty"`
}

// LeaseReport is one active lease.
type LeaseReport struct {
	Address  string `yaml:"address"`
	Identity string `yaml:"identity"`
	Hostname string `yaml:"hostname"`
	Expires  string `yaml:"expires"` // simulated time
}

// NameReport is one name record.
type NameReport struct {
	Hostname string `yaml:"hostname"`
	Address  string `yaml:"address"`
	Expires  string `yaml:"expires"`
}

// ClientReport is a client's final state.
type ClientReport struct {
	Name     string       `yaml:"name"`
	State    string       `yaml:"state"`
	Address  string       `yaml:"address,omitempty"`
	Hostname string       `yaml:"hostname,omitempty"`
	Stalled  bool         `yaml:"stalled,omitempty"`
	Stats    client.Stats `yaml:"stats"`
}

// AdversaryReport is an adversary's tally.
type AdversaryReport struct {
	Name  string          `yaml:"name"`
	Mode  adversary.Mode  `yaml:"mode"`
	Stats adversary.Stats `yaml:"stats"`
}

// TransportReport mirrors transport.Stats.
type TransportReport struct {
	Sent      uint64 `yaml:"sent"`
	Delivered uint64 `yaml:"delivered"`
	Dropped   uint64 `yaml:"dropped"`
	Bytes     uint64 `yaml:"bytes,omitempty"`
}

// JournalReport describes what reached the run journal.
type JournalReport struct {
	RunID   string `yaml:"run_id"`
	Written int64  `yaml:"written"`
	Dropped uint64 `yaml:"dropped"`
}

// Report snapshots the simulation's current state.
func (s *Simulation) Report() *Report {
	now := s.sched.Now()
	r := &Report{
		Seed:          s.cfg.Seed,
		SimulatedTime: clock.Offset(now).String(),
		Events:        s.sched.Processed(),
		Transport:     transportReport(s.fabric.Stats()),
	}

	pool := s.server.Pool()
	r.Server = ServerReport{
		PoolSize:           pool.Size(),
		AvailableAddresses: pool.Available(),
		ActiveLeases:       s.server.Leases().Len(),
		Blocklist:          s.server.Gate().Blocklist(),
	}
	for _, l := range s.server.Leases().Leases() {
		r.Server.Leases = append(r.Server.Leases, LeaseReport{
			Address:  l.Address,
			Identity: l.Identity,
			Hostname: l.Hostname,
			Expires:  clock.Offset(l.Expiry).String(),
		})
	}
	for _, rec := range s.names.Records() {
		r.Names = append(r.Names, NameReport{
			Hostname: rec.Hostname,
			Address:  rec.Address,
			Expires:  clock.Offset(rec.Expiry).String(),
		})
	}

	for _, c := range s.clients {
		cr := ClientReport{
			Name:    c.Name(),
			State:   c.State().String(),
			Stalled: c.Stalled(),
			Stats:   c.Stats(),
		}
		if c.State() == client.StateBound {
			cr.Address = c.Lease().Address
			cr.Hostname = c.Lease().Hostname
		}
		r.Clients = append(r.Clients, cr)
	}
	for _, a := range s.adversaries {
		r.Adversaries = append(r.Adversaries, AdversaryReport{
			Name:  a.Name(),
			Mode:  a.Mode(),
			Stats: a.Stats(),
		})
	}

	snap, err := s.metrics.Snapshot()
	if err != nil {
		s.logger.Warn("metrics snapshot failed", "error", err)
	}
	r.Metrics = snap
	return r
}

func transportReport(st transport.Stats) TransportReport {
	return TransportReport{
		Sent:      st.Sent,
		Delivered: st.Delivered,
		Dropped:   st.Dropped,
		Bytes:     st.Bytes,
	}
}

// WriteYAML writes the report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = w.Write(out)
	return err
}
