package config

import (
	"net/netip"
	"time"
)

// Defaults applied to anything a scenario leaves out.
const (
	DefaultSeed           = 1
	DefaultDuration       = "600s"
	DefaultPool           = "10.0.0.10-10.0.0.12"
	DefaultSubnetMask     = "255.255.255.0"
	DefaultGateway        = "10.0.0.1"
	DefaultDNSServer      = "10.0.0.1"
	DefaultLeaseTime      = "100s"
	DefaultReservationTTL = "10s"
	DefaultLatency        = "1ms"

	DefaultQueryDelay    = "10s"
	DefaultQueryInterval = "20s"
	DefaultRetryTimeout  = "4s"
	DefaultMaxRetries    = 3

	DefaultMaxRequests = 10
	DefaultWindow      = "60s"
	DefaultBlockAfter  = 3

	DefaultAttackRate    = 1.0
	DefaultProbeHostname = "admin"
)

// Adversary modes accepted in adversary blocks.
var AdversaryModes = []string{"starvation", "name_probe", "spoof"}

// Config is one scenario. Fields without hcl tags are filled in by
// Validate from their string counterparts.
type Config struct {
	Seed        uint64            `hcl:"seed,optional" yaml:"seed"`
	Duration    string            `hcl:"duration,optional" yaml:"duration"`
	Network     *NetworkConfig    `hcl:"network,block" yaml:"network"`
	Security    *SecurityConfig   `hcl:"security,block" yaml:"security"`
	Clients     []ClientConfig    `hcl:"client,block" yaml:"clients"`
	Adversaries []AdversaryConfig `hcl:"adversary,block" yaml:"adversaries,omitempty"`

	RunFor time.Duration `yaml:"-"`
}

// NetworkConfig describes the server side of the network.
type NetworkConfig struct {
	Pool           string   `hcl:"pool,optional" yaml:"pool"` // "10.0.0.10-10.0.0.12" or "10.0.0.10-12"
	SubnetMask     string   `hcl:"subnet_mask,optional" yaml:"subnet_mask"`
	Gateway        string   `hcl:"gateway,optional" yaml:"gateway"`
	DNSServer      string   `hcl:"dns_server,optional" yaml:"dns_server"`
	LeaseTime      string   `hcl:"lease_time,optional" yaml:"lease_time"`
	ReservationTTL string   `hcl:"reservation_ttl,optional" yaml:"reservation_ttl"`
	Latency        string   `hcl:"latency,optional" yaml:"latency"`
	WireCodec      *bool    `hcl:"wire_codec,optional" yaml:"wire_codec"`
	FriendlyNames  []string `hcl:"friendly_names,optional" yaml:"friendly_names,omitempty"` // "identity=name"

	PoolStart           netip.Addr        `yaml:"-"`
	PoolEnd             netip.Addr        `yaml:"-"`
	LeaseDuration       time.Duration     `yaml:"-"`
	ReservationDuration time.Duration     `yaml:"-"`
	LinkLatency         time.Duration     `yaml:"-"`
	Friendly            map[string]string `yaml:"-"`
}

// UseWireCodec reports whether messages are round-tripped through their
// wire encodings. It defaults to true.
func (n *NetworkConfig) UseWireCodec() bool {
	return n.WireCodec == nil || *n.WireCodec
}

// SecurityConfig is the admission gate.
type SecurityConfig struct {
	Enabled     bool     `hcl:"enabled,optional" yaml:"enabled"`
	MaxRequests int      `hcl:"max_requests,optional" yaml:"max_requests"`
	Window      string   `hcl:"window,optional" yaml:"window"`
	BlockAfter  int      `hcl:"block_after,optional" yaml:"block_after"`
	Blocklist   []string `hcl:"blocklist,optional" yaml:"blocklist,omitempty"`
	Allowlist   []string `hcl:"allowlist,optional" yaml:"allowlist,omitempty"`

	WindowDuration time.Duration `yaml:"-"`
}

// ClientConfig is one well-behaved client.
type ClientConfig struct {
	Name          string `hcl:"name,label" yaml:"name"`
	Identity      string `hcl:"identity" yaml:"identity"`
	Start         string `hcl:"start,optional" yaml:"start,omitempty"`
	Hostname      string `hcl:"hostname,optional" yaml:"hostname,omitempty"`
	Primary       bool   `hcl:"primary,optional" yaml:"primary,omitempty"`
	QueryTarget   string `hcl:"query_target,optional" yaml:"query_target,omitempty"`
	QueryDelay    string `hcl:"query_delay,optional" yaml:"query_delay,omitempty"`
	QueryInterval string `hcl:"query_interval,optional" yaml:"query_interval,omitempty"`
	RetryTimeout  string `hcl:"retry_timeout,optional" yaml:"retry_timeout,omitempty"`
	MaxRetries    *int   `hcl:"max_retries,optional" yaml:"max_retries,omitempty"`
	ReleaseAt     string `hcl:"release_at,optional" yaml:"release_at,omitempty"`

	StartAt      time.Duration `yaml:"-"`
	QueryDelayAt time.Duration `yaml:"-"`
	QueryEvery   time.Duration `yaml:"-"`
	RetryAfter   time.Duration `yaml:"-"`
	Retries      int           `yaml:"-"`
	ReleaseAfter time.Duration `yaml:"-"`
}

// AdversaryConfig is one attack generator.
type AdversaryConfig struct {
	Name          string  `hcl:"name,label" yaml:"name"`
	Mode          string  `hcl:"mode" yaml:"mode"`
	Rate          float64 `hcl:"rate,optional" yaml:"rate"`
	Start         string  `hcl:"start,optional" yaml:"start,omitempty"`
	Stop          string  `hcl:"stop,optional" yaml:"stop,omitempty"`
	Victim        string  `hcl:"victim,optional" yaml:"victim,omitempty"`
	TargetAddress string  `hcl:"target_address,optional" yaml:"target_address,omitempty"`
	ProbeHostname string  `hcl:"probe_hostname,optional" yaml:"probe_hostname,omitempty"`

	StartAt time.Duration `yaml:"-"`
	StopAt  time.Duration `yaml:"-"`
}

// applyDefaults fills in everything left unset.
func (c *Config) applyDefaults() {
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	if c.Duration == "" {
		c.Duration = DefaultDuration
	}
	if c.Network == nil {
		c.Network = &NetworkConfig{}
	}
	n := c.Network
	setDefault(&n.Pool, DefaultPool)
	setDefault(&n.SubnetMask, DefaultSubnetMask)
	setDefault(&n.Gateway, DefaultGateway)
	setDefault(&n.DNSServer, DefaultDNSServer)
	setDefault(&n.LeaseTime, DefaultLeaseTime)
	setDefault(&n.ReservationTTL, DefaultReservationTTL)
	setDefault(&n.Latency, DefaultLatency)

	if c.Security == nil {
		c.Security = &SecurityConfig{}
	}
	s := c.Security
	if s.MaxRequests == 0 {
		s.MaxRequests = DefaultMaxRequests
	}
	setDefault(&s.Window, DefaultWindow)
	if s.BlockAfter == 0 {
		s.BlockAfter = DefaultBlockAfter
	}

	for i := range c.Clients {
		cl := &c.Clients[i]
		setDefault(&cl.Start, "0s")
		setDefault(&cl.QueryDelay, DefaultQueryDelay)
		setDefault(&cl.QueryInterval, DefaultQueryInterval)
		setDefault(&cl.RetryTimeout, DefaultRetryTimeout)
		if cl.MaxRetries == nil {
			r := DefaultMaxRetries
			cl.MaxRetries = &r
		}
	}
	for i := range c.Adversaries {
		a := &c.Adversaries[i]
		if a.Rate == 0 {
			a.Rate = DefaultAttackRate
		}
		setDefault(&a.Start, "0s")
		setDefault(&a.ProbeHostname, DefaultProbeHostname)
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
