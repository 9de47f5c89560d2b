package config

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"grimm.is/leasenet/internal/services/dns"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the whole configuration and fills in the parsed fields.
// Defaults must already be applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	c.RunFor = errs.duration("duration", c.Duration, true)
	errs = append(errs, c.Network.validate()...)
	errs = append(errs, c.Security.validate()...)

	names := map[string]string{"server": "reserved"}
	claim := func(field, name string) {
		if prev, ok := names[name]; ok {
			errs.add(field, "name %q already used by %s", name, prev)
			return
		}
		names[name] = field
	}
	for i := range c.Clients {
		cl := &c.Clients[i]
		field := fmt.Sprintf("client.%s", cl.Name)
		claim(field, cl.Name)
		errs = append(errs, cl.validate(field)...)
	}
	for i := range c.Adversaries {
		a := &c.Adversaries[i]
		field := fmt.Sprintf("adversary.%s", a.Name)
		claim(field, a.Name)
		errs = append(errs, a.validate(field)...)
	}
	return errs
}

func (n *NetworkConfig) validate() ValidationErrors {
	var errs ValidationErrors

	start, end, err := ParseRange(n.Pool)
	if err != nil {
		errs.add("network.pool", "%v", err)
	}
	n.PoolStart, n.PoolEnd = start, end

	errs.ipv4("network.subnet_mask", n.SubnetMask)
	errs.ipv4("network.gateway", n.Gateway)
	errs.ipv4("network.dns_server", n.DNSServer)

	n.LeaseDuration = errs.duration("network.lease_time", n.LeaseTime, true)
	// DHCP option 51 carries whole seconds.
	if n.UseWireCodec() && n.LeaseDuration > 0 && n.LeaseDuration%time.Second != 0 {
		errs.add("network.lease_time", "%s is not a whole number of seconds (required with wire_codec)", n.LeaseTime)
	}
	n.ReservationDuration = errs.duration("network.reservation_ttl", n.ReservationTTL, true)
	n.LinkLatency = errs.duration("network.latency", n.Latency, false)

	n.Friendly, err = ParseFriendlyNames(n.FriendlyNames)
	if err != nil {
		errs.add("network.friendly_names", "%v", err)
	}
	return errs
}

func (s *SecurityConfig) validate() ValidationErrors {
	var errs ValidationErrors
	s.WindowDuration = errs.duration("security.window", s.Window, true)
	if s.MaxRequests < 0 {
		errs.add("security.max_requests", "must not be negative")
	}
	if s.BlockAfter < 0 {
		errs.add("security.block_after", "must not be negative")
	}
	for _, id := range s.Blocklist {
		errs.identity("security.blocklist", id)
	}
	for _, id := range s.Allowlist {
		errs.identity("security.allowlist", id)
	}
	return errs
}

func (cl *ClientConfig) validate(field string) ValidationErrors {
	var errs ValidationErrors
	errs.identity(field+".identity", cl.Identity)
	if cl.Hostname != "" && !dns.ValidHostname(cl.Hostname) {
		errs.add(field+".hostname", "%q is not a valid hostname", cl.Hostname)
	}

	cl.StartAt = errs.duration(field+".start", cl.Start, false)
	cl.QueryDelayAt = errs.duration(field+".query_delay", cl.QueryDelay, false)
	cl.QueryEvery = errs.duration(field+".query_interval", cl.QueryInterval, true)
	cl.RetryAfter = errs.duration(field+".retry_timeout", cl.RetryTimeout, true)
	if cl.ReleaseAt != "" {
		cl.ReleaseAfter = errs.duration(field+".release_at", cl.ReleaseAt, true)
	}
	if cl.MaxRetries != nil {
		cl.Retries = *cl.MaxRetries
		if cl.Retries < 0 {
			errs.add(field+".max_retries", "must not be negative")
		}
	}
	if cl.Primary && cl.QueryTarget == "" {
		errs.add(field+".query_target", "required for the primary client")
	}
	return errs
}

func (a *AdversaryConfig) validate(field string) ValidationErrors {
	var errs ValidationErrors
	if !slices.Contains(AdversaryModes, a.Mode) {
		errs.add(field+".mode", "unknown mode %q (want one of %s)", a.Mode, strings.Join(AdversaryModes, ", "))
	}
	if a.Rate <= 0 {
		errs.add(field+".rate", "must be positive")
	}
	a.StartAt = errs.duration(field+".start", a.Start, false)
	if a.Stop != "" {
		a.StopAt = errs.duration(field+".stop", a.Stop, true)
		if a.StopAt > 0 && a.StopAt <= a.StartAt {
			errs.add(field+".stop", "must be after start")
		}
	}
	if a.Mode == "spoof" {
		errs.identity(field+".victim", a.Victim)
	}
	if a.TargetAddress != "" {
		errs.ipv4(field+".target_address", a.TargetAddress)
	}
	if !dns.ValidHostname(a.ProbeHostname) {
		errs.add(field+".probe_hostname", "%q is not a valid hostname", a.ProbeHostname)
	}
	return errs
}

// duration parses s, recording an error if it is malformed, negative, or
// zero when positive is set.
func (e *ValidationErrors) duration(field, s string, positive bool) time.Duration {
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		e.add(field, "invalid duration %q", s)
	case d < 0:
		e.add(field, "must not be negative")
	case positive && d == 0:
		e.add(field, "must be positive")
	}
	return d
}

func (e *ValidationErrors) ipv4(field, s string) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() {
		e.add(field, "%q is not an IPv4 address", s)
	}
}

func (e *ValidationErrors) identity(field, id string) {
	if id == "" || strings.ContainsFunc(id, func(r rune) bool { return r <= ' ' || r == '=' || r == ',' }) {
		e.add(field, "invalid identity %q", id)
	}
}

// ParseRange parses an address pool range. The end may be a full address
// or just its last octet: "10.0.0.10-10.0.0.12" and "10.0.0.10-12" are the
// same pool. An en dash is accepted as the separator.
func ParseRange(s string) (start, end netip.Addr, err error) {
	lo, hi, ok := strings.Cut(strings.ReplaceAll(s, "–", "-"), "-")
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("range %q: missing '-'", s)
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)

	start, err = netip.ParseAddr(lo)
	if err != nil || !start.Is4() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("range %q: bad start address", s)
	}
	if octet, err := strconv.ParseUint(hi, 10, 8); err == nil {
		b := start.As4()
		b[3] = byte(octet)
		end = netip.AddrFrom4(b)
	} else {
		end, err = netip.ParseAddr(hi)
		if err != nil || !end.Is4() {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("range %q: bad end address", s)
		}
	}
	if end.Less(start) {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("range %q: end before start", s)
	}
	return start, end, nil
}

// ParseFriendlyNames parses "identity=name" pairs. Each entry may hold
// several comma-separated pairs; whitespace around pairs is ignored.
func ParseFriendlyNames(entries []string) (map[string]string, error) {
	names := make(map[string]string)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			id, name, ok := strings.Cut(pair, "=")
			id, name = strings.TrimSpace(id), strings.TrimSpace(name)
			if !ok || id == "" {
				return nil, fmt.Errorf("pair %q: want identity=name", pair)
			}
			if !dns.ValidHostname(name) {
				return nil, fmt.Errorf("pair %q: %q is not a valid hostname", pair, name)
			}
			names[id] = name
		}
	}
	return names, nil
}
