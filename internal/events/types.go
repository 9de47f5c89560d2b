// Package events provides the pub/sub bus carrying lease, name and security
// lifecycle events out of the simulation to journals and reports.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	EventLeaseGranted  EventType = "lease.granted"
	EventLeaseRenewed  EventType = "lease.renewed"
	EventLeaseExpired  EventType = "lease.expired"
	EventLeaseReleased EventType = "lease.released"

	EventDNSRegistered EventType = "dns.registered"
	EventDNSRemoved    EventType = "dns.removed"

	EventSecurityBlocked EventType = "security.blocked"
	EventPoolExhausted   EventType = "pool.exhausted"
)

// AllTypes lists every event type in a stable order.
var AllTypes = []EventType{
	EventLeaseGranted,
	EventLeaseRenewed,
	EventLeaseExpired,
	EventLeaseReleased,
	EventDNSRegistered,
	EventDNSRemoved,
	EventSecurityBlocked,
	EventPoolExhausted,
}

// Event is the message passed through the hub.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // emitting component: "dhcp", "dns"
	Data      any       `json:"data"`
}

// LeaseData is the payload for the lease.* events.
type LeaseData struct {
	Identity string    `json:"identity"`
	Address  string    `json:"address"`
	Hostname string    `json:"hostname,omitempty"`
	Expiry   time.Time `json:"expiry"`
	Endpoint string    `json:"endpoint,omitempty"`
}

// DNSData is the payload for the dns.* events.
type DNSData struct {
	Hostname string `json:"hostname"`
	Address  string `json:"address"`
}

// BlockedData is the payload for EventSecurityBlocked.
type BlockedData struct {
	Identity string `json:"identity"`
	From     string `json:"from"`
	Reason   string `json:"reason"`
}

// PoolData is the payload for EventPoolExhausted.
type PoolData struct {
	Identity string `json:"identity"`
}
