package events

import (
	"grimm.is/leasenet/internal/services/dhcp"
	"grimm.is/leasenet/internal/transport"
)

// DHCPAdapter implements dhcp.Observer and publishes to the hub.
type DHCPAdapter struct {
	hub *Hub
}

var _ dhcp.Observer = (*DHCPAdapter)(nil)

// NewDHCPAdapter creates a new DHCP adapter.
func NewDHCPAdapter(hub *Hub) *DHCPAdapter {
	return &DHCPAdapter{hub: hub}
}

// OnLease implements dhcp.Observer.
func (a *DHCPAdapter) OnLease(event string, l dhcp.Lease) {
	var t EventType
	switch event {
	case dhcp.LeaseGranted:
		t = EventLeaseGranted
	case dhcp.LeaseRenewed:
		t = EventLeaseRenewed
	case dhcp.LeaseExpired:
		t = EventLeaseExpired
	case dhcp.LeaseReleased:
		t = EventLeaseReleased
	default:
		return
	}
	a.hub.Publish(Event{
		Type:   t,
		Source: "dhcp",
		Data: LeaseData{
			Identity: l.Identity,
			Address:  l.Address,
			Hostname: l.Hostname,
			Expiry:   l.Expiry,
			Endpoint: string(l.Endpoint),
		},
	})
}

// OnName implements dhcp.Observer.
func (a *DHCPAdapter) OnName(event, hostname, address string) {
	t := EventDNSRegistered
	if event == dhcp.NameRemoved {
		t = EventDNSRemoved
	}
	a.hub.Publish(Event{
		Type:   t,
		Source: "dns",
		Data:   DNSData{Hostname: hostname, Address: address},
	})
}

// OnBlocked implements dhcp.Observer.
func (a *DHCPAdapter) OnBlocked(identity string, from transport.Endpoint, reason string) {
	a.hub.Publish(Event{
		Type:   EventSecurityBlocked,
		Source: "dhcp",
		Data:   BlockedData{Identity: identity, From: string(from), Reason: reason},
	})
}

// OnPoolExhausted implements dhcp.Observer.
func (a *DHCPAdapter) OnPoolExhausted(identity string) {
	a.hub.Publish(Event{
		Type:   EventPoolExhausted,
		Source: "dhcp",
		Data:   PoolData{Identity: identity},
	})
}
