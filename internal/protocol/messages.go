// Package protocol defines the messages exchanged between clients, the
// provisioning server and the adversary, and their optional wire encoding.
package protocol

import (
	"errors"
	"time"
)

// ErrUnsupported is returned when a frame or message cannot be encoded or
// decoded.
var ErrUnsupported = errors.New("unsupported message")

// Kind names a message variant. It is what logs and discard metrics use.
type Kind string

const (
	KindDiscover    Kind = "DISCOVER"
	KindOffer       Kind = "OFFER"
	KindRequest     Kind = "REQUEST"
	KindAck         Kind = "ACK"
	KindRelease     Kind = "RELEASE"
	KindDNSQuery    Kind = "DNS_QUERY"
	KindDNSResponse Kind = "DNS_RESPONSE"
)

// Message is implemented only by the types in this package. Handlers
// switch on the concrete type.
type Message interface {
	Kind() Kind
	message()
}

// Discover asks for an address offer.
type Discover struct {
	Identity string
}

// Offer proposes an address. The address is reserved for Identity, not
// yet committed.
type Offer struct {
	Identity      string
	Address       string
	SubnetMask    string
	Gateway       string
	DNSServer     string
	LeaseDuration time.Duration
}

// Request asks to commit (or renew) Address. Hostname is optional.
type Request struct {
	Identity string
	Address  string
	Hostname string
}

// Ack confirms a commit. When Blocked is set, only Identity and Reason
// are meaningful and no state was changed.
type Ack struct {
	Identity      string
	Address       string
	Hostname      string
	LeaseDuration time.Duration
	Blocked       bool
	Reason        string
}

// Release gives an address back before its lease runs out.
type Release struct {
	Identity string
	Address  string
}

// DNSQuery asks for the address of Hostname.
type DNSQuery struct {
	ID       uint16
	Hostname string
}

// DNSResponse answers a DNSQuery. Address is empty unless Resolved.
type DNSResponse struct {
	ID       uint16
	Hostname string
	Resolved bool
	Address  string
}

func (Discover) Kind() Kind    { return KindDiscover }
func (Offer) Kind() Kind       { return KindOffer }
func (Request) Kind() Kind     { return KindRequest }
func (Ack) Kind() Kind         { return KindAck }
func (Release) Kind() Kind     { return KindRelease }
func (DNSQuery) Kind() Kind    { return KindDNSQuery }
func (DNSResponse) Kind() Kind { return KindDNSResponse }

func (Discover) message()    {}
func (Offer) message()       {}
func (Request) message()     {}
func (Ack) message()         {}
func (Release) message()     {}
func (DNSQuery) message()    {}
func (DNSResponse) message() {}

// Blocked builds the rejection sent for admission or hijack failures.
func Blocked(identity, reason string) Ack {
	return Ack{Identity: identity, Blocked: true, Reason: reason}
}
