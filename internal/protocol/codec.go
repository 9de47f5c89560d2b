package protocol

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/miekg/dns"
)

// Frame family tags. Every encoded frame starts with one of these.
const (
	familyDHCP byte = 0x01
	familyDNS  byte = 0x02
)

const blockedPrefix = "blocked:"

// Encode serialises a message into a tagged frame. Lease-management
// messages become DHCPv4 packets and name queries become DNS messages.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Discover, Offer, Request, Ack, Release:
		pkt, err := toDHCP(msg)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
		}
		return append([]byte{familyDHCP}, pkt.ToBytes()...), nil
	case DNSQuery, DNSResponse:
		dm := toDNS(msg)
		b, err := dm.Pack()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
		}
		return append([]byte{familyDNS}, b...), nil
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnsupported)
	}
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("short frame (%d bytes): %w", len(frame), ErrUnsupported)
	}
	switch frame[0] {
	case familyDHCP:
		pkt, err := dhcpv4.FromBytes(frame[1:])
		if err != nil {
			return nil, fmt.Errorf("decode dhcp: %w", err)
		}
		return fromDHCP(pkt)
	case familyDNS:
		dm := new(dns.Msg)
		if err := dm.Unpack(frame[1:]); err != nil {
			return nil, fmt.Errorf("decode dns: %w", err)
		}
		return fromDNS(dm)
	default:
		return nil, fmt.Errorf("frame family 0x%02x: %w", frame[0], ErrUnsupported)
	}
}

func toDHCP(m Message) (*dhcpv4.DHCPv4, error) {
	var identity string
	var opts []dhcpv4.Modifier

	switch msg := m.(type) {
	case Discover:
		identity = msg.Identity
		opts = append(opts, dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover))
	case Offer:
		identity = msg.Identity
		opts = append(opts,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
			dhcpv4.WithYourIP(net.ParseIP(msg.Address)),
			dhcpv4.WithLeaseTime(leaseSeconds(msg.LeaseDuration)),
		)
		if mask := net.ParseIP(msg.SubnetMask); mask != nil {
			opts = append(opts, dhcpv4.WithNetmask(net.IPMask(mask.To4())))
		}
		if gw := net.ParseIP(msg.Gateway); gw != nil {
			opts = append(opts, dhcpv4.WithRouter(gw))
		}
		if ns := net.ParseIP(msg.DNSServer); ns != nil {
			opts = append(opts, dhcpv4.WithDNS(ns))
		}
	case Request:
		identity = msg.Identity
		opts = append(opts,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
			dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.ParseIP(msg.Address))),
		)
		if msg.Hostname != "" {
			opts = append(opts, dhcpv4.WithOption(dhcpv4.OptHostName(msg.Hostname)))
		}
	case Ack:
		identity = msg.Identity
		if msg.Blocked {
			opts = append(opts,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
				dhcpv4.WithOption(dhcpv4.OptMessage(blockedPrefix+msg.Reason)),
			)
			break
		}
		opts = append(opts,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
			dhcpv4.WithYourIP(net.ParseIP(msg.Address)),
			dhcpv4.WithLeaseTime(leaseSeconds(msg.LeaseDuration)),
		)
		if msg.Hostname != "" {
			opts = append(opts, dhcpv4.WithOption(dhcpv4.OptHostName(msg.Hostname)))
		}
	case Release:
		identity = msg.Identity
		opts = append(opts,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
			dhcpv4.WithClientIP(net.ParseIP(msg.Address)),
		)
	default:
		return nil, ErrUnsupported
	}

	// The identity travels in option 61 so it survives unchanged even when
	// it is not a well-formed hardware address.
	opts = append(opts, dhcpv4.WithOption(dhcpv4.OptClientIdentifier([]byte(identity))))
	if hw, err := net.ParseMAC(identity); err == nil {
		opts = append(opts, dhcpv4.WithHwAddr(hw))
	}
	return dhcpv4.New(opts...)
}

func fromDHCP(pkt *dhcpv4.DHCPv4) (Message, error) {
	identity := string(pkt.Options.Get(dhcpv4.OptionClientIdentifier))
	if identity == "" && len(pkt.ClientHWAddr) > 0 {
		identity = strings.ToUpper(pkt.ClientHWAddr.String())
	}

	switch pkt.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		return Discover{Identity: identity}, nil
	case dhcpv4.MessageTypeOffer:
		o := Offer{
			Identity:      identity,
			Address:       ipString(pkt.YourIPAddr),
			LeaseDuration: pkt.IPAddressLeaseTime(0),
		}
		if mask := pkt.SubnetMask(); mask != nil {
			o.SubnetMask = net.IP(mask).String()
		}
		if r := pkt.Router(); len(r) > 0 {
			o.Gateway = r[0].String()
		}
		if d := pkt.DNS(); len(d) > 0 {
			o.DNSServer = d[0].String()
		}
		return o, nil
	case dhcpv4.MessageTypeRequest:
		return Request{
			Identity: identity,
			Address:  ipString(pkt.RequestedIPAddress()),
			Hostname: pkt.HostName(),
		}, nil
	case dhcpv4.MessageTypeAck:
		return Ack{
			Identity:      identity,
			Address:       ipString(pkt.YourIPAddr),
			Hostname:      pkt.HostName(),
			LeaseDuration: pkt.IPAddressLeaseTime(0),
		}, nil
	case dhcpv4.MessageTypeNak:
		return Blocked(identity, strings.TrimPrefix(pkt.Message(), blockedPrefix)), nil
	case dhcpv4.MessageTypeRelease:
		return Release{Identity: identity, Address: ipString(pkt.ClientIPAddr)}, nil
	default:
		return nil, fmt.Errorf("dhcp message type %s: %w", pkt.MessageType(), ErrUnsupported)
	}
}

func toDNS(m Message) *dns.Msg {
	dm := new(dns.Msg)
	switch msg := m.(type) {
	case DNSQuery:
		dm.SetQuestion(dns.Fqdn(msg.Hostname), dns.TypeA)
		dm.Id = msg.ID
	case DNSResponse:
		dm.SetQuestion(dns.Fqdn(msg.Hostname), dns.TypeA)
		dm.Id = msg.ID
		dm.Response = true
		dm.Authoritative = true
		if !msg.Resolved {
			dm.Rcode = dns.RcodeNameError
			break
		}
		dm.Answer = append(dm.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: dns.Fqdn(msg.Hostname), Rrtype: dns.TypeA, Class: dns.ClassINET},
			A:   net.ParseIP(msg.Address).To4(),
		})
	}
	return dm
}

func fromDNS(dm *dns.Msg) (Message, error) {
	if len(dm.Question) != 1 {
		return nil, fmt.Errorf("dns message with %d questions: %w", len(dm.Question), ErrUnsupported)
	}
	host := strings.TrimSuffix(dm.Question[0].Name, ".")
	if !dm.Response {
		return DNSQuery{ID: dm.Id, Hostname: host}, nil
	}

	resp := DNSResponse{ID: dm.Id, Hostname: host}
	if dm.Rcode != dns.RcodeSuccess {
		return resp, nil
	}
	for _, rr := range dm.Answer {
		if a, ok := rr.(*dns.A); ok {
			resp.Resolved = true
			resp.Address = a.A.String()
			break
		}
	}
	return resp, nil
}

func leaseSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Second)
}

func ipString(ip net.IP) string {
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
