package protocol

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	frame, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(frame)
	require.NoError(t, err)
	return got
}

func TestCodec_OfferCarriesNetworkParameters(t *testing.T) {
	offer := Offer{
		Identity:      "AA:BB:CC:DD:EE:01",
		Address:       "10.0.0.10",
		SubnetMask:    "255.255.255.0",
		Gateway:       "10.0.0.1",
		DNSServer:     "10.0.0.2",
		LeaseDuration: 100 * time.Second,
	}
	assert.Equal(t, offer, roundTrip(t, offer))
}

func TestCodec_IdentityIsPreservedVerbatim(t *testing.T) {
	// Not a hardware address and mixed case; option 61 must carry it as is.
	got := roundTrip(t, Discover{Identity: "ff:ff:FF:ff:0a:1B"})
	assert.Equal(t, Discover{Identity: "ff:ff:FF:ff:0a:1B"}, got)

	got = roundTrip(t, Discover{Identity: "printer-7"})
	assert.Equal(t, Discover{Identity: "printer-7"}, got)
}

func TestCodec_RequestHostnameOptional(t *testing.T) {
	req := Request{Identity: "AA:BB:CC:DD:EE:02", Address: "10.0.0.11"}
	assert.Equal(t, req, roundTrip(t, req))

	req.Hostname = "alice"
	assert.Equal(t, req, roundTrip(t, req))
}

func TestCodec_BlockedAckBecomesNak(t *testing.T) {
	blocked := Blocked("AA:BB:CC:DD:EE:01", "hijack")
	frame, err := Encode(blocked)
	require.NoError(t, err)

	got, err := Decode(frame)
	require.NoError(t, err)
	ack, ok := got.(Ack)
	require.True(t, ok, "decoded %T", got)
	assert.True(t, ack.Blocked)
	assert.Equal(t, "hijack", ack.Reason)
	assert.Empty(t, ack.Address)
}

func TestCodec_LeaseTimeTruncatedToSeconds(t *testing.T) {
	got := roundTrip(t, Ack{Identity: "AA:BB:CC:DD:EE:01", Address: "10.0.0.10", Hostname: "host-01", LeaseDuration: 1500 * time.Millisecond})
	assert.Equal(t, time.Second, got.(Ack).LeaseDuration)
}

func TestCodec_Release(t *testing.T) {
	rel := Release{Identity: "AA:BB:CC:DD:EE:03", Address: "10.0.0.12"}
	assert.Equal(t, rel, roundTrip(t, rel))
}

func TestCodec_DNS(t *testing.T) {
	q := DNSQuery{ID: 7, Hostname: "host-02"}
	assert.Equal(t, q, roundTrip(t, q))

	hit := DNSResponse{ID: 7, Hostname: "host-02", Resolved: true, Address: "10.0.0.11"}
	assert.Equal(t, hit, roundTrip(t, hit))

	miss := DNSResponse{ID: 8, Hostname: "admin"}
	frame, err := Encode(miss)
	require.NoError(t, err)

	dm := new(dns.Msg)
	require.NoError(t, dm.Unpack(frame[1:]))
	assert.Equal(t, dns.RcodeNameError, dm.Rcode)

	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, miss, got)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode([]byte{0x7f, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode([]byte{familyDHCP, 0x01, 0x02})
	assert.Error(t, err)
}

func TestKinds(t *testing.T) {
	msgs := map[Kind]Message{
		KindDiscover:    Discover{},
		KindOffer:       Offer{},
		KindRequest:     Request{},
		KindAck:         Ack{},
		KindRelease:     Release{},
		KindDNSQuery:    DNSQuery{},
		KindDNSResponse: DNSResponse{},
	}
	for kind, m := range msgs {
		assert.Equal(t, kind, m.Kind())
	}
}
