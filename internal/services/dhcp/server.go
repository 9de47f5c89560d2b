// Package dhcp implements the provisioning server: address pool, lease
// registry, admission gate and the message handlers tying them to the name
// registry.
package dhcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/metrics"
	"grimm.is/leasenet/internal/protocol"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/services"
	"grimm.is/leasenet/internal/services/dns"
	"grimm.is/leasenet/internal/transport"
)

// Discard reasons.
const (
	discardUnexpected   = "unexpected-message"
	discardInvalid      = "invalid-identity"
	discardNotInPool    = "address-not-in-pool"
	discardMismatch     = "address-mismatch"
	discardCommitFailed = "commit-failed"
)

// Lease lifecycle notifications passed to observers.
const (
	LeaseGranted  = "granted"
	LeaseRenewed  = "renewed"
	LeaseExpired  = "expired"
	LeaseReleased = "released"

	NameRegistered = "registered"
	NameRemoved    = "removed"
)

// Config holds the network parameters handed out in offers.
type Config struct {
	SubnetMask     string
	Gateway        string
	DNSServer      string
	LeaseDuration  time.Duration
	ReservationTTL time.Duration
	// FriendlyNames maps identity to preferred hostname.
	FriendlyNames map[string]string
	Admission     AdmissionConfig
}

// NameService is the name registry the server keeps in step with leases.
type NameService interface {
	DNSUpdater
	Lookup(hostname string, now time.Time) (string, bool)
}

// Observer receives server lifecycle notifications.
type Observer interface {
	OnLease(event string, l Lease)
	OnName(event, hostname, address string)
	OnBlocked(identity string, from transport.Endpoint, reason string)
	OnPoolExhausted(identity string)
}

// Deps are the collaborators a server is wired to.
type Deps struct {
	Timers  scheduler.Timers
	Network transport.Sender
	Names   NameService
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

type reservation struct {
	address string
	timer   scheduler.Handle
	gen     uint64
}

// Server handles DISCOVER, REQUEST, RELEASE and name queries. It is the
// single owner of its pool, leases and reservations; all handlers run on
// the scheduler's goroutine.
type Server struct {
	endpoint transport.Endpoint
	cfg      Config
	friendly map[string]string

	timers  scheduler.Timers
	net     transport.Sender
	names   NameService
	metrics *metrics.Registry

	pool   *Pool
	leases *LeaseRegistry
	gate   *Gate

	reservations map[string]*reservation
	bindings     map[string]transport.Endpoint
	resGen       uint64

	observers []Observer
	running   bool
	logger    *slog.Logger
}

var _ services.Service = (*Server)(nil)

// NewServer creates a server answering on endpoint and allocating from pool.
func NewServer(endpoint transport.Endpoint, pool *Pool, cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Names == nil {
		deps.Names = dns.NewRegistry(deps.Logger)
	}
	logger := deps.Logger.WithComponent("dhcp").Logger

	s := &Server{
		endpoint:     endpoint,
		cfg:          cfg,
		friendly:     make(map[string]string, len(cfg.FriendlyNames)),
		timers:       deps.Timers,
		net:          deps.Network,
		names:        deps.Names,
		metrics:      deps.Metrics,
		pool:         pool,
		gate:         NewGate(deps.Timers, cfg.Admission, logger),
		reservations: make(map[string]*reservation),
		bindings:     make(map[string]transport.Endpoint),
		logger:       logger,
	}
	for id, name := range cfg.FriendlyNames {
		s.friendly[normalizeIdentity(id)] = name
	}
	s.leases = NewLeaseRegistry(deps.Timers, pool, nameHooks{s}, logger)
	s.leases.SetListener(s)
	s.updateGauges()
	return s
}

// AddObserver registers o for lifecycle notifications.
func (s *Server) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Name implements services.Service.
func (s *Server) Name() string { return string(s.endpoint) }

// Start implements services.Service.
func (s *Server) Start(ctx context.Context) error {
	s.running = true
	s.logger.Info("provisioning server started",
		"endpoint", s.endpoint,
		"pool_size", s.pool.Size(),
		"lease_time", s.cfg.LeaseDuration,
		"admission", s.cfg.Admission.Enabled)
	return nil
}

// Stop cancels pending reservation timers. Lease timers are left armed so
// the registry stays consistent if the scheduler keeps running.
func (s *Server) Stop(ctx context.Context) error {
	for id, r := range s.reservations {
		s.timers.Cancel(r.timer)
		delete(s.reservations, id)
		if _, leased := s.leases.Get(r.address); !leased {
			s.pool.Release(r.address)
		}
	}
	s.running = false
	s.updateGauges()
	return nil
}

// Status implements services.Service.
func (s *Server) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: s.Name(), Running: s.running}
}

// Pool returns the server's address pool.
func (s *Server) Pool() *Pool { return s.pool }

// Leases returns the server's lease registry.
func (s *Server) Leases() *LeaseRegistry { return s.leases }

// Gate returns the admission gate.
func (s *Server) Gate() *Gate { return s.gate }

// Reserved returns the address reserved for identity by a DISCOVER that
// has not been followed by a REQUEST.
func (s *Server) Reserved(identity string) (string, bool) {
	r, ok := s.reservations[normalizeIdentity(identity)]
	if !ok {
		return "", false
	}
	return r.address, true
}

// HandleMessage implements transport.Handler.
func (s *Server) HandleMessage(from transport.Endpoint, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Discover:
		s.handleDiscover(from, m)
	case protocol.Request:
		s.handleRequest(from, m)
	case protocol.Release:
		s.handleRelease(from, m)
	case protocol.DNSQuery:
		s.handleQuery(from, m)
	case protocol.Offer, protocol.Ack, protocol.DNSResponse:
		s.discard(from, msg.Kind(), discardUnexpected)
	}
}

func (s *Server) handleDiscover(from transport.Endpoint, m protocol.Discover) {
	id := normalizeIdentity(m.Identity)
	if id == "" {
		s.discard(from, m.Kind(), discardInvalid)
		return
	}
	if !s.admit(from, m.Identity) {
		return
	}

	address, held := s.pool.AddressOf(id)
	switch {
	case held:
		// Rediscovery: offer what the identity already has and push the
		// reservation deadline out if it is still only reserved.
		if r, ok := s.reservations[id]; ok {
			s.reserve(id, r.address)
		}
	default:
		var err error
		address, err = s.pool.Allocate(id)
		if errors.Is(err, ErrPoolExhausted) {
			s.metrics.PoolExhausted.Inc()
			s.logger.Warn("pool exhausted, no offer sent",
				"sim_time", s.simTime(),
				"identity", m.Identity,
				"from", from)
			for _, o := range s.observers {
				o.OnPoolExhausted(m.Identity)
			}
			return
		}
		s.reserve(id, address)
	}

	s.bindings[id] = from
	s.updateGauges()
	s.logger.Debug("offer", "sim_time", s.simTime(), "identity", m.Identity, "address", address)
	s.net.Deliver(s.endpoint, from, protocol.Offer{
		Identity:      m.Identity,
		Address:       address,
		SubnetMask:    s.cfg.SubnetMask,
		Gateway:       s.cfg.Gateway,
		DNSServer:     s.cfg.DNSServer,
		LeaseDuration: s.cfg.LeaseDuration,
	})
}

func (s *Server) handleRequest(from transport.Endpoint, m protocol.Request) {
	id := normalizeIdentity(m.Identity)
	if id == "" {
		s.discard(from, m.Kind(), discardInvalid)
		return
	}
	if !s.admit(from, m.Identity) {
		return
	}
	if !s.pool.Contains(m.Address) {
		s.discard(from, m.Kind(), discardNotInPool)
		return
	}
	if holder, held := s.pool.Holder(m.Address); held && holder != id {
		s.block(from, m.Identity, ReasonHijack)
		return
	}
	if current, ok := s.pool.AddressOf(id); ok && current != m.Address {
		s.discard(from, m.Kind(), discardMismatch)
		return
	}
	// Claiming is a no-op when the identity already holds the address; it
	// covers a REQUEST arriving after the reservation lapsed.
	if err := s.pool.Claim(m.Address, id); err != nil {
		s.logger.Error("claim failed", "address", m.Address, "identity", m.Identity, "error", err)
		s.discard(from, m.Kind(), discardCommitFailed)
		return
	}
	s.dropReservation(id)

	now := s.timers.Now()
	hostname := s.resolveHostname(m.Identity, m.Hostname)
	prev, renewing := s.leases.Get(m.Address)

	var lease Lease
	var err error
	renamed := false
	if renewing && prev.Hostname == hostname {
		lease, err = s.leases.Renew(m.Address, now, s.cfg.LeaseDuration)
	} else {
		if renewing {
			renamed = nameHooks{s}.RemoveIfAddress(prev.Hostname, prev.Address)
		}
		lease, err = s.leases.Commit(m.Address, id, hostname, from, now, s.cfg.LeaseDuration)
	}
	if err != nil {
		s.logger.Error("lease commit failed", "address", m.Address, "identity", m.Identity, "error", err)
		s.discard(from, m.Kind(), discardCommitFailed)
		return
	}
	if renamed {
		s.leases.RestoreName(prev.Hostname)
	}
	nameHooks{s}.Register(lease.Hostname, lease.Address, lease.Expiry)
	s.bindings[id] = from

	event := LeaseGranted
	if renewing {
		event = LeaseRenewed
		s.metrics.LeasesRenewed.Inc()
	} else {
		s.metrics.LeasesGranted.Inc()
	}
	s.updateGauges()
	s.logger.Info("lease "+event,
		"sim_time", s.simTime(),
		"address", lease.Address,
		"identity", m.Identity,
		"hostname", lease.Hostname,
		"expiry", clock.Offset(lease.Expiry))
	for _, o := range s.observers {
		o.OnLease(event, lease)
	}

	s.net.Deliver(s.endpoint, from, protocol.Ack{
		Identity:      m.Identity,
		Address:       lease.Address,
		Hostname:      lease.Hostname,
		LeaseDuration: s.cfg.LeaseDuration,
	})
}

func (s *Server) handleRelease(from transport.Endpoint, m protocol.Release) {
	id := normalizeIdentity(m.Identity)
	if bound, ok := s.bindings[id]; ok && bound != from {
		s.block(from, m.Identity, ReasonSpoofed)
		return
	}
	l, ok := s.leases.Get(m.Address)
	if !ok || l.Identity != id {
		s.discard(from, m.Kind(), ReasonUnknownRelease)
		return
	}
	s.leases.Release(m.Address)
}

func (s *Server) handleQuery(from transport.Endpoint, q protocol.DNSQuery) {
	address, ok := s.names.Lookup(q.Hostname, s.timers.Now())
	result := "unresolved"
	if ok {
		result = "resolved"
	}
	s.metrics.DNSQueries.WithLabelValues(result).Inc()
	s.logger.Debug("name query",
		"sim_time", s.simTime(),
		"from", from,
		"hostname", q.Hostname,
		"result", result,
		"address", address)
	s.net.Deliver(s.endpoint, from, protocol.DNSResponse{
		ID:       q.ID,
		Hostname: q.Hostname,
		Resolved: ok,
		Address:  address,
	})
}

// admit runs the identity binding check and then the admission gate. It
// sends the blocked response itself. Traffic rejected as spoofed never
// reaches the gate, so it cannot spend the bound identity's budget.
func (s *Server) admit(from transport.Endpoint, identity string) bool {
	if bound, ok := s.bindings[normalizeIdentity(identity)]; ok && bound != from {
		s.block(from, identity, ReasonSpoofed)
		return false
	}
	if ok, reason := s.gate.Admit(identity); !ok {
		s.block(from, identity, reason)
		return false
	}
	return true
}

func (s *Server) block(from transport.Endpoint, identity, reason string) {
	s.metrics.Blocked.WithLabelValues(reason).Inc()
	s.logger.Warn("request blocked",
		"sim_time", s.simTime(),
		"identity", identity,
		"from", from,
		"reason", reason)
	for _, o := range s.observers {
		o.OnBlocked(identity, from, reason)
	}
	s.net.Deliver(s.endpoint, from, protocol.Blocked(identity, reason))
}

func (s *Server) discard(from transport.Endpoint, kind protocol.Kind, reason string) {
	s.metrics.Discarded.WithLabelValues(reason).Inc()
	s.logger.Debug("message discarded",
		"sim_time", s.simTime(),
		"from", from,
		"kind", kind,
		"reason", reason)
}

// reserve (re)arms the reservation timer for identity's tentative address.
func (s *Server) reserve(id, address string) {
	if r, ok := s.reservations[id]; ok {
		s.timers.Cancel(r.timer)
	}
	s.resGen++
	gen := s.resGen
	r := &reservation{address: address, gen: gen}
	r.timer = s.timers.After(s.cfg.ReservationTTL, "reservation "+address, func() {
		s.expireReservation(id, gen)
	})
	s.reservations[id] = r
}

func (s *Server) dropReservation(id string) {
	if r, ok := s.reservations[id]; ok {
		s.timers.Cancel(r.timer)
		delete(s.reservations, id)
	}
}

func (s *Server) expireReservation(id string, gen uint64) {
	r, ok := s.reservations[id]
	if !ok || r.gen != gen {
		return
	}
	delete(s.reservations, id)
	if _, leased := s.leases.Get(r.address); !leased {
		s.pool.Release(r.address)
	}
	s.unbindIfIdle(id)
	s.updateGauges()
	s.logger.Debug("reservation lapsed", "sim_time", s.simTime(), "identity", id, "address", r.address)
}

func (s *Server) unbindIfIdle(id string) {
	if _, ok := s.reservations[id]; ok {
		return
	}
	if _, ok := s.pool.AddressOf(id); ok {
		return
	}
	delete(s.bindings, id)
}

// resolveHostname applies the precedence explicit > friendly > generated.
// Explicit names that are not valid DNS names are ignored.
func (s *Server) resolveHostname(identity, explicit string) string {
	if explicit != "" {
		if dns.ValidHostname(explicit) {
			return explicit
		}
		s.logger.Debug("ignoring invalid hostname", "identity", identity, "hostname", explicit)
	}
	if name, ok := s.friendly[normalizeIdentity(identity)]; ok {
		return name
	}
	return FallbackHostname(identity)
}

// FallbackHostname returns "host-" followed by the last segment of identity.
func FallbackHostname(identity string) string {
	seg := identity
	if i := strings.LastIndexAny(identity, ":-"); i >= 0 {
		seg = identity[i+1:]
	}
	return "host-" + seg
}

// LeaseExpired implements LeaseListener.
func (s *Server) LeaseExpired(l Lease) {
	s.metrics.LeasesExpired.Inc()
	s.leaseEnded(LeaseExpired, l)
}

// LeaseReleased implements LeaseListener.
func (s *Server) LeaseReleased(l Lease) {
	s.metrics.LeasesReleased.Inc()
	s.leaseEnded(LeaseReleased, l)
}

func (s *Server) leaseEnded(event string, l Lease) {
	s.unbindIfIdle(l.Identity)
	s.updateGauges()
	for _, o := range s.observers {
		o.OnLease(event, l)
	}
}

func (s *Server) updateGauges() {
	s.metrics.PoolAvailable.Set(float64(s.pool.Available()))
	s.metrics.ActiveLeases.Set(float64(s.leases.Len()))
}

func (s *Server) simTime() time.Duration {
	return clock.Offset(s.timers.Now())
}

// nameHooks forwards name updates to the registry and tells observers.
type nameHooks struct{ s *Server }

func (h nameHooks) Register(hostname, address string, expiry time.Time) {
	h.s.names.Register(hostname, address, expiry)
	h.s.metrics.DNSRegistered.Inc()
	for _, o := range h.s.observers {
		o.OnName(NameRegistered, hostname, address)
	}
}

func (h nameHooks) RemoveIfAddress(hostname, address string) bool {
	if !h.s.names.RemoveIfAddress(hostname, address) {
		return false
	}
	for _, o := range h.s.observers {
		o.OnName(NameRemoved, hostname, address)
	}
	return true
}
