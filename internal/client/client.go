// Package client implements the well-behaved host: it acquires an address
// with DISCOVER/REQUEST, renews at half the lease, and optionally runs a
// recurring name query.
package client

import (
	"context"
	"log/slog"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/metrics"
	"grimm.is/leasenet/internal/protocol"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/services"
	"grimm.is/leasenet/internal/transport"
)

// State is the client's protocol state.
type State int

const (
	StateInit State = iota
	StateWaitOffer
	StateWaitAck
	StateBound
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitOffer:
		return "WAIT_OFFER"
	case StateWaitAck:
		return "WAIT_ACK"
	case StateBound:
		return "BOUND"
	default:
		return "UNKNOWN"
	}
}

// Config describes one client.
type Config struct {
	Name     string
	Identity string
	// Start is the simulated time of the first DISCOVER.
	Start time.Duration
	// Hostname is sent in every REQUEST when set.
	Hostname string

	Primary       bool
	QueryTarget   string
	QueryDelay    time.Duration
	QueryInterval time.Duration

	// RetryTimeout is the first retransmission delay; it doubles on each
	// attempt. MaxRetries of zero disables retransmission entirely.
	RetryTimeout time.Duration
	MaxRetries   int

	// ReleaseAt, when positive, is the simulated time the client gives its
	// address back and goes idle.
	ReleaseAt time.Duration
}

// LeaseInfo holds what the client learned from its last OFFER and ACK.
type LeaseInfo struct {
	Address     string
	Hostname    string
	SubnetMask  string
	Gateway     string
	DNSServer   string
	LeaseTime   time.Duration
	RenewalTime time.Duration
	ObtainedAt  time.Time
}

// Stats counts client activity.
type Stats struct {
	Discovers   int `yaml:"discovers"`
	Requests    int `yaml:"requests"`
	Acks        int `yaml:"acks"`
	Renewals    int `yaml:"renewals"`
	Retries     int `yaml:"retries"`
	Blocked     int `yaml:"blocked"`
	Expirations int `yaml:"expirations"`
	Queries     int `yaml:"queries"`
	Resolved    int `yaml:"resolved"`
	Unresolved  int `yaml:"unresolved"`
	Discarded   int `yaml:"discarded"`
}

// Deps are the collaborators a client is wired to.
type Deps struct {
	Timers  scheduler.Timers
	Network transport.Sender
	Server  transport.Endpoint
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

// Client is a single simulated host. All methods run on the scheduler's
// goroutine.
type Client struct {
	cfg      Config
	endpoint transport.Endpoint
	server   transport.Endpoint

	timers  scheduler.Timers
	net     transport.Sender
	metrics *metrics.Registry
	logger  *slog.Logger

	state    State
	lease    LeaseInfo
	offered  protocol.Offer
	attempts int
	stalled  bool
	released bool

	startTimer   scheduler.Handle
	retryTimer   scheduler.Handle
	renewTimer   scheduler.Handle
	expiryTimer  scheduler.Handle
	queryTimer   scheduler.Handle
	releaseTimer scheduler.Handle

	queryID    uint16
	lastAnswer protocol.DNSResponse

	stats   Stats
	running bool
}

var _ services.Service = (*Client)(nil)

// New creates a client. Its endpoint name is cfg.Name.
func New(cfg Config, deps Deps) *Client {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Client{
		cfg:      cfg,
		endpoint: transport.Endpoint(cfg.Name),
		server:   deps.Server,
		timers:   deps.Timers,
		net:      deps.Network,
		metrics:  deps.Metrics,
		logger: deps.Logger.WithComponent("client").With(
			"client", cfg.Name,
			"identity", cfg.Identity),
	}
}

// Name implements services.Service.
func (c *Client) Name() string { return c.cfg.Name }

// Endpoint returns the client's transport endpoint.
func (c *Client) Endpoint() transport.Endpoint { return c.endpoint }

// Start schedules the first DISCOVER and, if configured, the release.
func (c *Client) Start(ctx context.Context) error {
	c.running = true
	c.startTimer = c.timers.At(clock.At(c.cfg.Start), "client-start "+c.cfg.Name, c.discover)
	if c.cfg.ReleaseAt > 0 {
		c.releaseTimer = c.timers.At(clock.At(c.cfg.ReleaseAt), "client-release "+c.cfg.Name, c.release)
	}
	return nil
}

// Stop cancels everything the client has scheduled.
func (c *Client) Stop(ctx context.Context) error {
	for _, h := range []scheduler.Handle{c.startTimer, c.retryTimer, c.renewTimer, c.expiryTimer, c.queryTimer, c.releaseTimer} {
		c.timers.Cancel(h)
	}
	c.running = false
	return nil
}

// Status implements services.Service.
func (c *Client) Status() services.ServiceStatus {
	st := services.ServiceStatus{Name: c.cfg.Name, Running: c.running}
	if c.stalled {
		st.Error = "gave up waiting for the server"
	}
	return st
}

// State returns the current protocol state.
func (c *Client) State() State { return c.state }

// Lease returns the current lease information. Address is empty unless
// the client is bound or renewing.
func (c *Client) Lease() LeaseInfo { return c.lease }

// Stats returns a copy of the client's counters.
func (c *Client) Stats() Stats { return c.stats }

// LastAnswer returns the most recent name query response.
func (c *Client) LastAnswer() protocol.DNSResponse { return c.lastAnswer }

// Stalled reports whether the client exhausted its retries.
func (c *Client) Stalled() bool { return c.stalled }

// HandleMessage implements transport.Handler.
func (c *Client) HandleMessage(from transport.Endpoint, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Offer:
		c.handleOffer(m)
	case protocol.Ack:
		c.handleAck(m)
	case protocol.DNSResponse:
		c.handleAnswer(m)
	case protocol.Discover, protocol.Request, protocol.Release, protocol.DNSQuery:
		c.discard(msg.Kind())
	}
}

func (c *Client) discover() {
	if c.released {
		return
	}
	c.state = StateWaitOffer
	c.attempts = 0
	c.stalled = false
	c.sendDiscover()
}

func (c *Client) sendDiscover() {
	c.stats.Discovers++
	c.logger.Debug("sending DISCOVER", "sim_time", c.simTime(), "attempt", c.attempts)
	c.net.Deliver(c.endpoint, c.server, protocol.Discover{Identity: c.cfg.Identity})
	c.armRetry()
}

func (c *Client) sendRequest(address string) {
	c.stats.Requests++
	c.logger.Debug("sending REQUEST", "sim_time", c.simTime(), "address", address, "attempt", c.attempts)
	c.net.Deliver(c.endpoint, c.server, protocol.Request{
		Identity: c.cfg.Identity,
		Address:  address,
		Hostname: c.cfg.Hostname,
	})
	c.armRetry()
}

func (c *Client) handleOffer(m protocol.Offer) {
	if c.state != StateWaitOffer {
		c.discard(m.Kind())
		return
	}
	c.offered = m
	c.state = StateWaitAck
	c.attempts = 0
	c.sendRequest(m.Address)
}

func (c *Client) handleAck(m protocol.Ack) {
	if m.Blocked {
		// The retry timer, if armed, retransmits; a blocked reply is
		// treated as a lost one.
		c.stats.Blocked++
		c.logger.Warn("request blocked", "sim_time", c.simTime(), "reason", m.Reason, "state", c.state)
		return
	}
	if c.state != StateWaitAck {
		c.discard(m.Kind())
		return
	}

	c.timers.Cancel(c.retryTimer)
	now := c.timers.Now()
	renewing := c.lease.Address != ""

	c.state = StateBound
	c.attempts = 0
	c.lease = LeaseInfo{
		Address:     m.Address,
		Hostname:    m.Hostname,
		SubnetMask:  c.offered.SubnetMask,
		Gateway:     c.offered.Gateway,
		DNSServer:   c.offered.DNSServer,
		LeaseTime:   m.LeaseDuration,
		RenewalTime: m.LeaseDuration / 2,
		ObtainedAt:  now,
	}
	c.stats.Acks++
	c.metrics.ClientIPAssigned.WithLabelValues(c.cfg.Name).Inc()
	c.logger.Info("bound",
		"sim_time", c.simTime(),
		"address", m.Address,
		"hostname", m.Hostname,
		"lease_time", m.LeaseDuration,
		"renewal", renewing)

	c.timers.Cancel(c.renewTimer)
	c.renewTimer = c.timers.After(c.lease.RenewalTime, "client-renew "+c.cfg.Name, c.renew)
	c.timers.Cancel(c.expiryTimer)
	c.expiryTimer = c.timers.After(c.lease.LeaseTime, "client-expiry "+c.cfg.Name, c.leaseLost)

	if c.cfg.Primary && c.queryTimer == 0 {
		c.queryTimer = c.timers.After(c.cfg.QueryDelay, "client-query "+c.cfg.Name, c.query)
	}
}

func (c *Client) renew() {
	if c.state != StateBound {
		return
	}
	c.stats.Renewals++
	c.state = StateWaitAck
	c.attempts = 0
	c.sendRequest(c.lease.Address)
}

// leaseLost fires when the client's own view of the lease runs out without
// a successful renewal.
func (c *Client) leaseLost() {
	c.stats.Expirations++
	c.logger.Warn("lease lost", "sim_time", c.simTime(), "address", c.lease.Address)
	c.timers.Cancel(c.retryTimer)
	c.timers.Cancel(c.renewTimer)
	c.lease = LeaseInfo{}
	c.state = StateInit
	c.discover()
}

func (c *Client) armRetry() {
	c.timers.Cancel(c.retryTimer)
	c.retryTimer = 0
	if c.cfg.MaxRetries <= 0 || c.cfg.RetryTimeout <= 0 {
		return
	}
	delay := c.cfg.RetryTimeout << c.attempts
	c.retryTimer = c.timers.After(delay, "client-retry "+c.cfg.Name, c.retry)
}

func (c *Client) retry() {
	c.retryTimer = 0
	if c.attempts >= c.cfg.MaxRetries {
		c.giveUp()
		return
	}
	c.attempts++
	c.stats.Retries++

	switch c.state {
	case StateWaitOffer:
		c.sendDiscover()
	case StateWaitAck:
		address := c.offered.Address
		if c.lease.Address != "" {
			address = c.lease.Address
		}
		c.sendRequest(address)
	}
}

func (c *Client) giveUp() {
	// A renewing client keeps its address until its own expiry fires.
	if c.lease.Address != "" {
		c.logger.Warn("renewal unanswered, waiting for lease end", "sim_time", c.simTime(), "attempts", c.attempts)
		return
	}
	c.state = StateInit
	c.stalled = true
	c.logger.Warn("no response from server, giving up", "sim_time", c.simTime(), "attempts", c.attempts)
}

func (c *Client) query() {
	c.queryID++
	c.stats.Queries++
	c.metrics.ClientDNSQueriesSent.WithLabelValues(c.cfg.Name).Inc()
	c.logger.Debug("querying", "sim_time", c.simTime(), "hostname", c.cfg.QueryTarget, "id", c.queryID)
	c.net.Deliver(c.endpoint, c.server, protocol.DNSQuery{ID: c.queryID, Hostname: c.cfg.QueryTarget})
	c.queryTimer = c.timers.After(c.cfg.QueryInterval, "client-query "+c.cfg.Name, c.query)
}

func (c *Client) handleAnswer(m protocol.DNSResponse) {
	if m.ID != c.queryID {
		c.discard(m.Kind())
		return
	}
	c.lastAnswer = m
	if m.Resolved {
		c.stats.Resolved++
	} else {
		c.stats.Unresolved++
	}
	c.logger.Info("name resolved",
		"sim_time", c.simTime(),
		"hostname", m.Hostname,
		"resolved", m.Resolved,
		"address", m.Address)
}

func (c *Client) release() {
	c.released = true
	for _, h := range []scheduler.Handle{c.startTimer, c.retryTimer, c.renewTimer, c.expiryTimer} {
		c.timers.Cancel(h)
	}
	if c.lease.Address != "" {
		c.logger.Info("releasing", "sim_time", c.simTime(), "address", c.lease.Address)
		c.net.Deliver(c.endpoint, c.server, protocol.Release{Identity: c.cfg.Identity, Address: c.lease.Address})
	}
	c.lease = LeaseInfo{}
	c.state = StateInit
}

func (c *Client) discard(kind protocol.Kind) {
	c.stats.Discarded++
	c.logger.Debug("message discarded", "sim_time", c.simTime(), "kind", kind, "state", c.state)
}

func (c *Client) simTime() time.Duration {
	return clock.Offset(c.timers.Now())
}
