// Package adversary generates hostile traffic against the provisioning
// server: pool starvation floods, probes for sensitive names, and requests
// that reuse a victim's identity.
package adversary

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/metrics"
	"grimm.is/leasenet/internal/protocol"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/services"
	"grimm.is/leasenet/internal/transport"
)

// Mode selects the attack. It is fixed per adversary.
type Mode string

const (
	ModeStarvation Mode = "starvation"
	ModeNameProbe  Mode = "name_probe"
	ModeSpoof      Mode = "spoof"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeStarvation, ModeNameProbe, ModeSpoof:
		return true
	}
	return false
}

// Config describes one adversary.
type Config struct {
	Name string
	Mode Mode
	// Rate is the mean number of attacks per simulated second.
	Rate float64
	// Start is when the first attack fires; Stop, if positive, is when
	// attacks cease.
	Start time.Duration
	Stop  time.Duration

	// Victim is the identity reused in spoof mode.
	Victim string
	// TargetAddress, if set, makes spoof mode REQUEST it directly instead
	// of discovering first.
	TargetAddress string
	// ProbeHostname is queried in name_probe mode and claimed in spoof mode.
	ProbeHostname string
}

// Stats counts adversary activity.
type Stats struct {
	Attempts  int `yaml:"attempts"`
	Blocked   int `yaml:"blocked"`
	Offers    int `yaml:"offers"`
	Succeeded int `yaml:"succeeded"`
	Answered  int `yaml:"answered"`
}

// Deps are the collaborators an adversary is wired to.
type Deps struct {
	Timers  scheduler.Timers
	Network transport.Sender
	Server  transport.Endpoint
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

// Adversary fires attacks with exponentially distributed gaps.
type Adversary struct {
	cfg      Config
	endpoint transport.Endpoint
	server   transport.Endpoint

	timers  scheduler.Timers
	net     transport.Sender
	metrics *metrics.Registry
	rng     *rand.Rand
	logger  *slog.Logger

	timer   scheduler.Handle
	queryID uint16
	stats   Stats
	running bool
}

var _ services.Service = (*Adversary)(nil)

// New creates an adversary drawing its randomness from seed.
func New(cfg Config, seed uint64, deps Deps) *Adversary {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Adversary{
		cfg:      cfg,
		endpoint: transport.Endpoint(cfg.Name),
		server:   deps.Server,
		timers:   deps.Timers,
		net:      deps.Network,
		metrics:  deps.Metrics,
		rng:      rand.New(rand.NewPCG(seed, seed)),
		logger: deps.Logger.WithComponent("adversary").With(
			"adversary", cfg.Name,
			"mode", string(cfg.Mode)),
	}
}

// Name implements services.Service.
func (a *Adversary) Name() string { return a.cfg.Name }

// Endpoint returns the adversary's transport endpoint.
func (a *Adversary) Endpoint() transport.Endpoint { return a.endpoint }

// Start schedules the first attack at the configured start time.
func (a *Adversary) Start(ctx context.Context) error {
	if !a.cfg.Mode.Valid() {
		return fmt.Errorf("adversary %s: unknown mode %q", a.cfg.Name, a.cfg.Mode)
	}
	if a.cfg.Rate <= 0 {
		return fmt.Errorf("adversary %s: rate must be positive", a.cfg.Name)
	}
	a.running = true
	a.timer = a.timers.At(clock.At(a.cfg.Start), "attack "+a.cfg.Name, a.fire)
	return nil
}

// Stop cancels the next attack.
func (a *Adversary) Stop(ctx context.Context) error {
	a.timers.Cancel(a.timer)
	a.running = false
	return nil
}

// Status implements services.Service.
func (a *Adversary) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: a.cfg.Name, Running: a.running}
}

// Stats returns a copy of the adversary's counters.
func (a *Adversary) Stats() Stats { return a.stats }

// Mode returns the configured attack.
func (a *Adversary) Mode() Mode { return a.cfg.Mode }

func (a *Adversary) fire() {
	if a.cfg.Stop > 0 && !a.timers.Now().Before(clock.At(a.cfg.Stop)) {
		a.running = false
		a.logger.Info("attack window closed", "sim_time", a.simTime(), "attempts", a.stats.Attempts)
		return
	}

	var msg protocol.Message
	switch a.cfg.Mode {
	case ModeStarvation:
		msg = protocol.Discover{Identity: a.randomIdentity()}
	case ModeNameProbe:
		a.queryID++
		msg = protocol.DNSQuery{ID: a.queryID, Hostname: a.cfg.ProbeHostname}
	case ModeSpoof:
		if a.cfg.TargetAddress != "" {
			msg = protocol.Request{Identity: a.cfg.Victim, Address: a.cfg.TargetAddress, Hostname: a.cfg.ProbeHostname}
		} else {
			msg = protocol.Discover{Identity: a.cfg.Victim}
		}
	}
	a.send(msg)

	a.timer = a.timers.After(a.nextGap(), "attack "+a.cfg.Name, a.fire)
}

func (a *Adversary) send(msg protocol.Message) {
	a.stats.Attempts++
	a.metrics.Attacks.WithLabelValues(string(a.cfg.Mode)).Inc()
	a.logger.Debug("attack", "sim_time", a.simTime(), "kind", msg.Kind(), "attempt", a.stats.Attempts)
	a.net.Deliver(a.endpoint, a.server, msg)
}

// HandleMessage implements transport.Handler.
func (a *Adversary) HandleMessage(from transport.Endpoint, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Ack:
		if m.Blocked {
			a.stats.Blocked++
			a.metrics.AttacksBlocked.WithLabelValues(string(a.cfg.Mode)).Inc()
			a.logger.Info("attack blocked", "sim_time", a.simTime(), "reason", m.Reason)
			return
		}
		a.stats.Succeeded++
		a.logger.Warn("attack acknowledged", "sim_time", a.simTime(), "address", m.Address, "hostname", m.Hostname)
	case protocol.Offer:
		a.stats.Offers++
		if a.cfg.Mode == ModeSpoof {
			a.send(protocol.Request{Identity: m.Identity, Address: m.Address, Hostname: a.cfg.ProbeHostname})
		}
	case protocol.DNSResponse:
		if m.Resolved {
			a.stats.Answered++
			a.logger.Info("probe answered", "sim_time", a.simTime(), "hostname", m.Hostname, "address", m.Address)
		}
	case protocol.Discover, protocol.Request, protocol.Release, protocol.DNSQuery:
	}
}

// nextGap draws an exponential inter-arrival time with mean 1/Rate seconds.
func (a *Adversary) nextGap() time.Duration {
	return time.Duration(a.rng.ExpFloat64() / a.cfg.Rate * float64(time.Second))
}

// randomIdentity returns a fresh identity with 40 random bits under the
// FF prefix.
func (a *Adversary) randomIdentity() string {
	v := a.rng.Uint64()
	return fmt.Sprintf("FF:%02X:%02X:%02X:%02X:%02X",
		byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (a *Adversary) simTime() time.Duration {
	return clock.Offset(a.timers.Now())
}
