// Package simulation assembles a scenario into a running network: the
// scheduler, the message fabric, the provisioning server with its name
// registry, the clients and the adversaries.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"grimm.is/leasenet/internal/adversary"
	"grimm.is/leasenet/internal/audit"
	"grimm.is/leasenet/internal/client"
	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/config"
	"grimm.is/leasenet/internal/events"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/metrics"
	"grimm.is/leasenet/internal/scheduler"
	"grimm.is/leasenet/internal/services"
	"grimm.is/leasenet/internal/services/dhcp"
	"grimm.is/leasenet/internal/services/dns"
	"grimm.is/leasenet/internal/transport"
)

// ServerEndpoint is where the provisioning server listens.
const ServerEndpoint transport.Endpoint = "server"

// journalBuffer bounds how far the journal writer may lag the simulation.
const journalBuffer = 4096

// Options configure everything about a run that is not part of the
// scenario itself.
type Options struct {
	Logger *logging.Logger
	// Journal, if set, receives every lifecycle event under a fresh run ID.
	Journal *audit.Store
	// Label is stored with the journaled run.
	Label string
}

// Simulation is one assembled scenario. It is not safe for concurrent use.
type Simulation struct {
	cfg *config.Config

	sched       *scheduler.Scheduler
	fabric      *transport.Fabric
	metrics     *metrics.Registry
	names       *dns.Registry
	server      *dhcp.Server
	clients     []*client.Client
	adversaries []*adversary.Adversary
	services    *services.Orchestrator

	hub      *events.Hub
	recorder *audit.Recorder
	runID    string

	logger *slog.Logger
}

// Build wires cfg into a simulation. cfg must have been validated.
func Build(cfg *config.Config, opts Options) (*Simulation, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	logger := opts.Logger

	sched := scheduler.New(clock.Epoch, logger)
	s := &Simulation{
		cfg:   cfg,
		sched: sched,
		fabric: transport.New(sched, transport.Options{
			Latency:   cfg.Network.LinkLatency,
			WireCodec: cfg.Network.UseWireCodec(),
		}, logger),
		metrics:  metrics.New(nil),
		names:    dns.NewRegistry(logger),
		services: services.NewOrchestrator(logger),
		hub:      events.NewHub(sched),
		logger:   logger.WithComponent("simulation").Logger,
	}

	pool, err := dhcp.NewPool(cfg.Network.PoolStart, cfg.Network.PoolEnd)
	if err != nil {
		return nil, fmt.Errorf("address pool: %w", err)
	}
	sec := cfg.Security
	s.server = dhcp.NewServer(ServerEndpoint, pool, dhcp.Config{
		SubnetMask:     cfg.Network.SubnetMask,
		Gateway:        cfg.Network.Gateway,
		DNSServer:      cfg.Network.DNSServer,
		LeaseDuration:  cfg.Network.LeaseDuration,
		ReservationTTL: cfg.Network.ReservationDuration,
		FriendlyNames:  cfg.Network.Friendly,
		Admission: dhcp.AdmissionConfig{
			Enabled:     sec.Enabled,
			MaxRequests: sec.MaxRequests,
			Window:      sec.WindowDuration,
			BlockAfter:  sec.BlockAfter,
			Blocklist:   sec.Blocklist,
			Allowlist:   sec.Allowlist,
		},
	}, dhcp.Deps{
		Timers:  sched,
		Network: s.fabric,
		Names:   s.names,
		Metrics: s.metrics,
		Logger:  logger,
	})
	s.server.AddObserver(events.NewDHCPAdapter(s.hub))
	if err := s.attach(ServerEndpoint, s.server, s.server); err != nil {
		return nil, err
	}

	for _, cc := range cfg.Clients {
		c := client.New(client.Config{
			Name:          cc.Name,
			Identity:      cc.Identity,
			Start:         cc.StartAt,
			Hostname:      cc.Hostname,
			Primary:       cc.Primary,
			QueryTarget:   cc.QueryTarget,
			QueryDelay:    cc.QueryDelayAt,
			QueryInterval: cc.QueryEvery,
			RetryTimeout:  cc.RetryAfter,
			MaxRetries:    cc.Retries,
			ReleaseAt:     cc.ReleaseAfter,
		}, client.Deps{
			Timers:  sched,
			Network: s.fabric,
			Server:  ServerEndpoint,
			Metrics: s.metrics,
			Logger:  logger,
		})
		if err := s.attach(c.Endpoint(), c, c); err != nil {
			return nil, err
		}
		s.clients = append(s.clients, c)
	}

	// Each adversary draws from its own stream so adding one does not
	// perturb the others.
	seeds := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1))
	for _, ac := range cfg.Adversaries {
		a := adversary.New(adversary.Config{
			Name:          ac.Name,
			Mode:          adversary.Mode(ac.Mode),
			Rate:          ac.Rate,
			Start:         ac.StartAt,
			Stop:          ac.StopAt,
			Victim:        ac.Victim,
			TargetAddress: ac.TargetAddress,
			ProbeHostname: ac.ProbeHostname,
		}, seeds.Uint64(), adversary.Deps{
			Timers:  sched,
			Network: s.fabric,
			Server:  ServerEndpoint,
			Metrics: s.metrics,
			Logger:  logger,
		})
		if err := s.attach(a.Endpoint(), a, a); err != nil {
			return nil, err
		}
		s.adversaries = append(s.adversaries, a)
	}

	if opts.Journal != nil {
		run, err := opts.Journal.BeginRun(cfg.Seed, opts.Label, (&clock.RealClock{}).Now())
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		s.runID = run.ID
		s.recorder = audit.NewRecorder(opts.Journal, run.ID, s.hub, journalBuffer, logger)
	}
	return s, nil
}

func (s *Simulation) attach(ep transport.Endpoint, h transport.Handler, svc services.Service) error {
	if err := s.fabric.Register(ep, h); err != nil {
		return fmt.Errorf("endpoint %s: %w", ep, err)
	}
	return s.services.Register(svc)
}

// Run executes the scenario for its configured duration and returns the
// end-of-run report. When ctx is cancelled mid-run the report covers the
// simulated time reached and the context error is returned alongside it.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	if s.recorder != nil {
		s.recorder.Start()
	}
	defer s.hub.Close()

	if err := s.services.StartAll(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("simulation started",
		"seed", s.cfg.Seed,
		"duration", s.cfg.RunFor,
		"clients", len(s.clients),
		"adversaries", len(s.adversaries),
		"run_id", s.runID)

	processed, runErr := s.sched.Run(ctx, clock.At(s.cfg.RunFor))
	report := s.Report()

	if err := s.services.StopAll(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("stopping services", "error", err)
	}
	s.hub.Close()
	if s.recorder != nil {
		written, err := s.recorder.Wait()
		_, dropped := s.hub.Stats()
		report.Journal = &JournalReport{RunID: s.runID, Written: written, Dropped: dropped}
		if err != nil && runErr == nil {
			runErr = fmt.Errorf("journal: %w", err)
		}
	}

	s.logger.Info("simulation finished",
		"sim_time", clock.Offset(s.sched.Now()),
		"events", processed,
		"active_leases", report.Server.ActiveLeases,
		"dns_records", len(report.Names),
		"available_addresses", report.Server.AvailableAddresses)
	return report, runErr
}

// Scheduler returns the event scheduler.
func (s *Simulation) Scheduler() *scheduler.Scheduler { return s.sched }

// Server returns the provisioning server.
func (s *Simulation) Server() *dhcp.Server { return s.server }

// Names returns the name registry.
func (s *Simulation) Names() *dns.Registry { return s.names }

// Metrics returns the run's metrics registry.
func (s *Simulation) Metrics() *metrics.Registry { return s.metrics }

// Clients returns the clients in configuration order.
func (s *Simulation) Clients() []*client.Client { return s.clients }

// Adversaries returns the adversaries in configuration order.
func (s *Simulation) Adversaries() []*adversary.Adversary { return s.adversaries }

// Events returns the lifecycle event hub.
func (s *Simulation) Events() *events.Hub { return s.hub }
