package dhcp

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/ratelimit"
)

// Reasons carried in blocked responses and the blocked metric.
const (
	ReasonBlocklisted    = "blocklisted"
	ReasonNotAllowed     = "not-allowlisted"
	ReasonRateLimited    = "rate-limited"
	ReasonHijack         = "hijack"
	ReasonSpoofed        = "spoofed-identity"
	ReasonUnknownRelease = "release-not-held"
)

// AdmissionConfig configures the gate run before DISCOVER and REQUEST.
type AdmissionConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	// BlockAfter moves an identity to the blocklist after this many rate
	// violations. Zero disables auto-blocking.
	BlockAfter int
	Blocklist  []string
	Allowlist  []string
}

// Gate decides whether an identity may touch server state.
type Gate struct {
	cfg        AdmissionConfig
	clock      clock.Clock
	limiter    *ratelimit.Limiter
	blocked    map[string]bool
	allowed    map[string]bool
	violations map[string]*violation
	lastSweep  time.Time
	logger     *slog.Logger
}

// violation counts rate-limit breaches of one identity.
type violation struct {
	count int
	last  time.Time
}

// NewGate builds a gate. A disabled gate admits everything.
func NewGate(clk clock.Clock, cfg AdmissionConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		cfg:        cfg,
		clock:      clk,
		blocked:    make(map[string]bool),
		allowed:    make(map[string]bool),
		violations: make(map[string]*violation),
		logger:     logger,
	}
	if cfg.MaxRequests > 0 && cfg.Window > 0 {
		g.limiter = ratelimit.NewLimiter(clk, cfg.MaxRequests, cfg.Window)
	}
	for _, id := range cfg.Blocklist {
		g.blocked[normalizeIdentity(id)] = true
	}
	for _, id := range cfg.Allowlist {
		g.allowed[normalizeIdentity(id)] = true
	}
	return g
}

// Admit consumes one request from identity's budget. When it returns
// false, reason says why.
func (g *Gate) Admit(identity string) (bool, string) {
	if !g.cfg.Enabled {
		return true, ""
	}
	key := normalizeIdentity(identity)
	if g.blocked[key] {
		return false, ReasonBlocklisted
	}
	if len(g.allowed) > 0 && !g.allowed[key] {
		return false, ReasonNotAllowed
	}
	if g.limiter == nil {
		return true, ""
	}
	g.sweep()
	if !g.limiter.Allow(key) {
		v, ok := g.violations[key]
		if !ok {
			v = &violation{}
			g.violations[key] = v
		}
		v.count++
		v.last = g.clock.Now()
		if g.cfg.BlockAfter > 0 && v.count >= g.cfg.BlockAfter {
			g.Block(identity)
		}
		return false, ReasonRateLimited
	}
	return true, ""
}

// sweep drops state for identities that have gone quiet, at most once per
// window. An idle bucket would be refilled in full on its next use anyway.
// Violation records are kept for BlockAfter windows after the last breach.
func (g *Gate) sweep() {
	now := g.clock.Now()
	if now.Sub(g.lastSweep) < g.cfg.Window {
		return
	}
	g.lastSweep = now

	buckets := g.limiter.CleanupExpired(g.cfg.Window)
	memory := g.cfg.Window * time.Duration(max(g.cfg.BlockAfter, 1))
	forgotten := 0
	for key, v := range g.violations {
		if now.Sub(v.last) > memory {
			delete(g.violations, key)
			forgotten++
		}
	}
	if buckets > 0 || forgotten > 0 {
		g.logger.Debug("admission state swept",
			"sim_time", clock.Offset(now),
			"buckets_removed", buckets,
			"violations_removed", forgotten,
			"tracked", g.limiter.Len())
	}
}

// Block adds identity to the blocklist.
func (g *Gate) Block(identity string) {
	key := normalizeIdentity(identity)
	if g.blocked[key] {
		return
	}
	g.blocked[key] = true
	if g.limiter != nil {
		g.limiter.Reset(key)
	}
	delete(g.violations, key)
	g.logger.Warn("identity blocklisted", "identity", identity)
}

// Blocklisted reports whether identity is on the blocklist.
func (g *Gate) Blocklisted(identity string) bool {
	return g.blocked[normalizeIdentity(identity)]
}

// Blocklist returns the current blocklist in sorted order.
func (g *Gate) Blocklist() []string {
	out := make([]string, 0, len(g.blocked))
	for id := range g.blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalizeIdentity(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
