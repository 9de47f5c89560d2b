package dhcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/leasenet/internal/clock"
)

func TestGate_Disabled(t *testing.T) {
	g := NewGate(clock.NewMockClock(clock.Epoch), AdmissionConfig{
		MaxRequests: 1,
		Window:      time.Minute,
		Blocklist:   []string{"AA:BB:CC:DD:EE:01"},
	}, nil)

	for i := 0; i < 5; i++ {
		ok, _ := g.Admit("AA:BB:CC:DD:EE:01")
		assert.True(t, ok)
	}
}

func TestGate_Blocklist(t *testing.T) {
	g := NewGate(clock.NewMockClock(clock.Epoch), AdmissionConfig{
		Enabled:   true,
		Blocklist: []string{"aa:bb:cc:dd:ee:01"},
	}, nil)

	ok, reason := g.Admit("AA:BB:CC:DD:EE:01")
	assert.False(t, ok)
	assert.Equal(t, ReasonBlocklisted, reason)

	ok, _ = g.Admit("AA:BB:CC:DD:EE:02")
	assert.True(t, ok)
}

func TestGate_Allowlist(t *testing.T) {
	g := NewGate(clock.NewMockClock(clock.Epoch), AdmissionConfig{
		Enabled:   true,
		Allowlist: []string{"AA:BB:CC:DD:EE:01"},
	}, nil)

	ok, _ := g.Admit("AA:BB:CC:DD:EE:01")
	assert.True(t, ok)

	ok, reason := g.Admit("FF:FF:FF:FF:00:01")
	assert.False(t, ok)
	assert.Equal(t, ReasonNotAllowed, reason)
}

func TestGate_RateLimitAndAutoBlock(t *testing.T) {
	clk := clock.NewMockClock(clock.Epoch)
	g := NewGate(clk, AdmissionConfig{
		Enabled:     true,
		MaxRequests: 2,
		Window:      10 * time.Second,
		BlockAfter:  2,
	}, nil)

	id := "AA:BB:CC:DD:EE:09"
	for i := 0; i < 2; i++ {
		ok, _ := g.Admit(id)
		assert.True(t, ok)
	}

	ok, reason := g.Admit(id)
	assert.False(t, ok)
	assert.Equal(t, ReasonRateLimited, reason)
	assert.False(t, g.Blocklisted(id))

	// A fresh window restores the budget.
	clk.Advance(10 * time.Second)
	ok, _ = g.Admit(id)
	assert.True(t, ok)
	g.Admit(id)

	// Second violation trips the auto-block.
	ok, reason = g.Admit(id)
	assert.False(t, ok)
	assert.Equal(t, ReasonRateLimited, reason)
	assert.True(t, g.Blocklisted(id))

	clk.Advance(time.Hour)
	ok, reason = g.Admit(id)
	assert.False(t, ok)
	assert.Equal(t, ReasonBlocklisted, reason)
	assert.Equal(t, []string{id}, g.Blocklist())
}

func TestGate_SweepsIdleIdentities(t *testing.T) {
	clk := clock.NewMockClock(clock.Epoch)
	g := NewGate(clk, AdmissionConfig{
		Enabled:     true,
		MaxRequests: 1,
		Window:      10 * time.Second,
		BlockAfter:  3,
	}, nil)

	// A flood of fresh identities, each breaching its budget once.
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("FF:FF:FF:%02X:%02X:%02X", i>>16&0xff, i>>8&0xff, i&0xff)
		ok, _ := g.Admit(id)
		assert.True(t, ok)
		ok, reason := g.Admit(id)
		assert.False(t, ok)
		assert.Equal(t, ReasonRateLimited, reason)
		clk.Advance(100 * time.Millisecond)
	}

	// Buckets live about two windows and violations BlockAfter windows
	// past that; at 10 identities per second both stay bounded.
	assert.LessOrEqual(t, g.limiter.Len(), 200)
	assert.LessOrEqual(t, len(g.violations), 400)
	assert.Empty(t, g.Blocklist())

	clk.Advance(time.Hour)
	ok, _ := g.Admit("AA:BB:CC:DD:EE:01")
	assert.True(t, ok)
	assert.Equal(t, 1, g.limiter.Len())
	assert.Empty(t, g.violations)
}
