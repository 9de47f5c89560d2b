package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullHCL = `
seed     = 42
duration = "300s"

network {
  pool            = "10.0.0.10-10.0.0.12"
  subnet_mask     = "255.255.255.0"
  gateway         = "10.0.0.1"
  dns_server      = "10.0.0.1"
  lease_time      = "100s"
  reservation_ttl = "5s"
  latency         = "2ms"
  wire_codec      = false
  friendly_names  = ["AA:BB:CC:DD:EE:01=alice", "AA:BB:CC:DD:EE:03=carol, AA:BB:CC:DD:EE:04=dave"]
}

security {
  enabled      = true
  max_requests = 5
  window       = "30s"
  block_after  = 2
  blocklist    = ["FF:FF:FF:FF:00:01"]
}

client "laptop" {
  identity       = "AA:BB:CC:DD:EE:01"
  start          = "1s"
  primary        = true
  query_target   = "host-02"
  query_delay    = "15s"
  query_interval = "30s"
  retry_timeout  = "2s"
  max_retries    = 0
}

client "phone" {
  identity   = "AA:BB:CC:DD:EE:02"
  hostname   = "bob"
  release_at = "200s"
}

adversary "mallory" {
  mode  = "spoof"
  rate  = 0.5
  start = "30s"
  stop  = "90s"
  victim = "AA:BB:CC:DD:EE:01"
}
`

func TestLoadHCL_Full(t *testing.T) {
	cfg, err := LoadHCL([]byte(fullHCL), "scenario.hcl")
	require.NoError(t, err)

	assert.EqualValues(t, 42, cfg.Seed)
	assert.Equal(t, 300*time.Second, cfg.RunFor)

	n := cfg.Network
	assert.Equal(t, "10.0.0.10", n.PoolStart.String())
	assert.Equal(t, "10.0.0.12", n.PoolEnd.String())
	assert.Equal(t, 100*time.Second, n.LeaseDuration)
	assert.Equal(t, 5*time.Second, n.ReservationDuration)
	assert.Equal(t, 2*time.Millisecond, n.LinkLatency)
	assert.False(t, n.UseWireCodec())
	assert.Equal(t, map[string]string{
		"AA:BB:CC:DD:EE:01": "alice",
		"AA:BB:CC:DD:EE:03": "carol",
		"AA:BB:CC:DD:EE:04": "dave",
	}, n.Friendly)

	s := cfg.Security
	assert.True(t, s.Enabled)
	assert.Equal(t, 5, s.MaxRequests)
	assert.Equal(t, 30*time.Second, s.WindowDuration)
	assert.Equal(t, 2, s.BlockAfter)
	assert.Equal(t, []string{"FF:FF:FF:FF:00:01"}, s.Blocklist)

	require.Len(t, cfg.Clients, 2)
	laptop := cfg.Clients[0]
	assert.Equal(t, "laptop", laptop.Name)
	assert.Equal(t, time.Second, laptop.StartAt)
	assert.True(t, laptop.Primary)
	assert.Equal(t, 15*time.Second, laptop.QueryDelayAt)
	assert.Equal(t, 30*time.Second, laptop.QueryEvery)
	assert.Equal(t, 2*time.Second, laptop.RetryAfter)
	assert.Equal(t, 0, laptop.Retries)

	phone := cfg.Clients[1]
	assert.Equal(t, "bob", phone.Hostname)
	assert.Equal(t, DefaultMaxRetries, phone.Retries)
	assert.Equal(t, 4*time.Second, phone.RetryAfter)
	assert.Equal(t, 200*time.Second, phone.ReleaseAfter)

	require.Len(t, cfg.Adversaries, 1)
	a := cfg.Adversaries[0]
	assert.Equal(t, "spoof", a.Mode)
	assert.Equal(t, 0.5, a.Rate)
	assert.Equal(t, 30*time.Second, a.StartAt)
	assert.Equal(t, 90*time.Second, a.StopAt)
	assert.Equal(t, DefaultProbeHostname, a.ProbeHostname)
}

func TestLoadHCL_Defaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(`client "a" { identity = "AA:BB:CC:DD:EE:01" }`), "min.hcl")
	require.NoError(t, err)

	assert.EqualValues(t, DefaultSeed, cfg.Seed)
	assert.Equal(t, 600*time.Second, cfg.RunFor)
	assert.Equal(t, "10.0.0.10", cfg.Network.PoolStart.String())
	assert.Equal(t, "10.0.0.12", cfg.Network.PoolEnd.String())
	assert.Equal(t, 100*time.Second, cfg.Network.LeaseDuration)
	assert.Equal(t, 10*time.Second, cfg.Network.ReservationDuration)
	assert.Equal(t, time.Millisecond, cfg.Network.LinkLatency)
	assert.True(t, cfg.Network.UseWireCodec())
	assert.False(t, cfg.Security.Enabled)
	assert.Equal(t, DefaultMaxRequests, cfg.Security.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Clients[0].QueryDelayAt)
	assert.Equal(t, 20*time.Second, cfg.Clients[0].QueryEvery)
}

func TestLoadHCL_SubSecondLeaseWithoutWireCodec(t *testing.T) {
	cfg, err := LoadHCL([]byte("network {\n lease_time = \"500ms\"\n wire_codec = false\n}"), "fast.hcl")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.LeaseDuration)
	assert.False(t, cfg.Network.UseWireCodec())
}

func TestLoadHCL_EnvVariables(t *testing.T) {
	t.Setenv("LEASENET_SEED", "99")
	t.Setenv("LEASENET_POOL", "192.168.7.100-110")

	cfg, err := LoadHCL([]byte(`
seed = env.LEASENET_SEED
network {
  pool = env.LEASENET_POOL
}
`), "env.hcl")
	require.NoError(t, err)
	assert.EqualValues(t, 99, cfg.Seed)
	assert.Equal(t, "192.168.7.110", cfg.Network.PoolEnd.String())
}

func TestLoadHCL_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		hcl   string
		field string
	}{
		{"syntax", `network {`, ""},
		{"unknown attribute", `colour = "blue"`, ""},
		{"missing identity", `client "a" {}`, ""},
		{"bad pool", `network { pool = "10.0.0.12-10.0.0.10" }`, "network.pool"},
		{"bad gateway", `network { gateway = "nope" }`, "network.gateway"},
		{"bad lease", `network { lease_time = "forever" }`, "network.lease_time"},
		{"zero lease", `network { lease_time = "0s" }`, "network.lease_time"},
		{"sub-second lease on the wire", `network { lease_time = "500ms" }`, "network.lease_time"},
		{"fractional lease on the wire", `network { lease_time = "1500ms" }`, "network.lease_time"},
		{"bad friendly", `network { friendly_names = ["alice"] }`, "network.friendly_names"},
		{"bad identity", `client "a" { identity = "AA BB" }`, "client.a.identity"},
		{"bad hostname", "client \"a\" {\n identity = \"x:1\"\n hostname = \"a..b\"\n}", "client.a.hostname"},
		{"primary without target", "client \"a\" {\n identity = \"x:1\"\n primary = true\n}", "client.a.query_target"},
		{"negative retries", "client \"a\" {\n identity = \"x:1\"\n max_retries = -1\n}", "client.a.max_retries"},
		{"duplicate client", "client \"a\" { identity = \"x:1\" }\nclient \"a\" { identity = \"x:2\" }", "client.a"},
		{"reserved name", `client "server" { identity = "x:1" }`, "client.server"},
		{"client adversary clash", "client \"a\" { identity = \"x:1\" }\nadversary \"a\" { mode = \"starvation\" }", "adversary.a"},
		{"unknown mode", `adversary "m" { mode = "flood" }`, "adversary.m.mode"},
		{"bad rate", "adversary \"m\" {\n mode = \"starvation\"\n rate = -1\n}", "adversary.m.rate"},
		{"stop before start", "adversary \"m\" {\n mode = \"starvation\"\n start = \"10s\"\n stop = \"5s\"\n}", "adversary.m.stop"},
		{"spoof without victim", `adversary "m" { mode = "spoof" }`, "adversary.m.victim"},
		{"bad target", "adversary \"m\" {\n mode = \"spoof\"\n victim = \"x:1\"\n target_address = \"::1\"\n}", "adversary.m.target_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.hcl), "bad.hcl")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedConfig)

			if tt.field == "" {
				return
			}
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "want ValidationErrors, got %v", err)
			var fields []string
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.hcl")
	require.NoError(t, os.WriteFile(path, []byte(fullHCL), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Clients, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Clients, 2)
	assert.True(t, cfg.Clients[0].Primary)
	assert.Equal(t, "host-02", cfg.Clients[0].QueryTarget)
	assert.Equal(t, "alice", cfg.Network.Friendly["AA:BB:CC:DD:EE:01"])
	assert.Empty(t, cfg.Adversaries)
}
