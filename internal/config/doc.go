// Package config loads and validates leasenet scenario files.
//
// # Overview
//
// Scenarios are written in HCL. A file describes one simulation run: the
// network handed out by the provisioning server, its admission control,
// the well-behaved clients and the adversaries. Durations are strings in
// time.ParseDuration form ("100s", "1m30s"). The variable env exposes the
// process environment, so `seed = env.LEASENET_SEED` works.
//
// # Configuration Blocks
//
//   - network: address pool, offered parameters, lease timing, transport
//   - security: rate limit, blocklist and allowlist
//   - client "<name>": one client endpoint
//   - adversary "<name>": one attack generator
//
// Example:
//
//	seed     = 42
//	duration = "600s"
//
//	network {
//	  pool           = "10.0.0.10-12"
//	  lease_time     = "100s"
//	  friendly_names = ["AA:BB:CC:DD:EE:01=alice"]
//	}
//
//	client "laptop" {
//	  identity     = "AA:BB:CC:DD:EE:01"
//	  primary      = true
//	  query_target = "host-02"
//	}
//
//	adversary "mallory" {
//	  mode  = "starvation"
//	  rate  = 2.0
//	  start = "5s"
//	}
//
// Anything that fails validation is reported as a [ValidationErrors] that
// wraps [ErrMalformedConfig]; a run never starts from a bad file.
package config
