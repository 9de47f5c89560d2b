package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// ErrMalformedConfig is wrapped by every load and validation failure.
var ErrMalformedConfig = errors.New("malformed config")

// LoadFile loads and validates a scenario file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadHCL(data, path)
}

// LoadHCL decodes, defaults and validates scenario source. filename is used
// in diagnostics and must end in .hcl.
func LoadHCL(data []byte, filename string) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, evalContext(), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}
	cfg.applyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrMalformedConfig, errs)
	}
	return &cfg, nil
}

// Default returns the built-in scenario: two clients, the first of which
// runs the name query cycle against the second, and no adversary.
func Default() *Config {
	cfg, err := LoadHCL([]byte(DefaultHCL), "default.hcl")
	if err != nil {
		panic(err)
	}
	return cfg
}

// DefaultHCL is the source of Default.
const DefaultHCL = `
network {
  friendly_names = ["AA:BB:CC:DD:EE:01=alice"]
}

client "laptop" {
  identity     = "AA:BB:CC:DD:EE:01"
  start        = "1s"
  primary      = true
  query_target = "host-02"
}

client "phone" {
  identity = "AA:BB:CC:DD:EE:02"
  start    = "2s"
}
`

// evalContext exposes the process environment as env.<NAME>.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" || !hclIdentifier(name) {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
