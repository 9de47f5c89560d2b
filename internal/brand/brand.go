// Package brand provides centralized naming constants for leasenet.
//
// The identity is loaded from brand.json at compile time via go:embed so
// scripts and docs generators can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name            string `json:"name"`
	LowerName       string `json:"lowerName"`
	Description     string `json:"description"`
	Repository      string `json:"repository"`
	ConfigEnvPrefix string `json:"configEnvPrefix"`
	DefaultStateDir string `json:"defaultStateDir"`
	BinaryName      string `json:"binaryName"`
	JournalFileName string `json:"journalFileName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	Repository = b.Repository
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultStateDir = b.DefaultStateDir
	BinaryName = b.BinaryName
	JournalFileName = b.JournalFileName
}

var (
	Name            string
	LowerName       string
	Description     string
	Repository      string
	ConfigEnvPrefix string
	DefaultStateDir string
	BinaryName      string
	JournalFileName string

	// Version is set at build time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: LEASENET_STATE_DIR > LEASENET_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// DefaultJournalPath is where run journals go unless a path is given.
func DefaultJournalPath() string {
	return filepath.Join(GetStateDir(), JournalFileName)
}
