package brand

import (
	"path/filepath"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if BinaryName != "leasenet" {
		t.Errorf("BinaryName = %q, want leasenet", BinaryName)
	}
}

func TestGetStateDir(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")

	if GetStateDir() != DefaultStateDir {
		t.Errorf("Expected default state dir %s, got %s", DefaultStateDir, GetStateDir())
	}

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/tmp/leasenet")
	if GetStateDir() != "/tmp/leasenet/state" {
		t.Errorf("Expected prefix state dir, got %s", GetStateDir())
	}
	if DefaultJournalPath() != filepath.Join("/tmp/leasenet/state", JournalFileName) {
		t.Errorf("unexpected journal path %s", DefaultJournalPath())
	}

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/custom/state")
	if GetStateDir() != "/custom/state" {
		t.Errorf("Expected custom state dir, got %s", GetStateDir())
	}
}
