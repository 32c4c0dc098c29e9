package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_PersistsWakeToggle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.WakeEnabled() {
		t.Error("default should apply before the first save")
	}
	if err := s.SetWakeEnabled(true); err != nil {
		t.Fatalf("SetWakeEnabled failed: %v", err)
	}

	reopened, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.WakeEnabled() {
		t.Error("toggle should survive a restart")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read prefs: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("prefs file is not JSON: %v", err)
	}
	if _, ok := stored["mic_granted"]; ok {
		t.Error("mic permission must not be persisted")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestStore_MicGrantedIsSessionOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.SetMicGranted(true)
	if err := s.SetWakeEnabled(false); err != nil {
		t.Fatalf("SetWakeEnabled failed: %v", err)
	}

	reopened, err := Open(path, true)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.MicGranted() {
		t.Error("a new session starts without the permission flag")
	}
	if reopened.WakeEnabled() {
		t.Error("explicit false should override the default")
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, false); err == nil {
		t.Error("expected an error for a corrupt file")
	}
}

func TestMemory(t *testing.T) {
	s := Memory(true)
	if !s.WakeEnabled() || s.Path() != "" {
		t.Errorf("unexpected memory store %q %v", s.Path(), s.WakeEnabled())
	}
	if err := s.SetWakeEnabled(false); err != nil || s.WakeEnabled() {
		t.Errorf("SetWakeEnabled: %v, enabled %v", err, s.WakeEnabled())
	}
}
