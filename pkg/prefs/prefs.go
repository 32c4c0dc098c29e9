// Package prefs keeps the kiosk's preferences.
//
// The wake word toggle persists across restarts in a JSON file. The
// microphone permission flag lives only as long as the process.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const currentVersion = 1

// Store persists preferences in a JSON file.
type Store struct {
	path string

	mu   sync.RWMutex
	data fileData

	// micGranted is session-only and never written to disk.
	micGranted atomic.Bool
}

// fileData is the JSON structure of the preferences file.
type fileData struct {
	Version     int    `json:"version"`
	UpdatedAt   string `json:"updated_at"`
	WakeEnabled bool   `json:"wake_enabled"`
}

// Open loads the store at path. A missing file yields wakeDefault until
// the first save.
func Open(path string, wakeDefault bool) (*Store, error) {
	s := &Store{
		path: path,
		data: fileData{Version: currentVersion, WakeEnabled: wakeDefault},
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load prefs: %w", err)
		}
	}
	return s, nil
}

// DefaultPath returns ~/.voice-waiter/prefs.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".voice-waiter", "prefs.json"), nil
}

// Memory returns a store that never touches disk.
func Memory(wakeDefault bool) *Store {
	s, _ := Open("", wakeDefault)
	return s
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var stored fileData
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	s.data = stored
	return nil
}

// save writes the file. Caller holds s.mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.data.Version = currentVersion
	s.data.UpdatedAt = time.Now().Format(time.RFC3339)

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

// WakeEnabled reports the persisted wake word toggle.
func (s *Store) WakeEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.WakeEnabled
}

// SetWakeEnabled stores the toggle and writes it through.
func (s *Store) SetWakeEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.WakeEnabled == enabled && s.data.UpdatedAt != "" {
		return nil
	}
	s.data.WakeEnabled = enabled
	return s.save()
}

// MicGranted reports whether the microphone was granted this session.
func (s *Store) MicGranted() bool { return s.micGranted.Load() }

// SetMicGranted records the session permission flag. The microphone
// writes it after every open when the store is its grant store.
func (s *Store) SetMicGranted(granted bool) { s.micGranted.Store(granted) }
