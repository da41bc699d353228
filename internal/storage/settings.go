package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// DeviceConfig is the persisted per-device blob: connection parameters
// and user settings. Connection liveness flags are deliberately not
// persisted; auto-connect re-derives them from the stored credentials.
type DeviceConfig struct {
	ConnectionKey string                  `json:"connection_key,omitempty"`
	ServerURL     string                  `json:"server_url,omitempty"`
	DeviceToken   string                  `json:"device_token,omitempty"`
	Settings      protocol.DeviceSettings `json:"settings"`
}

// Settings is the single persisted state blob.
type Settings struct {
	Devices       map[protocol.DeviceKind]*DeviceConfig `json:"devices"`
	LastScriptURL string                                `json:"last_script_url,omitempty"`
	CustomURLs    []string                              `json:"custom_urls,omitempty"`
}

// Store persists Settings as one JSON file. Write failures are logged
// and never propagated: losing a persistence write must not fail an
// otherwise-successful in-memory operation.
type Store struct {
	path string

	mu       sync.Mutex
	settings Settings
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "settings.json")}
}

// Load reads the persisted blob. A missing file is not an error: the
// store starts with defaults.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = Settings{Devices: make(map[protocol.DeviceKind]*DeviceConfig)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.settings); err != nil {
		return err
	}
	if s.settings.Devices == nil {
		s.settings.Devices = make(map[protocol.DeviceKind]*DeviceConfig)
	}
	return nil
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Device returns the stored config for a device kind, defaulted if absent.
func (s *Store) Device(kind protocol.DeviceKind) DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dc, ok := s.settings.Devices[kind]; ok {
		return *dc
	}
	return DeviceConfig{Settings: protocol.DefaultDeviceSettings()}
}

// Update applies fn to the settings under lock and saves best-effort.
func (s *Store) Update(fn func(*Settings)) {
	s.mu.Lock()
	fn(&s.settings)
	snap := s.copyLocked()
	s.mu.Unlock()
	s.save(snap)
}

// UpdateDevice mutates one device's config and saves best-effort.
func (s *Store) UpdateDevice(kind protocol.DeviceKind, fn func(*DeviceConfig)) {
	s.Update(func(set *Settings) {
		dc, ok := set.Devices[kind]
		if !ok {
			dc = &DeviceConfig{Settings: protocol.DefaultDeviceSettings()}
			set.Devices[kind] = dc
		}
		fn(dc)
	})
}

func (s *Store) copyLocked() Settings {
	out := s.settings
	out.Devices = make(map[protocol.DeviceKind]*DeviceConfig, len(s.settings.Devices))
	for k, v := range s.settings.Devices {
		dc := *v
		out.Devices[k] = &dc
	}
	out.CustomURLs = append([]string(nil), s.settings.CustomURLs...)
	return out
}

func (s *Store) save(snap Settings) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("settings marshal failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Error("settings dir create failed", "path", s.path, "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		slog.Error("settings write failed", "path", s.path, "error", err)
	}
}
