// Package config holds the JSON-backed settings file a brisk-engine
// operator edits by hand, and the conversions from it into the runtime
// shapes the engine and coordinator actually consume.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/coordinator"
	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
)

// Settings holds all user-configurable application settings organized by
// category.
type Settings struct {
	General     GeneralSettings    `json:"general"`
	Connections ConnectionSettings `json:"connections"`
	Timers      TimerSettings      `json:"timers"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	DefaultTempDir     string `json:"default_temp_dir"`
	AutoResume         bool   `json:"auto_resume"`
	HistoryRetention   int    `json:"history_retention"`
}

// ConnectionSettings contains the per-download connection parameters the
// coordinator's DownloadSettings needs (spec.md §6).
type ConnectionSettings struct {
	TotalConnections             int   `json:"total_connections"`
	MaxConnectionRetryCount      int   `json:"max_connection_retry_count"` // -1 means infinite
	ConnectionRetryTimeoutMillis int64 `json:"connection_retry_timeout_millis"`
}

// TimerSettings exposes the coordinator's four periodic timers (spec.md
// §4.3/§6) so they can be tuned without a code change, the way the
// teacher makes RuntimeConfig overridable per field.
type TimerSettings struct {
	SpawnPeriodMillis         int64   `json:"spawn_period_millis"`
	ReusePeriodMillis         int64   `json:"reuse_period_millis"`
	ResetPeriodMillis         int64   `json:"reset_period_millis"`
	ButtonPeriodMillis        int64   `json:"button_period_millis"`
	ButtonAvailabilityWaitSec float64 `json:"button_availability_wait_sec"`
	NearCompletionETASeconds  float64 `json:"near_completion_eta_seconds"`
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	downloadDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: downloadDir,
			DefaultTempDir:     filepath.Join(os.TempDir(), "brisk-engine"),
			AutoResume:         false,
			HistoryRetention:   200,
		},
		Connections: ConnectionSettings{
			TotalConnections:             8,
			MaxConnectionRetryCount:      3,
			ConnectionRetryTimeoutMillis: 4000,
		},
		Timers: TimerSettings{
			SpawnPeriodMillis:         2000,
			ReusePeriodMillis:         2000,
			ResetPeriodMillis:        4000,
			ButtonPeriodMillis:        1000,
			ButtonAvailabilityWaitSec: 2,
			NearCompletionETASeconds:  5,
		},
	}
}

// GetConfigDir returns the directory brisk-engine keeps its settings,
// history, and server lock file in, honoring XDG_CONFIG_HOME on Linux the
// way os.UserConfigDir already does.
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "brisk-engine")
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetConfigDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if the file
// doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(GetSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // fill any field missing from an older file
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// ToDownloadSettings projects the connection category into the coordinator
// protocol's DownloadSettings for one download, given its resolved temp and
// save directories.
func (s *Settings) ToDownloadSettings(tempDir, saveDir string) protocol.DownloadSettings {
	return protocol.DownloadSettings{
		TotalConnections:             s.Connections.TotalConnections,
		MaxConnectionRetryCount:      s.Connections.MaxConnectionRetryCount,
		ConnectionRetryTimeoutMillis: s.Connections.ConnectionRetryTimeoutMillis,
		BaseTempDir:                  tempDir,
		BaseSaveDir:                  saveDir,
	}
}

// ToEngineConfig projects the timer category into the coordinator's
// EngineConfig.
func (s *Settings) ToEngineConfig() *coordinator.EngineConfig {
	return &coordinator.EngineConfig{
		SpawnPeriod:               time.Duration(s.Timers.SpawnPeriodMillis) * time.Millisecond,
		ReusePeriod:               time.Duration(s.Timers.ReusePeriodMillis) * time.Millisecond,
		ResetPeriod:               time.Duration(s.Timers.ResetPeriodMillis) * time.Millisecond,
		ButtonPeriod:              time.Duration(s.Timers.ButtonPeriodMillis) * time.Millisecond,
		ButtonAvailabilityWaitSec: s.Timers.ButtonAvailabilityWaitSec,
		NearCompletionETASeconds:  s.Timers.NearCompletionETASeconds,
	}
}
