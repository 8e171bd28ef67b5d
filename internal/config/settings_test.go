package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()
	require.NotNil(t, settings)

	t.Run("GeneralSettings", func(t *testing.T) {
		require.NotEmpty(t, settings.General.DefaultDownloadDir)
		require.Contains(t, strings.ToLower(settings.General.DefaultDownloadDir), "downloads")
		require.False(t, settings.General.AutoResume)
		require.Greater(t, settings.General.HistoryRetention, 0)
	})

	t.Run("ConnectionSettings", func(t *testing.T) {
		require.Greater(t, settings.Connections.TotalConnections, 0)
		require.LessOrEqual(t, settings.Connections.TotalConnections, 64)
		require.Greater(t, settings.Connections.ConnectionRetryTimeoutMillis, int64(0))
	})

	t.Run("TimerSettings", func(t *testing.T) {
		require.Greater(t, settings.Timers.SpawnPeriodMillis, int64(0))
		require.Greater(t, settings.Timers.ReusePeriodMillis, int64(0))
		require.Greater(t, settings.Timers.ResetPeriodMillis, int64(0))
		require.Greater(t, settings.Timers.ButtonPeriodMillis, int64(0))
		require.Greater(t, settings.Timers.ButtonAvailabilityWaitSec, 0.0)
	})
}

func TestDefaultSettings_Consistency(t *testing.T) {
	s1 := DefaultSettings()
	s2 := DefaultSettings()
	require.NotSame(t, s1, s2)
	require.Equal(t, s1.Connections.TotalConnections, s2.Connections.TotalConnections)
}

func TestGetSettingsPath(t *testing.T) {
	path := GetSettingsPath()
	require.NotEmpty(t, path)
	require.True(t, strings.HasPrefix(path, GetConfigDir()))
	require.True(t, strings.HasSuffix(path, "settings.json"))
	require.True(t, filepath.IsAbs(path))
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	partial := `{"general": {"default_download_dir": "/custom/path"}}`

	settings := DefaultSettings()
	require.NoError(t, json.Unmarshal([]byte(partial), settings))

	require.Equal(t, "/custom/path", settings.General.DefaultDownloadDir)
	require.Greater(t, settings.Connections.TotalConnections, 0)
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	settings := DefaultSettings()
	err := json.Unmarshal([]byte("{invalid json"), settings)
	require.Error(t, err)
}

func TestToDownloadSettings(t *testing.T) {
	settings := DefaultSettings()
	ds := settings.ToDownloadSettings("/tmp/brisk-tmp", "/tmp/brisk-out")

	require.Equal(t, settings.Connections.TotalConnections, ds.TotalConnections)
	require.Equal(t, settings.Connections.MaxConnectionRetryCount, ds.MaxConnectionRetryCount)
	require.Equal(t, settings.Connections.ConnectionRetryTimeoutMillis, ds.ConnectionRetryTimeoutMillis)
	require.Equal(t, "/tmp/brisk-tmp", ds.BaseTempDir)
	require.Equal(t, "/tmp/brisk-out", ds.BaseSaveDir)
}

func TestToEngineConfig(t *testing.T) {
	settings := DefaultSettings()
	cfg := settings.ToEngineConfig()
	require.NotNil(t, cfg)

	require.Equal(t, int64(cfg.SpawnPeriod.Milliseconds()), settings.Timers.SpawnPeriodMillis)
	require.Equal(t, int64(cfg.ReusePeriod.Milliseconds()), settings.Timers.ReusePeriodMillis)
	require.Equal(t, int64(cfg.ResetPeriod.Milliseconds()), settings.Timers.ResetPeriodMillis)
	require.Equal(t, int64(cfg.ButtonPeriod.Milliseconds()), settings.Timers.ButtonPeriodMillis)
	require.Equal(t, settings.Timers.ButtonAvailabilityWaitSec, cfg.ButtonAvailabilityWaitSec)
}

func TestSaveAndLoadSettings_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	original := DefaultSettings()
	original.General.AutoResume = true
	original.Connections.TotalConnections = 16
	original.Timers.SpawnPeriodMillis = 5000

	require.NoError(t, SaveSettings(original))

	_, err := os.Stat(GetSettingsPath())
	require.NoError(t, err)

	loaded, err := LoadSettings()
	require.NoError(t, err)
	require.True(t, loaded.General.AutoResume)
	require.Equal(t, 16, loaded.Connections.TotalConnections)
	require.Equal(t, int64(5000), loaded.Timers.SpawnPeriodMillis)
}

func TestLoadSettings_MissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	settings, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, DefaultSettings().Connections.TotalConnections, settings.Connections.TotalConnections)
}
