package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"channels": [{"name": "book", "hosts": "a:1,b:1", "protocol": "binary", "mode": "sub", "cache": true}],
		"adminAddr": ":9090"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 1)
	require.Equal(t, "book", cfg.Channels[0].Name)
	require.Equal(t, ":9090", cfg.AdminAddr)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{
		"channels": [{"name": "book", "hosts": "a:1", "protocol": "binary", "mode": "sub"}],
		"bogusField": true
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadProtocolEnum(t *testing.T) {
	path := writeConfig(t, `{
		"channels": [{"name": "book", "hosts": "a:1", "protocol": "carrier-pigeon", "mode": "sub"}]
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresAtLeastOneChannel(t *testing.T) {
	path := writeConfig(t, `{"channels": []}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestSchedulerIntervalsFallBackToDefaults(t *testing.T) {
	var s SchedulerConfig
	require.Equal(t, 5*time.Minute, s.CacheEvictionIntervalDuration())
	require.Equal(t, 30*time.Second, s.LVCFreshnessIntervalDuration())
	require.Equal(t, time.Hour, s.JournalCompactionIntervalDuration())

	s.CacheEvictionInterval = "10s"
	require.Equal(t, 10*time.Second, s.CacheEvictionIntervalDuration())
}
