package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Session.ConnectTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.Session.PairingCodeExpiry.Std())
	assert.Equal(t, 3, cfg.Session.PairingAttempts)
}

func TestLoadFromFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().HTTPAddr, cfg.HTTPAddr)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetbot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"owners": ["255612491554"],
		"http_addr": ":9000",
		"session": {"restart_delay": "3s", "reconnect_delay": 7}
	}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"255612491554"}, cfg.Owners)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.Session.RestartDelay.Std())
	assert.Equal(t, 7*time.Second, cfg.Session.ReconnectDelay.Std())
	// untouched nested values keep their defaults
	assert.Equal(t, 3, cfg.Session.PairingAttempts)
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
owners:
  - "255789661031"
pipeline:
  workers: 8
  presence_hold: 500ms
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.PresenceHold.Std())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLEETBOT_OWNERS", "111111111111, 222222222222")
	t.Setenv("FLEETBOT_HTTP_ADDR", ":7000")
	t.Setenv("FLEETBOT_STORE_PATH", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"111111111111", "222222222222"}, cfg.Owners)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
}

func TestValidateRejectsBadOwner(t *testing.T) {
	cfg := Default()
	cfg.Owners = []string{"+255 612"}
	assert.Error(t, cfg.Validate())
}
