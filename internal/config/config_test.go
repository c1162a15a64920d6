package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 9, cfg.BLE.MaxDevices)
	assert.Equal(t, 9, cfg.BLE.MaxChannels)
	assert.Equal(t, 50*time.Millisecond, cfg.BLE.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.BLE.ScanWindow)
	assert.Equal(t, 1883, cfg.MQTT.Port)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, os.Remove(path))
	require.NoError(t, m.Save())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadFileAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
ble:
  max_devices: 4
  max_channels: 6
  scan_window: 1m
  tick_interval: 20ms
known_devices:
  - address: 90:84:2B:00:00:01
    channel: 2
    name: Cargo
  - address: 90:84:2b:00:00:02
    channel: 5
mqtt:
  enabled: true
  host: broker.local
  node: layout
  rocrail_locos:
    BR218: 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	m := NewManager(path)
	require.NoError(t, m.Load())
	cfg := m.Get()

	assert.Equal(t, 4, cfg.BLE.MaxDevices)
	assert.Equal(t, time.Minute, cfg.BLE.ScanWindow)
	assert.Equal(t, 20*time.Millisecond, cfg.BLE.TickInterval)
	// Unset keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.BLE.SettleDelay)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 3, cfg.MQTT.RocrailLocos["BR218"])

	seeds := cfg.Seeds()
	require.Len(t, seeds, 2)
	assert.Equal(t, "90:84:2b:00:00:01", seeds[0].Address)
	assert.Equal(t, "Cargo", seeds[0].Name)

	cfg.Web.Port = 9090
	require.NoError(t, m.Update(cfg))

	again := NewManager(path)
	require.NoError(t, again.Load())
	assert.Equal(t, 9090, again.Get().Web.Port)
	assert.Equal(t, time.Minute, again.Get().BLE.ScanWindow)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LEGO_MQTT_HOST", "mqtt.example")
	t.Setenv("LEGO_MQTT_PASSWORD", "secret")
	t.Setenv("LEGO_LOG_LEVEL", "debug")
	t.Setenv("LEGO_MAX_CHANNELS", "4")

	m := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, m.Load())
	cfg := m.Get()

	assert.Equal(t, "mqtt.example", cfg.MQTT.Host)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.BLE.MaxChannels)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"too many channels", func(c *Config) { c.BLE.MaxChannels = 10 }, "ble.max_channels 10"},
		{"no slots", func(c *Config) { c.BLE.MaxDevices = 0 }, "ble.max_devices 0"},
		{"zero tick", func(c *Config) { c.BLE.TickInterval = 0 }, "ble.tick_interval"},
		{"bad address", func(c *Config) {
			c.KnownDevices = []KnownDevice{{Address: "not-a-mac"}}
		}, "known device #1"},
		{"channel out of range", func(c *Config) {
			c.KnownDevices = []KnownDevice{{Address: "90:84:2b:00:00:01", Channel: 9}}
		}, "channel 9 is invalid"},
		{"duplicate device", func(c *Config) {
			c.KnownDevices = []KnownDevice{
				{Address: "90:84:2b:00:00:01"},
				{Address: "90:84:2B:00:00:01", Channel: 1},
			}
		}, "duplicate known device: 90:84:2b:00:00:01"},
		{"too many devices", func(c *Config) {
			c.BLE.MaxDevices = 1
			c.KnownDevices = []KnownDevice{
				{Address: "90:84:2b:00:00:01"},
				{Address: "90:84:2b:00:00:02"},
			}
		}, "do not fit"},
		{"mqtt without host", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Host = ""
		}, "MQTT host is required"},
		{"mqtt disabled ignores host", func(c *Config) {
			c.MQTT.Enabled = false
			c.MQTT.Host = ""
		}, ""},
		{"rocrail loco channel", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.RocrailLocos = map[string]int{"V100": 12}
		}, `rocrail loco "V100"`},
		{"web port", func(c *Config) { c.Web.Port = 70000 }, "Web port 70000"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, `log level "verbose"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
