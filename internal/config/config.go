package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"lego-hub-manager/internal/hub"
)

// PaletteSize is the number of channel colors available
const PaletteSize = 9

type Config struct {
	BLE          BLEConfig     `yaml:"ble" json:"ble"`
	KnownDevices []KnownDevice `yaml:"known_devices" json:"known_devices"`
	MQTT         MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Web          WebConfig     `yaml:"web" json:"web"`
	Display      DisplayConfig `yaml:"display" json:"display"`
	Logging      LoggingConfig `yaml:"logging" json:"logging"`
}

type BLEConfig struct {
	MaxDevices           int           `yaml:"max_devices" json:"max_devices" env:"LEGO_MAX_DEVICES"`
	MaxChannels          int           `yaml:"max_channels" json:"max_channels" env:"LEGO_MAX_CHANNELS"`
	TickInterval         time.Duration `yaml:"tick_interval" json:"tick_interval"`
	IdlePollInterval     time.Duration `yaml:"idle_poll_interval" json:"idle_poll_interval"`
	ScanTimeout          time.Duration `yaml:"scan_timeout" json:"scan_timeout"`
	ScanWindow           time.Duration `yaml:"scan_window" json:"scan_window"`
	PersistentScan       bool          `yaml:"persistent_scan" json:"persistent_scan" env:"LEGO_PERSISTENT_SCAN"`
	SettleDelay          time.Duration `yaml:"settle_delay" json:"settle_delay"`
	TelemetryInterval    time.Duration `yaml:"telemetry_interval" json:"telemetry_interval"`
	ActivityPollInterval time.Duration `yaml:"activity_poll_interval" json:"activity_poll_interval"`
	AdapterID            string        `yaml:"adapter_id" json:"adapter_id" env:"LEGO_BLE_ADAPTER"`
}

// KnownDevice pre-assigns a hub or remote to a channel
type KnownDevice struct {
	Address string `yaml:"address" json:"address"`
	Channel int    `yaml:"channel" json:"channel"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
}

type MQTTConfig struct {
	Enabled        bool           `yaml:"enabled" json:"enabled" env:"LEGO_MQTT_ENABLED"`
	Host           string         `yaml:"host" json:"host" env:"LEGO_MQTT_HOST"`
	Port           int            `yaml:"port" json:"port" env:"LEGO_MQTT_PORT"`
	User           string         `yaml:"user" json:"user" env:"LEGO_MQTT_USER"`
	Password       string         `yaml:"password" json:"-" env:"LEGO_MQTT_PASSWORD"`
	ClientID       string         `yaml:"client_id,omitempty" json:"client_id,omitempty" env:"LEGO_MQTT_CLIENT_ID"`
	Prefix         string         `yaml:"prefix" json:"prefix"`
	Node           string         `yaml:"node" json:"node" env:"LEGO_MQTT_NODE"`
	Group          string         `yaml:"group" json:"group"`
	RocrailTopic   string         `yaml:"rocrail_topic" json:"rocrail_topic"`
	RocrailLocos   map[string]int `yaml:"rocrail_locos" json:"rocrail_locos"`
	RocrailChannel int            `yaml:"rocrail_channel" json:"rocrail_channel"`
	StatusInterval time.Duration  `yaml:"status_interval" json:"status_interval"`
}

type WebConfig struct {
	Port int `yaml:"port" json:"port" env:"LEGO_WEB_PORT"`
}

type DisplayConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" env:"LEGO_LOG_LEVEL"`
	File       string `yaml:"file" json:"file" env:"LEGO_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

type Manager struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
}

func NewManager(filePath string) *Manager {
	return &Manager{
		filePath: filePath,
	}
}

// Load reads the file, writing defaults when it does not exist, and applies
// environment overrides on top.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		m.config = DefaultConfig()
		if err := m.saveUnsafe(); err != nil {
			return err
		}
	} else {
		cfg := DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", m.filePath, err)
		}
		m.config = cfg
	}

	if err := env.Parse(m.config); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return m.config.Validate()
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnsafe()
}

func (m *Manager) saveUnsafe() error {
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	// Broker credentials may live here
	return os.WriteFile(m.filePath, data, 0600)
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = &cfg
	return m.saveUnsafe()
}

// FilePath returns the backing file
func (m *Manager) FilePath() string {
	return m.filePath
}

// Validate checks if the configuration is valid and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.BLE.MaxDevices < 1 {
		errors = append(errors, fmt.Sprintf("ble.max_devices %d is invalid (must be at least 1)", c.BLE.MaxDevices))
	}
	if c.BLE.MaxChannels < 1 || c.BLE.MaxChannels > PaletteSize {
		errors = append(errors, fmt.Sprintf("ble.max_channels %d is invalid (must be 1-%d)", c.BLE.MaxChannels, PaletteSize))
	}

	durations := map[string]time.Duration{
		"ble.tick_interval":          c.BLE.TickInterval,
		"ble.idle_poll_interval":     c.BLE.IdlePollInterval,
		"ble.scan_timeout":           c.BLE.ScanTimeout,
		"ble.scan_window":            c.BLE.ScanWindow,
		"ble.settle_delay":           c.BLE.SettleDelay,
		"ble.telemetry_interval":     c.BLE.TelemetryInterval,
		"ble.activity_poll_interval": c.BLE.ActivityPollInterval,
	}
	names := lo.Keys(durations)
	slices.Sort(names)
	for _, name := range names {
		if durations[name] <= 0 {
			errors = append(errors, fmt.Sprintf("%s %s is invalid (must be positive)", name, durations[name]))
		}
	}

	if len(c.KnownDevices) > c.BLE.MaxDevices && c.BLE.MaxDevices > 0 {
		errors = append(errors, fmt.Sprintf("%d known devices do not fit into %d slots", len(c.KnownDevices), c.BLE.MaxDevices))
	}
	var addrs []string
	for i, d := range c.KnownDevices {
		addr, err := hub.ParseAddress(d.Address)
		if err != nil {
			errors = append(errors, fmt.Sprintf("known device #%d: %v", i+1, err))
			continue
		}
		addrs = append(addrs, addr.String())
		if d.Channel < 0 || d.Channel >= c.BLE.MaxChannels {
			errors = append(errors, fmt.Sprintf("known device %s: channel %d is invalid (must be 0-%d)", addr, d.Channel, c.BLE.MaxChannels-1))
		}
	}
	for _, dup := range lo.FindDuplicates(addrs) {
		errors = append(errors, fmt.Sprintf("duplicate known device: %s", dup))
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("Web port %d is invalid (must be 1-65535)", c.Web.Port))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errors = append(errors, "MQTT host is required when MQTT is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errors = append(errors, fmt.Sprintf("MQTT port %d is invalid (must be 1-65535)", c.MQTT.Port))
		}
		if c.MQTT.Node == "" {
			errors = append(errors, "MQTT node name is required when MQTT is enabled")
		}
		if c.MQTT.StatusInterval <= 0 {
			errors = append(errors, fmt.Sprintf("mqtt.status_interval %s is invalid (must be positive)", c.MQTT.StatusInterval))
		}
		if c.MQTT.RocrailChannel < 0 || c.MQTT.RocrailChannel >= c.BLE.MaxChannels {
			errors = append(errors, fmt.Sprintf("mqtt.rocrail_channel %d is invalid", c.MQTT.RocrailChannel))
		}
		for loco, ch := range c.MQTT.RocrailLocos {
			if ch < 0 || ch >= c.BLE.MaxChannels {
				errors = append(errors, fmt.Sprintf("rocrail loco %q: channel %d is invalid", loco, ch))
			}
		}
	}

	if c.Display.Enabled && c.Display.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("display.interval %s is invalid (must be positive)", c.Display.Interval))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("log level %q is invalid (debug, info, warn, error)", c.Logging.Level))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Seeds returns the known devices with parsed addresses. Call after Validate.
func (c *Config) Seeds() []KnownDevice {
	return lo.Map(c.KnownDevices, func(d KnownDevice, _ int) KnownDevice {
		if addr, err := hub.ParseAddress(d.Address); err == nil {
			d.Address = addr.String()
		}
		return d
	})
}

func DefaultConfig() *Config {
	return &Config{
		BLE: BLEConfig{
			MaxDevices:           9,
			MaxChannels:          9,
			TickInterval:         50 * time.Millisecond,
			IdlePollInterval:     500 * time.Millisecond,
			ScanTimeout:          2 * time.Second,
			ScanWindow:           30 * time.Second,
			SettleDelay:          100 * time.Millisecond,
			TelemetryInterval:    20 * time.Second,
			ActivityPollInterval: 10 * time.Millisecond,
			AdapterID:            "hci0",
		},
		KnownDevices: []KnownDevice{},
		MQTT: MQTTConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           1883,
			Prefix:         "lego",
			Node:           "trains",
			Group:          "all",
			RocrailTopic:   "rocrail/service/command",
			RocrailLocos:   map[string]int{},
			StatusInterval: 5 * time.Second,
		},
		Web: WebConfig{
			Port: 8080,
		},
		Display: DisplayConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
