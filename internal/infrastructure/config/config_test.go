package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
network:
  interface: "eth0"
  listen_port: 14002
  discovery_timeout: 3s
registry:
  liveness_timeout: 45s
command:
  rate_hz: 15
monitor:
  fps: 60
  brightness: 50
music:
  pattern: "spectrum"
  silence_policy: "fade"
database:
  path: "/tmp/lumisync-test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network.Interface != "eth0" {
		t.Errorf("Network.Interface = %q, want %q", cfg.Network.Interface, "eth0")
	}
	if cfg.Network.ListenPort != 14002 {
		t.Errorf("Network.ListenPort = %d, want 14002", cfg.Network.ListenPort)
	}
	if cfg.Network.DiscoveryTimeout != 3*time.Second {
		t.Errorf("Network.DiscoveryTimeout = %v, want 3s", cfg.Network.DiscoveryTimeout)
	}
	if cfg.Registry.LivenessTimeout != 45*time.Second {
		t.Errorf("Registry.LivenessTimeout = %v, want 45s", cfg.Registry.LivenessTimeout)
	}
	if cfg.Command.RateHz != 15 {
		t.Errorf("Command.RateHz = %v, want 15", cfg.Command.RateHz)
	}
	if cfg.Monitor.FPS != 60 || cfg.Monitor.Brightness != 50 {
		t.Errorf("Monitor = %+v, want fps 60 brightness 50", cfg.Monitor)
	}
	if cfg.Music.Pattern != "spectrum" || cfg.Music.SilencePolicy != "fade" {
		t.Errorf("Music = %+v, want spectrum/fade", cfg.Music)
	}

	// Untouched values keep their defaults.
	if cfg.Network.ScanPort != 4001 {
		t.Errorf("Network.ScanPort = %d, want default 4001", cfg.Network.ScanPort)
	}
	if cfg.Network.CommandPort != 4003 {
		t.Errorf("Network.CommandPort = %d, want default 4003", cfg.Network.CommandPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
monitor:
  brightness: 5
music:
  silence_policy: "loop"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"monitor.brightness", "music.silence_policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, wantErr: false},
		{name: "bad multicast group", mutate: func(c *Config) { c.Network.MulticastGroup = "not-an-ip" }, wantErr: true},
		{name: "ipv6 multicast group", mutate: func(c *Config) { c.Network.MulticastGroup = "ff02::1" }, wantErr: true},
		{name: "listen port zero", mutate: func(c *Config) { c.Network.ListenPort = 0 }, wantErr: true},
		{name: "scan port too high", mutate: func(c *Config) { c.Network.ScanPort = 70000 }, wantErr: true},
		{name: "zero discovery timeout", mutate: func(c *Config) { c.Network.DiscoveryTimeout = 0 }, wantErr: true},
		{name: "zero liveness timeout", mutate: func(c *Config) { c.Registry.LivenessTimeout = 0 }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.Command.RateHz = 0 }, wantErr: true},
		{name: "fps too high", mutate: func(c *Config) { c.Monitor.FPS = 240 }, wantErr: true},
		{name: "smoothing of one", mutate: func(c *Config) { c.Monitor.Smoothing = 1 }, wantErr: true},
		{name: "music brightness too high", mutate: func(c *Config) { c.Music.Brightness = 101 }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "api port ignored when disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, wantErr: false},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("LUMISYNC_NETWORK_INTERFACE", "wlan0")
	t.Setenv("LUMISYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LUMISYNC_LOG_LEVEL", "debug")
	t.Setenv("LUMISYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LUMISYNC_MQTT_USERNAME", "testuser")
	t.Setenv("LUMISYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("LUMISYNC_API_HOST", "0.0.0.0")
	t.Setenv("LUMISYNC_API_PORT", "9000")
	t.Setenv("LUMISYNC_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Network.Interface != "wlan0" {
		t.Errorf("Network.Interface = %q, want %q", cfg.Network.Interface, "wlan0")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 9000 {
		t.Errorf("API = %s:%d, want 0.0.0.0:9000", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("LUMISYNC_API_PORT", "eighty")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8470 {
		t.Errorf("API.Port = %d, want default 8470", cfg.API.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Network.MulticastGroup != "239.255.255.250" {
		t.Errorf("MulticastGroup = %q, want 239.255.255.250", cfg.Network.MulticastGroup)
	}
	if cfg.Network.ScanPort != 4001 || cfg.Network.ListenPort != 4002 || cfg.Network.CommandPort != 4003 {
		t.Errorf("ports = %d/%d/%d, want 4001/4002/4003",
			cfg.Network.ScanPort, cfg.Network.ListenPort, cfg.Network.CommandPort)
	}
	if cfg.Registry.LivenessTimeout != 30*time.Second {
		t.Errorf("LivenessTimeout = %v, want 30s", cfg.Registry.LivenessTimeout)
	}
	if cfg.Registry.RefreshAfter != 24*time.Hour {
		t.Errorf("RefreshAfter = %v, want 24h", cfg.Registry.RefreshAfter)
	}
	if cfg.Command.RateHz != 20 {
		t.Errorf("RateHz = %v, want 20", cfg.Command.RateHz)
	}
	if cfg.Monitor.Brightness != 75 || cfg.Music.Brightness != 85 {
		t.Errorf("brightness = %d/%d, want 75/85", cfg.Monitor.Brightness, cfg.Music.Brightness)
	}
	if cfg.Music.LEDs != 20 {
		t.Errorf("Music.LEDs = %d, want 20", cfg.Music.LEDs)
	}
}
