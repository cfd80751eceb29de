package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for LumiSync Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Registry  RegistryConfig  `yaml:"registry"`
	Command   CommandConfig   `yaml:"command"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Music     MusicConfig     `yaml:"music"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NetworkConfig contains LAN protocol settings.
type NetworkConfig struct {
	// Interface is the name of the network interface used for multicast scans.
	// Empty selects the system default.
	Interface string `yaml:"interface"`

	// MulticastGroup is the group the scan request is sent to.
	MulticastGroup string `yaml:"multicast_group"`

	// ScanPort is the port devices listen on for scan requests.
	ScanPort int `yaml:"scan_port"`

	// ListenPort receives scan and status responses.
	ListenPort int `yaml:"listen_port"`

	// CommandPort is the default device control port.
	CommandPort int `yaml:"command_port"`

	// DiscoveryTimeout is the default listen window for a scan.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`

	// QueryTimeout bounds a single devStatus round trip.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// MulticastTTL limits how far scan datagrams travel.
	MulticastTTL int `yaml:"multicast_ttl"`
}

// RegistryConfig contains device registry settings.
type RegistryConfig struct {
	// LivenessTimeout is how long a device may stay silent before it is marked offline.
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`

	// SweepInterval is how often stale devices are checked.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RefreshAfter triggers a discovery at startup when the cache is older.
	RefreshAfter time.Duration `yaml:"refresh_after"`

	// ScanInterval repeats discovery in the background so live devices
	// stay online. Zero scans only at startup and on request.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// CommandConfig contains command channel settings.
type CommandConfig struct {
	// RateHz is the default per-device drain rate.
	RateHz float64 `yaml:"rate_hz"`
}

// MonitorConfig contains screen sync defaults and the capture helper command.
type MonitorConfig struct {
	FPS        int     `yaml:"fps"`
	Brightness int     `yaml:"brightness"`
	Smoothing  float64 `yaml:"smoothing"`
	Display    string  `yaml:"display"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Binary     string  `yaml:"binary"`
	// Args are extra arguments inserted before the output specification.
	Args []string `yaml:"args"`
}

// MusicConfig contains audio sync defaults and the capture helper command.
type MusicConfig struct {
	Brightness     int      `yaml:"brightness"`
	Pattern        string   `yaml:"pattern"`
	LEDs           int      `yaml:"leds"`
	SampleRate     int      `yaml:"sample_rate"`
	BufferMillis   int      `yaml:"buffer_ms"`
	SilenceFloor   float64  `yaml:"silence_floor"`
	SilenceBuffers int      `yaml:"silence_buffers"`
	SilencePolicy  string   `yaml:"silence_policy"`
	FadeBuffers    int      `yaml:"fade_buffers"`
	Source         string   `yaml:"source"`
	Binary         string   `yaml:"binary"`
	Args           []string `yaml:"args"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// HealthInterval is how often the bridge publishes its health status.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
	// ReportInterval is how often channel and session statistics are written.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LUMISYNC_SECTION_KEY
// For example: LUMISYNC_DATABASE_PATH, LUMISYNC_NETWORK_INTERFACE
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the values used when no file overrides them.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			MulticastGroup:   "239.255.255.250",
			ScanPort:         4001,
			ListenPort:       4002,
			CommandPort:      4003,
			DiscoveryTimeout: 2 * time.Second,
			QueryTimeout:     time.Second,
			MulticastTTL:     1,
		},
		Registry: RegistryConfig{
			LivenessTimeout: 30 * time.Second,
			SweepInterval:   5 * time.Second,
			RefreshAfter:    24 * time.Hour,
		},
		Command: CommandConfig{
			RateHz: 20,
		},
		Monitor: MonitorConfig{
			FPS:        30,
			Brightness: 75,
			Display:    ":0.0",
			Width:      1920,
			Height:     1080,
			Binary:     "ffmpeg",
		},
		Music: MusicConfig{
			Brightness:     85,
			Pattern:        "wave",
			LEDs:           20,
			SampleRate:     48000,
			BufferMillis:   10,
			SilenceFloor:   0.01,
			SilenceBuffers: 50,
			SilencePolicy:  "hold",
			FadeBuffers:    25,
			Binary:         "parec",
		},
		Database: DatabaseConfig{
			Path:        "./data/lumisync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lumisync-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8470,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMISYNC_NETWORK_INTERFACE"); v != "" {
		cfg.Network.Interface = v
	}
	if v := os.Getenv("LUMISYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LUMISYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("LUMISYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LUMISYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LUMISYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LUMISYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LUMISYNC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("LUMISYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if ip := net.ParseIP(c.Network.MulticastGroup); ip == nil || ip.To4() == nil {
		errs = append(errs, "network.multicast_group must be an IPv4 address")
	}
	for name, port := range map[string]int{
		"network.scan_port":    c.Network.ScanPort,
		"network.listen_port":  c.Network.ListenPort,
		"network.command_port": c.Network.CommandPort,
	} {
		if !validPort(port) {
			errs = append(errs, name+" must be between 1 and 65535")
		}
	}
	if c.Network.DiscoveryTimeout <= 0 {
		errs = append(errs, "network.discovery_timeout must be positive")
	}
	if c.Network.QueryTimeout <= 0 {
		errs = append(errs, "network.query_timeout must be positive")
	}

	if c.Registry.LivenessTimeout <= 0 {
		errs = append(errs, "registry.liveness_timeout must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		errs = append(errs, "registry.sweep_interval must be positive")
	}
	if c.Registry.ScanInterval < 0 {
		errs = append(errs, "registry.scan_interval must not be negative")
	}

	if c.Command.RateHz <= 0 {
		errs = append(errs, "command.rate_hz must be positive")
	}

	if c.Monitor.FPS < 1 || c.Monitor.FPS > 120 {
		errs = append(errs, "monitor.fps must be between 1 and 120")
	}
	if !validBrightness(c.Monitor.Brightness) {
		errs = append(errs, "monitor.brightness must be between 10 and 100")
	}
	if c.Monitor.Smoothing < 0 || c.Monitor.Smoothing >= 1 {
		errs = append(errs, "monitor.smoothing must be in [0, 1)")
	}

	if !validBrightness(c.Music.Brightness) {
		errs = append(errs, "music.brightness must be between 10 and 100")
	}
	switch c.Music.SilencePolicy {
	case "hold", "fade":
	default:
		errs = append(errs, "music.silence_policy must be hold or fade")
	}
	if c.Music.SampleRate <= 0 || c.Music.BufferMillis <= 0 {
		errs = append(errs, "music.sample_rate and music.buffer_ms must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validBrightness(b int) bool { return b >= 10 && b <= 100 }
