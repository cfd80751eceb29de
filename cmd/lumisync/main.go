// LumiSync Core - LAN LED synchronisation daemon
//
// This is the main entry point for the LumiSync Core daemon. It discovers
// Govee LED devices on the local network and drives them from three
// surfaces:
//   - an HTTP/WebSocket API for local clients
//   - an MQTT bridge for home automation (optional)
//   - screen and audio sync sessions feeding the per-device command queues
package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/lumisync-core/migrations"

	"github.com/nerrad567/lumisync-core/internal/api"
	"github.com/nerrad567/lumisync-core/internal/bridge"
	"github.com/nerrad567/lumisync-core/internal/capture"
	"github.com/nerrad567/lumisync-core/internal/command"
	"github.com/nerrad567/lumisync-core/internal/control"
	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/discovery"
	"github.com/nerrad567/lumisync-core/internal/engine/monitor"
	"github.com/nerrad567/lumisync-core/internal/engine/music"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/config"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/database"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/logging"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/session"
	"github.com/nerrad567/lumisync-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds stopping sessions and persisting the cache.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LumiSync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry, loaded from the SQLite cache
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), device.Config{
		LivenessTimeout: cfg.Registry.LivenessTimeout,
		SweepInterval:   cfg.Registry.SweepInterval,
	})
	registry.SetLogger(log.Component("registry"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	defer func() {
		persistCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if persistErr := registry.Persist(persistCtx); persistErr != nil {
			log.Error("error persisting device cache", "error", persistErr)
			return
		}
		log.Info("device cache persisted", "devices", registry.Count())
	}()
	log.Info("device registry initialised", "devices", registry.Count())

	// Shared LAN socket
	socket, err := openSocket(cfg.Network)
	if err != nil {
		return fmt.Errorf("opening LAN socket: %w", err)
	}
	socket.SetLogger(log.Component("lan"))
	defer func() {
		if closeErr := socket.Close(); closeErr != nil {
			log.Error("error closing LAN socket", "error", closeErr)
		}
	}()
	log.Info("LAN socket bound",
		"listen_port", cfg.Network.ListenPort,
		"group", cfg.Network.MulticastGroup,
		"interface", cfg.Network.Interface,
	)

	disco := discovery.New(socket, registry, discovery.Config{Timeout: cfg.Network.DiscoveryTimeout})
	disco.SetLogger(log.Component("discovery"))

	channel := command.New(socket, registry, command.Config{
		RateHz:       cfg.Command.RateHz,
		QueryTimeout: cfg.Network.QueryTimeout,
	})
	channel.SetLogger(log.Component("command"))
	defer func() {
		if closeErr := channel.Close(); closeErr != nil {
			log.Error("error closing command channel", "error", closeErr)
		}
	}()

	sessions := session.NewManager(channel, registry, captureSources(cfg, log), engineOptions(cfg))
	sessions.SetLogger(log.Component("session"))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := sessions.StopAll(stopCtx); stopErr != nil {
			log.Error("error stopping sessions", "error", stopErr)
		}
	}()

	svc := control.New(registry, disco, channel, sessions)
	svc.SetLogger(log.Component("control"))

	g, gctx := errgroup.WithContext(ctx)

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		if healthErr := influxClient.HealthCheck(ctx); healthErr != nil {
			return fmt.Errorf("influxdb: %w", healthErr)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		reporter := telemetry.NewReporter(influxClient, channel, sessions, cfg.InfluxDB.ReportInterval)
		reporter.SetLogger(log.Component("telemetry"))
		disco.SetOnComplete(reporter.OnDiscovery)
		defer sessions.Subscribe(reporter.OnSessionEvent)()
		g.Go(func() error {
			reporter.Run(gctx)
			return nil
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
			"report_interval", cfg.InfluxDB.ReportInterval,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Control:  svc,
			Devices:  registry,
			Sessions: sessions,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", server.Addr())
	} else {
		log.Info("API disabled")
	}

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		b, bridgeErr := startBridge(gctx, cfg, svc, registry, sessions, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer b.Close()
	} else {
		log.Info("MQTT bridge disabled")
	}

	g.Go(func() error {
		registry.RunSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		ran, refreshErr := disco.Refresh(gctx, cfg.Registry.RefreshAfter)
		if refreshErr != nil && !errors.Is(refreshErr, context.Canceled) {
			log.Warn("startup discovery failed", "error", refreshErr)
		} else if ran {
			log.Info("startup discovery complete", "devices", registry.Count())
		}
		if cfg.Registry.ScanInterval > 0 {
			scanLoop(gctx, disco, cfg.Registry.ScanInterval, log)
		}
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if waitErr := g.Wait(); waitErr != nil {
		log.Error("background task failed", "error", waitErr)
	}

	// Deferred calls run in reverse order: MQTT bridge, API, InfluxDB,
	// sessions, command channel, LAN socket, cache persist, database.
	log.Info("LumiSync Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LUMISYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LUMISYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openSocket(cfg config.NetworkConfig) (*lan.Socket, error) {
	group, err := netip.ParseAddr(cfg.MulticastGroup)
	if err != nil {
		return nil, fmt.Errorf("parsing multicast group: %w", err)
	}
	return lan.Listen(lan.Config{
		ListenPort:   cfg.ListenPort,
		Group:        group,
		ScanPort:     cfg.ScanPort,
		Interface:    cfg.Interface,
		MulticastTTL: cfg.MulticastTTL,
	})
}

// engineOptions maps the configured defaults onto the engine configs that
// session requests override.
func engineOptions(cfg *config.Config) session.Options {
	return session.Options{
		Monitor: monitor.Config{
			FPS:        cfg.Monitor.FPS,
			Brightness: cfg.Monitor.Brightness,
			Smoothing:  cfg.Monitor.Smoothing,
		},
		Music: music.Config{
			Brightness:     cfg.Music.Brightness,
			Pattern:        cfg.Music.Pattern,
			LEDs:           cfg.Music.LEDs,
			SilenceFloor:   cfg.Music.SilenceFloor,
			SilenceBuffers: cfg.Music.SilenceBuffers,
			SilencePolicy:  cfg.Music.SilencePolicy,
			FadeBuffers:    cfg.Music.FadeBuffers,
		},
	}
}

func captureSources(cfg *config.Config, log *logging.Logger) session.CaptureSources {
	return session.CaptureSources{
		Screen: capture.ScreenConfig{
			Binary:  cfg.Monitor.Binary,
			Display: cfg.Monitor.Display,
			Width:   cfg.Monitor.Width,
			Height:  cfg.Monitor.Height,
			FPS:     cfg.Monitor.FPS,
			Args:    cfg.Monitor.Args,
		},
		Audio: capture.AudioConfig{
			Binary:       cfg.Music.Binary,
			Device:       cfg.Music.Source,
			SampleRate:   cfg.Music.SampleRate,
			BufferMillis: cfg.Music.BufferMillis,
			Args:         cfg.Music.Args,
		},
		Logger: log.Component("capture"),
	}
}

// scanLoop runs a discovery round every interval until ctx is done.
func scanLoop(ctx context.Context, disco *discovery.Service, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := disco.Run(ctx, 0)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, discovery.ErrInProgress):
				log.Debug("periodic discovery skipped, round in progress")
			default:
				log.Warn("periodic discovery failed", "error", err)
			}
		}
	}
}

// runningBridge owns the MQTT connection and the bridge riding on it.
type runningBridge struct {
	client *mqtt.Client
	bridge *bridge.Bridge
	log    *logging.Logger
}

// startBridge connects to the broker and starts the MQTT bridge.
func startBridge(ctx context.Context, cfg *config.Config, svc *control.Service, registry *device.Registry, sessions *session.Manager, log *logging.Logger) (*runningBridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	b, err := bridge.New(bridge.Options{
		MQTT:           client,
		Control:        svc,
		Devices:        registry,
		Sessions:       sessions,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
		HealthInterval: cfg.MQTT.HealthInterval,
		Version:        version,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	b.SetLogger(log.Component("bridge"))

	if err := b.Start(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started")

	return &runningBridge{client: client, bridge: b, log: log}, nil
}

// Close stops the bridge before disconnecting so its final health
// message reaches the broker.
func (r *runningBridge) Close() {
	r.log.Info("stopping MQTT bridge")
	r.bridge.Stop()
	if err := r.client.Close(); err != nil {
		r.log.Error("error closing MQTT", "error", err)
	}
}
