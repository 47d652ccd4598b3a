package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"ezville-go-home/internal/coordinator"
	"ezville-go-home/internal/store"
	"ezville-go-home/internal/transport"
	"ezville-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Transport struct {
		Type   string `yaml:"type"` // "serial", "socket" or "mqtt"
		Serial struct {
			Port string `yaml:"port"`
			Baud int    `yaml:"baud"`
		} `yaml:"serial"`
		Socket struct {
			Address string `yaml:"address"`
		} `yaml:"socket"`
		MQTT struct {
			Broker    string `yaml:"broker"`
			Username  string `yaml:"username"`
			Password  string `yaml:"password"`
			ClientID  string `yaml:"client_id"`
			RecvTopic string `yaml:"recv_topic"`
			SendTopic string `yaml:"send_topic"`
			QoS       int    `yaml:"qos"`
		} `yaml:"mqtt"`
	} `yaml:"transport"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
		Discovery       bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telegram struct {
		BotToken string   `yaml:"bot_token"`
		ChatIDs  []string `yaml:"chat_ids"`
	} `yaml:"telegram"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	PollInterval string   `yaml:"poll_interval"`
	MaxRetry     string   `yaml:"max_retry"`
	DumpTime     string   `yaml:"dump_time"`
	Capabilities []string `yaml:"capabilities"`
	ScriptsDir   string   `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Transport.Type {
	case transport.KindSerial:
		if c.Transport.Serial.Port == "" {
			return fmt.Errorf("transport.serial.port is required")
		}
	case transport.KindSocket:
		if c.Transport.Socket.Address == "" {
			return fmt.Errorf("transport.socket.address is required")
		}
	case transport.KindMQTT:
		if c.Transport.MQTT.Broker == "" {
			return fmt.Errorf("transport.mqtt.broker is required")
		}
		if c.Transport.MQTT.RecvTopic == "" || c.Transport.MQTT.SendTopic == "" {
			return fmt.Errorf("transport.mqtt.recv_topic and send_topic are required")
		}
	default:
		return fmt.Errorf("transport.type must be serial, socket or mqtt, got %q", c.Transport.Type)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("ezville-go-home starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create coordinator
	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(busConfig(cfg), db, events, coordinator.Config{
		PollInterval: parseDuration(logger, "poll_interval", cfg.PollInterval),
		MaxRetry:     parseDuration(logger, "max_retry", cfg.MaxRetry),
		DumpTime:     parseDuration(logger, "dump_time", cfg.DumpTime),
		Capabilities: cfg.Capabilities,
	}, logger)

	// Start coordinator
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := coord.Start(ctx); err != nil {
		logger.Error("start coordinator", "err", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(coord, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Stop()

	logger.Info("goodbye")
}

// busConfig maps the yaml transport section onto the transport package.
func busConfig(cfg *Config) transport.Config {
	return transport.Config{
		Kind: cfg.Transport.Type,
		Serial: transport.SerialConfig{
			Port: cfg.Transport.Serial.Port,
			Baud: cfg.Transport.Serial.Baud,
		},
		Socket: transport.SocketConfig{
			Address: cfg.Transport.Socket.Address,
		},
		MQTT: transport.MQTTConfig{
			Broker:    cfg.Transport.MQTT.Broker,
			Username:  cfg.Transport.MQTT.Username,
			Password:  cfg.Transport.MQTT.Password,
			ClientID:  cfg.Transport.MQTT.ClientID,
			RecvTopic: cfg.Transport.MQTT.RecvTopic,
			SendTopic: cfg.Transport.MQTT.SendTopic,
			QoS:       byte(cfg.Transport.MQTT.QoS),
		},
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = transport.KindSerial
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "ezville-home.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ezville"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// parseDuration reads a duration config value, treating empty or malformed
// input as zero so the component default applies.
func parseDuration(logger *slog.Logger, key, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration in config, ignoring", "key", key, "value", value)
		return 0
	}
	return d
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
