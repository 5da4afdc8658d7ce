// Package config loads and validates the YAML configuration file
// (spec §6), fills in documented defaults, and exposes an atomic Reload
// that never destroys a previously-good configuration on parse or
// validation failure (spec §7: "ConfigInvalid... on reload, keep old
// config").
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerKind is the protocol family a server speaks.
type ServerKind string

const (
	KindJava    ServerKind = "java"
	KindBedrock ServerKind = "bedrock"
)

// WakeOnPing mirrors interposer.WakePolicy as a config-layer string, kept
// separate so this package has no dependency on internal/interposer.
type WakeOnPing string

const (
	WakeOnPingAlways   WakeOnPing = "always"
	WakeOnPingRepeated WakeOnPing = "repeated"
	WakeOnPingNever    WakeOnPing = "never"
)

// ServerConfig is one entry under the `servers` map, fully defaulted and
// validated after Load.
type ServerConfig struct {
	Name                string
	CraftyServerID      string
	Kind                ServerKind
	BindAddress         string
	ListenPort          int
	IdleTimeout         time.Duration
	StartTimeout        time.Duration
	StopTimeout         time.Duration
	StopCooldown        time.Duration
	StartGrace          time.Duration
	FlapThreshold       int
	FlapWindow          time.Duration
	MOTD                string
	VersionName         string
	ProtocolVersion     int
	MaxPlayers          int
	StartingKickMessage string
	BedrockWakeOnPing   WakeOnPing
}

// ControllerConfig is the `controller` section.
type ControllerConfig struct {
	BaseURL        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	BulkStatus     bool
}

// Config is the fully-loaded, defaulted, validated configuration.
type Config struct {
	Controller    ControllerConfig
	Servers       []ServerConfig
	HealthPort    int
	WebhookURL    string
	WebhookSecret string
	LogLevel      string
	LogFile       string

	// Token is populated from CRAFTY_API_TOKEN, never from the file.
	Token string
}

// rawServer/rawConfig mirror the YAML document's on-disk shape (durations
// and sizes as plain numbers/strings per spec §6's key table) before
// defaulting and type conversion.
type rawServer struct {
	CraftyServerID      string `yaml:"crafty_server_id"`
	Kind                string `yaml:"kind"`
	BindAddress         string `yaml:"bind_address"`
	ListenPort          int    `yaml:"listen_port"`
	IdleTimeoutMinutes  int    `yaml:"idle_timeout_minutes"`
	StartTimeoutSeconds int    `yaml:"start_timeout_seconds"`
	StopTimeoutSeconds  int    `yaml:"stop_timeout_seconds"`
	StopCooldownSeconds int    `yaml:"stop_cooldown_seconds"`
	StartGraceSeconds   int    `yaml:"start_grace_seconds"`
	FlapThreshold       int    `yaml:"flap_threshold"`
	FlapWindowSeconds   int    `yaml:"flap_window_seconds"`
	MOTD                string `yaml:"motd"`
	VersionName         string `yaml:"version_name"`
	ProtocolVersion     int    `yaml:"protocol_version"`
	MaxPlayers          int    `yaml:"max_players"`
	StartingKickMessage string `yaml:"starting_kick_message"`
	Bedrock             struct {
		WakeOnPing string `yaml:"wake_on_ping"`
	} `yaml:"bedrock"`
}

type rawController struct {
	BaseURL               string `yaml:"base_url"`
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	BulkStatus            *bool  `yaml:"bulk_status"`
	// Token is never a legitimate key — its presence fails validation
	// (spec §4.7: "a config file that sets a controller.token key fails
	// validation").
	Token string `yaml:"token"`
}

type rawHealth struct {
	ListenPort int `yaml:"listen_port"`
}

type rawWebhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type rawLog struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type rawConfig struct {
	Controller rawController        `yaml:"controller"`
	Servers    map[string]rawServer `yaml:"servers"`
	Health     rawHealth            `yaml:"health"`
	Webhook    rawWebhook           `yaml:"webhook"`
	Log        rawLog               `yaml:"log"`
}

// ErrConfigInvalid wraps every validation failure so callers (config load
// at startup, reload on SIGHUP) can distinguish it from I/O errors.
var ErrConfigInvalid = errors.New("config: invalid")

// Load reads and parses the YAML file at path, applies defaults, validates
// it, and reads CRAFTY_API_TOKEN from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %s", ErrConfigInvalid, path, err)
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, err
	}

	cfg.Token = os.Getenv("CRAFTY_API_TOKEN")
	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, error) {
	if raw.Controller.Token != "" {
		return nil, fmt.Errorf("%w: controller.token must not be set in the config file; use CRAFTY_API_TOKEN", ErrConfigInvalid)
	}
	if raw.Controller.BaseURL == "" {
		return nil, fmt.Errorf("%w: controller.base_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(raw.Controller.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: controller.base_url is not a valid URL: %s", ErrConfigInvalid, err)
	}

	bulkStatus := true
	if raw.Controller.BulkStatus != nil {
		bulkStatus = *raw.Controller.BulkStatus
	}

	cfg := &Config{
		Controller: ControllerConfig{
			BaseURL:        raw.Controller.BaseURL,
			PollInterval:   orDefaultSeconds(raw.Controller.PollIntervalSeconds, 15),
			RequestTimeout: orDefaultSeconds(raw.Controller.RequestTimeoutSeconds, 10),
			BulkStatus:     bulkStatus,
		},
		HealthPort:    orDefaultInt(raw.Health.ListenPort, 8095),
		WebhookURL:    raw.Webhook.URL,
		WebhookSecret: raw.Webhook.Secret,
		LogLevel:      orDefaultString(raw.Log.Level, "info"),
		LogFile:       raw.Log.File,
	}

	if len(raw.Servers) == 0 {
		return nil, fmt.Errorf("%w: at least one server must be configured", ErrConfigInvalid)
	}

	seenPort := make(map[int]string, len(raw.Servers))
	for name, rs := range raw.Servers {
		sc, err := serverFromRaw(name, rs)
		if err != nil {
			return nil, err
		}
		if other, ok := seenPort[sc.ListenPort]; ok {
			return nil, fmt.Errorf("%w: servers %q and %q both use listen_port %d", ErrConfigInvalid, other, name, sc.ListenPort)
		}
		seenPort[sc.ListenPort] = name
		cfg.Servers = append(cfg.Servers, sc)
	}

	return cfg, nil
}

func serverFromRaw(name string, rs rawServer) (ServerConfig, error) {
	if rs.CraftyServerID == "" {
		return ServerConfig{}, fmt.Errorf("%w: server %q: crafty_server_id is required", ErrConfigInvalid, name)
	}
	if rs.ListenPort == 0 {
		return ServerConfig{}, fmt.Errorf("%w: server %q: listen_port is required", ErrConfigInvalid, name)
	}

	kind := ServerKind(orDefaultString(rs.Kind, string(KindJava)))
	if kind != KindJava && kind != KindBedrock {
		return ServerConfig{}, fmt.Errorf("%w: server %q: kind must be \"java\" or \"bedrock\", got %q", ErrConfigInvalid, name, rs.Kind)
	}

	wakeOnPing := WakeOnPing(orDefaultString(rs.Bedrock.WakeOnPing, string(WakeOnPingRepeated)))
	if wakeOnPing != WakeOnPingAlways && wakeOnPing != WakeOnPingRepeated && wakeOnPing != WakeOnPingNever {
		return ServerConfig{}, fmt.Errorf("%w: server %q: bedrock.wake_on_ping must be always|repeated|never, got %q", ErrConfigInvalid, name, rs.Bedrock.WakeOnPing)
	}

	return ServerConfig{
		Name:                name,
		CraftyServerID:      rs.CraftyServerID,
		Kind:                kind,
		BindAddress:         orDefaultString(rs.BindAddress, "0.0.0.0"),
		ListenPort:          rs.ListenPort,
		IdleTimeout:         time.Duration(orDefaultInt(rs.IdleTimeoutMinutes, 10)) * time.Minute,
		StartTimeout:        orDefaultSeconds(rs.StartTimeoutSeconds, 180),
		StopTimeout:         orDefaultSeconds(rs.StopTimeoutSeconds, 120),
		StopCooldown:        orDefaultSeconds(rs.StopCooldownSeconds, 60),
		StartGrace:          orDefaultSeconds(rs.StartGraceSeconds, 120),
		FlapThreshold:       orDefaultInt(rs.FlapThreshold, 3),
		FlapWindow:          orDefaultSeconds(rs.FlapWindowSeconds, 3600),
		MOTD:                rs.MOTD,
		VersionName:         rs.VersionName,
		ProtocolVersion:     rs.ProtocolVersion,
		MaxPlayers:          orDefaultInt(rs.MaxPlayers, 20),
		StartingKickMessage: rs.StartingKickMessage,
		BedrockWakeOnPing:   wakeOnPing,
	}, nil
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultSeconds(seconds, def int) time.Duration {
	return time.Duration(orDefaultInt(seconds, def)) * time.Second
}
