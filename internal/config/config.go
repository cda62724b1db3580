// Package config defines runtime settings for the Hearth server and loads
// them from built-in defaults, an optional YAML file and the environment.
package config

import (
	"time"
)

// RatePolicy is a fixed-window allowance: at most Max actions per Window.
type RatePolicy struct {
	Max    int           `koanf:"max" validate:"min=1"`
	Window time.Duration `koanf:"window" validate:"gt=0"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SecurityConfig holds admission and authorization settings.
type SecurityConfig struct {
	AllowedOrigins           []string      `koanf:"allowed_origins" validate:"min=1,dive,http_url"`
	MaxConnectionsPerAddress int           `koanf:"max_connections_per_address" validate:"min=1"`
	HandshakesPerSecond      float64       `koanf:"handshakes_per_second" validate:"gt=0"`
	HandshakeBurst           int           `koanf:"handshake_burst" validate:"min=1"`
	APIRequests              int           `koanf:"api_requests" validate:"min=1"`
	APIWindow                time.Duration `koanf:"api_window" validate:"gt=0"`
	SessionSecret            string        `koanf:"session_secret"`
	SessionCookie            string        `koanf:"session_cookie" validate:"required"`
	SessionTTL               time.Duration `koanf:"session_ttl" validate:"gt=0"`
	SecureCookie             bool          `koanf:"secure_cookie"`
	AdminIDs                 []string      `koanf:"admin_ids"`
}

// LimitsConfig holds per-connection anti-abuse settings.
type LimitsConfig struct {
	MaxMessageSize int64         `koanf:"max_message_size" validate:"min=1"`
	Message        RatePolicy    `koanf:"message"`
	SetCoords      RatePolicy    `koanf:"set_coords"`
	SetLocation    RatePolicy    `koanf:"set_location"`
	SweepInterval  time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepGrace     time.Duration `koanf:"sweep_grace" validate:"gte=0"`
}

// PersistenceConfig selects where snapshots are written.
type PersistenceConfig struct {
	Backend     string        `koanf:"backend" validate:"oneof=file badger"`
	Path        string        `koanf:"path" validate:"required_if=Backend file"`
	BadgerDir   string        `koanf:"badger_dir" validate:"required_if=Backend badger"`
	Interval    time.Duration `koanf:"interval" validate:"gt=0"`
	HistorySize int           `koanf:"history_size" validate:"min=1"`
}

// PlaylistConfig holds the shared playlist defaults.
type PlaylistConfig struct {
	Default     string `koanf:"default" validate:"required"`
	EmbedMarker string `koanf:"embed_marker" validate:"required"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Security    SecurityConfig    `koanf:"security"`
	Limits      LimitsConfig      `koanf:"limits"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Playlist    PlaylistConfig    `koanf:"playlist"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// DefaultAllowedOrigins is used when no valid origin is configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "https://thehearth.dev"}

// DefaultPlaylist is the embed shown until an admin picks another one.
const DefaultPlaylist = "https://open.spotify.com/embed/playlist/37i9dQZF1DX786ROcOIz84?utm_source=generator&theme=0"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":3000",
			TrustProxy:      false,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins:           append([]string(nil), DefaultAllowedOrigins...),
			MaxConnectionsPerAddress: 5,
			HandshakesPerSecond:      20,
			HandshakeBurst:           40,
			APIRequests:              30,
			APIWindow:                time.Minute,
			SessionCookie:            "hearth_session",
			SessionTTL:               7 * 24 * time.Hour,
		},
		Limits: LimitsConfig{
			MaxMessageSize: 1 << 20,
			Message:        RatePolicy{Max: 5, Window: 10 * time.Second},
			SetCoords:      RatePolicy{Max: 5, Window: time.Minute},
			SetLocation:    RatePolicy{Max: 5, Window: time.Minute},
			SweepInterval:  5 * time.Minute,
			SweepGrace:     time.Minute,
		},
		Persistence: PersistenceConfig{
			Backend:     "file",
			Path:        "/tmp/hearth-state.json",
			BadgerDir:   "/tmp/hearth-state",
			Interval:    30 * time.Second,
			HistorySize: 50,
		},
		Playlist: PlaylistConfig{
			Default:     DefaultPlaylist,
			EmbedMarker: "open.spotify.com/embed/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return defaultConfig()
}
