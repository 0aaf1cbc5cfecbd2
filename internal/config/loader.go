package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

// ServerConfig configures the development job backend.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig points at the request/response API used for polling and job creation.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StreamConfig points at the per-job event stream.
type StreamConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Path             string        `mapstructure:"path"` // must contain {job_id}
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type TrackingConfig struct {
	Profile TrackerConfig `mapstructure:"profile"`
	Video   TrackerConfig `mapstructure:"video"`
}

// TrackerConfig holds the timing knobs of one kind of tracked job.
type TrackerConfig struct {
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type AuthConfig struct {
	Token          string   `mapstructure:"token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SimulatorConfig struct {
	ScenarioPath string `mapstructure:"scenario_path"`
	// Speed scales every step delay of the scenario; 2 runs twice as fast.
	Speed float64 `mapstructure:"speed"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

// DefaultProfileTracking matches the timings of the profile generation flow.
func DefaultProfileTracking() TrackerConfig {
	return TrackerConfig{
		ReconnectDelay:  3 * time.Second,
		PollInterval:    2 * time.Second,
		MaxPollAttempts: 120,
		SettleDelay:     2 * time.Second,
	}
}

// DefaultVideoTracking matches the timings of the video generation flow.
func DefaultVideoTracking() TrackerConfig {
	return TrackerConfig{
		ReconnectDelay:  3 * time.Second,
		PollInterval:    3 * time.Second,
		MaxPollAttempts: 200,
		SettleDelay:     2 * time.Second,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("api.base_url", "http://127.0.0.1:8090/api/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 10*time.Second)

	v.SetDefault("stream.base_url", "ws://127.0.0.1:8090")
	v.SetDefault("stream.path", "/ws/jobs/{job_id}")
	v.SetDefault("stream.handshake_timeout", 10*time.Second)

	profile := DefaultProfileTracking()
	v.SetDefault("tracking.profile.reconnect_delay", profile.ReconnectDelay)
	v.SetDefault("tracking.profile.poll_interval", profile.PollInterval)
	v.SetDefault("tracking.profile.max_poll_attempts", profile.MaxPollAttempts)
	v.SetDefault("tracking.profile.settle_delay", profile.SettleDelay)
	video := DefaultVideoTracking()
	v.SetDefault("tracking.video.reconnect_delay", video.ReconnectDelay)
	v.SetDefault("tracking.video.poll_interval", video.PollInterval)
	v.SetDefault("tracking.video.max_poll_attempts", video.MaxPollAttempts)
	v.SetDefault("tracking.video.settle_delay", video.SettleDelay)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("auth.token", "")
	v.SetDefault("simulator.scenario_path", "")
	v.SetDefault("simulator.speed", 1.0)
	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)
}

// Load reads the config file at path (optional) and applies JOBSYNC_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("JOBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !strings.Contains(c.Stream.Path, "{job_id}") {
		return fmt.Errorf("stream.path must contain {job_id}, got %q", c.Stream.Path)
	}
	for name, t := range map[string]TrackerConfig{"profile": c.Tracking.Profile, "video": c.Tracking.Video} {
		if t.MaxPollAttempts <= 0 {
			return fmt.Errorf("tracking.%s.max_poll_attempts must be positive", name)
		}
		if t.PollInterval <= 0 || t.ReconnectDelay <= 0 {
			return fmt.Errorf("tracking.%s intervals must be positive", name)
		}
		if t.SettleDelay < 0 {
			return fmt.Errorf("tracking.%s.settle_delay must not be negative", name)
		}
	}
	return nil
}
