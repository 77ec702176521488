package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Camera struct {
		Camera1        string        `yaml:"camera_1"`
		Camera2        string        `yaml:"camera_2"` // empty means single-camera mode
		StreamFormat   string        `yaml:"stream_format"`
		SaveRoot       string        `yaml:"save_root"`
		SavePrefix     string        `yaml:"save_prefix"`
		Metadata       string        `yaml:"metadata"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		MaxPollRetries int           `yaml:"max_poll_retries"`
		MismatchPolicy string        `yaml:"mismatch_policy"` // warn or abort
		RingFrames     int           `yaml:"ring_frames"`     // simulated runtime ring depth per stream
		FramePeriod    time.Duration `yaml:"frame_period"`    // 0 derives the period from exposure
	} `yaml:"camera"`

	Sink struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"sink"`

	LiveView struct {
		Enabled      bool          `yaml:"enabled"`
		MaxFPS       float64       `yaml:"max_fps"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
		MaxClients   int           `yaml:"max_clients"`
	} `yaml:"live_view"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"` // console, file or both
		FilePath   string `yaml:"file_path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		RunTTL   time.Duration `yaml:"run_ttl"`

		// Run store calls fail fast after BreakerThreshold consecutive errors
		// until BreakerCooldown has passed.
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

		// LeaseTTL bounds how long a crashed instance keeps its cameras claimed.
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`

			// Routes consumers poll at frame rate; never limited.
			ExemptRoutes []string `yaml:"exempt_routes"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Camera
	if c.Camera.Camera1 == "" {
		return fmt.Errorf("camera.camera_1 must not be empty")
	}
	if c.Camera.Camera1 == c.Camera.Camera2 {
		return fmt.Errorf("camera.camera_2 must differ from camera.camera_1")
	}
	if c.Camera.PollInterval <= 0 {
		return fmt.Errorf("camera.poll_interval must be > 0")
	}
	if c.Camera.MaxPollRetries <= 0 {
		return fmt.Errorf("camera.max_poll_retries must be > 0")
	}
	switch c.Camera.MismatchPolicy {
	case "warn", "abort":
	default:
		return fmt.Errorf("camera.mismatch_policy must be 'warn' or 'abort', got %q", c.Camera.MismatchPolicy)
	}
	switch c.Camera.StreamFormat {
	case "Zarr", "tiff":
	default:
		return fmt.Errorf("camera.stream_format must be 'Zarr' or 'tiff', got %q", c.Camera.StreamFormat)
	}
	if c.Camera.RingFrames <= 0 {
		return fmt.Errorf("camera.ring_frames must be > 0")
	}
	if c.Camera.FramePeriod < 0 {
		return fmt.Errorf("camera.frame_period must be >= 0")
	}

	// Sink
	if c.Sink.Capacity <= 0 {
		return fmt.Errorf("sink.capacity must be > 0")
	}

	// Live view
	if c.LiveView.Enabled {
		if c.LiveView.MaxFPS <= 0 {
			return fmt.Errorf("live_view.max_fps must be > 0 when live_view.enabled=true")
		}
		if c.LiveView.WriteTimeout <= 0 {
			return fmt.Errorf("live_view.write_timeout must be > 0 when live_view.enabled=true")
		}
		if c.LiveView.MaxClients < 0 {
			return fmt.Errorf("live_view.max_clients must be >= 0")
		}
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when logging.output=%s", c.Logging.Output)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.BreakerThreshold <= 0 {
			return fmt.Errorf("redis.breaker_threshold must be > 0 when redis.enabled=true")
		}
		if c.Redis.LeaseTTL < time.Second {
			return fmt.Errorf("redis.lease_ttl must be at least 1s when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Camera.Camera1 = "simulated: uniform random"
	cfg.Camera.Camera2 = "simulated: radial sin"
	cfg.Camera.StreamFormat = "Zarr"
	cfg.Camera.SaveRoot = os.TempDir()
	cfg.Camera.SavePrefix = "acquisition"
	cfg.Camera.PollInterval = 5 * time.Millisecond
	cfg.Camera.MaxPollRetries = 1000
	cfg.Camera.MismatchPolicy = "warn"
	cfg.Camera.RingFrames = 64

	cfg.Sink.Capacity = 256

	cfg.LiveView.Enabled = true
	cfg.LiveView.MaxFPS = 10
	cfg.LiveView.WriteTimeout = 2 * time.Second
	cfg.LiveView.PingInterval = 30 * time.Second
	cfg.LiveView.MaxClients = 16

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 5 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "console"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.RunTTL = 7 * 24 * time.Hour
	cfg.Redis.BreakerThreshold = 5
	cfg.Redis.BreakerCooldown = 30 * time.Second
	cfg.Redis.LeaseTTL = 10 * time.Second

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.HTTP.ExemptRoutes = []string{
		"/api/v1/sink/next",
		"/api/v1/camera/images/:channel",
		"/ws/live",
		"/health",
		"/ready",
		"/metrics",
	}

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ACQBRIDGE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("ACQBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("ACQBRIDGE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if cam := os.Getenv("ACQBRIDGE_CAMERA_1"); cam != "" {
		c.Camera.Camera1 = cam
	}
	// "none" switches to single-camera mode
	if cam := os.Getenv("ACQBRIDGE_CAMERA_2"); cam != "" {
		if cam == "none" {
			cam = ""
		}
		c.Camera.Camera2 = cam
	}
	if root := os.Getenv("ACQBRIDGE_SAVE_ROOT"); root != "" {
		c.Camera.SaveRoot = root
	}
	if addr := os.Getenv("ACQBRIDGE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ACQBRIDGE_SINK_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sink.Capacity = n
		}
	}
}
