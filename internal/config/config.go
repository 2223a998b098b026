// Package config loads application configuration from defaults, an
// optional YAML file and APP_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // alerts.time_zone must resolve in minimal images

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "APP_"
	defaultConfigPath = "config.yaml"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	JWT       JWTConfig       `koanf:"jwt"`
	Cookie    CookieConfig    `koanf:"cookie"`
	CORS      CORSConfig      `koanf:"cors"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Storage   StorageConfig   `koanf:"storage"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Email     EmailConfig     `koanf:"email"`
	Redis     RedisConfig     `koanf:"redis"`
	Admin     AdminConfig     `koanf:"admin"`
	Incidents IncidentsConfig `koanf:"incidents"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsDir   string        `koanf:"migrations_dir"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type JWTConfig struct {
	SecretKey            string        `koanf:"secret_key"`
	AccessTokenDuration  time.Duration `koanf:"access_token_duration"`
	RefreshTokenDuration time.Duration `koanf:"refresh_token_duration"`
}

type CookieConfig struct {
	Secure bool   `koanf:"secure"`
	Domain string `koanf:"domain"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AnalysisConfig configures the image-classification API.
type AnalysisConfig struct {
	APIURL    string        `koanf:"api_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
	Burst     int           `koanf:"burst"`
}

// StorageConfig selects where photos are kept.
type StorageConfig struct {
	Backend string             `koanf:"backend"` // local or minio
	Local   LocalStorageConfig `koanf:"local"`
	Minio   MinioStorageConfig `koanf:"minio"`
}

type LocalStorageConfig struct {
	Root string `koanf:"root"`
}

type MinioStorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// AlertsConfig configures escalation e-mails.
type AlertsConfig struct {
	Enabled   bool              `koanf:"enabled"`
	Recipient string            `koanf:"recipient"`
	TimeZone  string            `koanf:"time_zone"`
	Queue     AlertQueueConfig  `koanf:"queue"`
	Worker    AlertWorkerConfig `koanf:"worker"`
	Retry     AlertRetryConfig  `koanf:"retry"`
}

type AlertQueueConfig struct {
	Backend  string `koanf:"backend"` // memory or redis
	Size     int    `koanf:"size"`
	RedisKey string `koanf:"redis_key"`
}

type AlertWorkerConfig struct {
	NumWorkers  int           `koanf:"num_workers"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

type AlertRetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// AdminConfig seeds an administrator account on start when Email is set.
type AdminConfig struct {
	Email     string `koanf:"email"`
	Password  string `koanf:"password"`
	FirstName string `koanf:"first_name"`
	LastName  string `koanf:"last_name"`
}

type IncidentsConfig struct {
	MaxPhotoBytes int64 `koanf:"max_photo_bytes"`
}

// RateLimitConfig throttles login attempts per client IP.
type RateLimitConfig struct {
	LoginPerMinute float64 `koanf:"login_per_minute"`
	LoginBurst     int     `koanf:"login_burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsDir:   "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
		},
		Cookie: CookieConfig{Secure: true},
		Analysis: AnalysisConfig{
			APIURL:    "https://api-inference.huggingface.co/models/",
			Model:     "google/vit-base-patch16-224",
			Timeout:   15 * time.Second,
			RateLimit: 2,
			Burst:     4,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorageConfig{Root: "uploads"},
			Minio:   MinioStorageConfig{Bucket: "incident-photos"},
		},
		Alerts: AlertsConfig{
			Enabled:  true,
			TimeZone: "Africa/Lome",
			Queue: AlertQueueConfig{
				Backend:  "memory",
				Size:     100,
				RedisKey: "incidentdesk:alerts",
			},
			Worker: AlertWorkerConfig{
				NumWorkers:  2,
				SendTimeout: 30 * time.Second,
			},
			Retry: AlertRetryConfig{
				MaxAttempts:       5,
				InitialBackoff:    time.Second,
				MaxBackoff:        time.Minute,
				BackoffMultiplier: 2,
			},
		},
		Email: EmailConfig{SMTPPort: 587},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Admin: AdminConfig{
			FirstName: "Admin",
			LastName:  "Système",
		},
		Incidents: IncidentsConfig{MaxPhotoBytes: 10 << 20},
		RateLimit: RateLimitConfig{
			LoginPerMinute: 10,
			LoginBurst:     5,
		},
	}
}

// Load reads configuration. The YAML file path comes from CONFIG_PATH and
// defaults to config.yaml; a missing default file is not an error.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		path = defaultConfigPath
	}
	return load(path, explicit)
}

func load(path string, required bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil || required {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps APP_DATABASE__MAX_OPEN_CONNS to database.max_open_conns.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if c.JWT.AccessTokenDuration <= 0 || c.JWT.RefreshTokenDuration <= 0 {
		errs = append(errs, errors.New("jwt token durations must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Root == "" {
			errs = append(errs, errors.New("storage.local.root is required"))
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and storage.minio.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, minio", c.Storage.Backend))
	}

	switch c.Alerts.Queue.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("alerts.queue.backend %q is not one of memory, redis", c.Alerts.Queue.Backend))
	}
	if c.Alerts.TimeZone != "" {
		if _, err := time.LoadLocation(c.Alerts.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("alerts.time_zone: %w", err))
		}
	}

	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.FromAddress == "") {
		errs = append(errs, errors.New("email.smtp_host and email.from_address are required when email is enabled"))
	}

	if c.Admin.Email != "" && len(c.Admin.Password) < 8 {
		errs = append(errs, errors.New("admin.password must be at least 8 characters"))
	}

	if c.Incidents.MaxPhotoBytes <= 0 {
		errs = append(errs, errors.New("incidents.max_photo_bytes must be positive"))
	}

	return errors.Join(errs...)
}
