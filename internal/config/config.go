// Package config loads runtime settings from an optional YAML file and the
// environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rhgestor.org/internal/storage"
	"rhgestor.org/internal/validation"
)

// FileEnv names the variable holding the optional YAML config path.
const FileEnv = "RHGESTOR_CONFIG"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Upload    UploadConfig    `yaml:"upload"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Env       string          `yaml:"env"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"httpAddr"`
	GRPCAddr        string        `yaml:"grpcAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	FrontendURL     string        `yaml:"frontendURL"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
	ResetTTL  time.Duration `yaml:"resetTTL"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type UploadConfig struct {
	Driver         string `yaml:"driver"`
	Dir            string `yaml:"dir"`
	S3Bucket       string `yaml:"s3Bucket"`
	S3Region       string `yaml:"s3Region"`
	S3Endpoint     string `yaml:"s3Endpoint"`
	S3AccessKey    string `yaml:"s3AccessKey"`
	S3SecretKey    string `yaml:"s3SecretKey"`
	S3UsePathStyle bool   `yaml:"s3UsePathStyle"`
}

type MailConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	From       string        `yaml:"from"`
	Timeout    time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"perSecond"`

	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trustedProxies"`
}

type BootstrapConfig struct {
	Login    string `yaml:"login"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type JobsConfig struct {
	ResetPurgeSchedule string `yaml:"resetPurgeSchedule"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":3001",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			FrontendURL:     "http://localhost:3000",
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
			ResetTTL: time.Hour,
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Upload:    UploadConfig{Driver: "local", Dir: "uploads", S3Region: "us-east-1"},
		Mail:      MailConfig{From: "no-reply@rhgestor.local", Timeout: 10 * time.Second},
		RateLimit: RateLimitConfig{Burst: 40, PerSecond: 20},
		Bootstrap: BootstrapConfig{Login: "admin", Name: "Administrador", Email: "admin@admin.com"},
		Jobs:      JobsConfig{ResetPurgeSchedule: "@every 15m"},
		Env:       "production",
	}
}

// Load applies the YAML file named by RHGESTOR_CONFIG, then the environment,
// and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("RHGESTOR_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("RHGESTOR_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.ReadTimeout = getEnvDuration("RHGESTOR_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("RHGESTOR_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("RHGESTOR_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("RHGESTOR_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Server.FrontendURL = getEnv("FRONTEND_URL", c.Server.FrontendURL)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.AutoMigrate = getEnvBool("AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("JWT_EXPIRES_IN", c.Auth.TokenTTL)
	c.Auth.ResetTTL = getEnvDuration("RESET_TOKEN_TTL", c.Auth.ResetTTL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Upload.Driver = getEnv("UPLOAD_DRIVER", c.Upload.Driver)
	c.Upload.Dir = getEnv("UPLOAD_DIR", c.Upload.Dir)
	c.Upload.S3Bucket = getEnv("S3_BUCKET", c.Upload.S3Bucket)
	c.Upload.S3Region = getEnv("S3_REGION", c.Upload.S3Region)
	c.Upload.S3Endpoint = getEnv("S3_ENDPOINT", c.Upload.S3Endpoint)
	c.Upload.S3AccessKey = getEnv("S3_ACCESS_KEY", c.Upload.S3AccessKey)
	c.Upload.S3SecretKey = getEnv("S3_SECRET_KEY", c.Upload.S3SecretKey)
	c.Upload.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", c.Upload.S3UsePathStyle)

	c.Mail.WebhookURL = getEnv("MAIL_WEBHOOK_URL", c.Mail.WebhookURL)
	c.Mail.From = getEnv("MAIL_FROM", c.Mail.From)

	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.PerSecond = getEnvInt("RATE_LIMIT_PER_SEC", c.RateLimit.PerSecond)
	c.RateLimit.TrustedProxies = getEnvList("TRUSTED_PROXIES", c.RateLimit.TrustedProxies)

	c.Bootstrap.Login = getEnv("BOOTSTRAP_ADMIN_LOGIN", c.Bootstrap.Login)
	c.Bootstrap.Name = getEnv("BOOTSTRAP_ADMIN_NAME", c.Bootstrap.Name)
	c.Bootstrap.Email = getEnv("BOOTSTRAP_ADMIN_EMAIL", c.Bootstrap.Email)
	c.Bootstrap.Password = getEnv("BOOTSTRAP_ADMIN_PASSWORD", c.Bootstrap.Password)

	c.Jobs.ResetPurgeSchedule = getEnv("RESET_PURGE_SCHEDULE", c.Jobs.ResetPurgeSchedule)

	c.Env = getEnv("APP_ENV", c.Env)
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.Auth.ResetTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	switch c.Upload.Driver {
	case "local":
		if c.Upload.Dir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for local storage"))
		}
	case "s3":
		if c.Upload.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown UPLOAD_DRIVER %q", c.Upload.Driver))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("rate limit burst and rate must be positive"))
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err != nil {
			if _, err := netip.ParseAddr(p); err != nil {
				errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is neither an IP nor a CIDR", p))
			}
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.Bootstrap.Password != "" {
		if strings.TrimSpace(c.Bootstrap.Login) == "" {
			errs = append(errs, errors.New("BOOTSTRAP_ADMIN_LOGIN cannot be empty"))
		}
		if !validation.Email(c.Bootstrap.Email) {
			errs = append(errs, fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL %q is not a valid address", c.Bootstrap.Email))
		}
	}
	return errors.Join(errs...)
}

// Development reports whether error details may be exposed to clients.
func (c Config) Development() bool {
	return c.Env == "development"
}

// Storage converts the upload section for storage.New.
func (c Config) Storage() storage.Config {
	return storage.Config{
		Driver:         c.Upload.Driver,
		Dir:            c.Upload.Dir,
		S3Bucket:       c.Upload.S3Bucket,
		S3Region:       c.Upload.S3Region,
		S3Endpoint:     c.Upload.S3Endpoint,
		S3AccessKey:    c.Upload.S3AccessKey,
		S3SecretKey:    c.Upload.S3SecretKey,
		S3UsePathStyle: c.Upload.S3UsePathStyle,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90m") and the shorthand "1d" that the
// previous deployment used for JWT_EXPIRES_IN.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil && strings.HasSuffix(v, "d") {
		return time.Duration(n) * 24 * time.Hour
	}
	return fallback
}
