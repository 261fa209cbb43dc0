// Package config loads subhookd configuration from an optional .env file, an
// optional TOML file and SUBHOOK_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// FileEnv names the variable pointing at the TOML config file.
const FileEnv = "SUBHOOK_CONFIG_FILE"

// Backend names accepted by Storage.Backend.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendTiered    = "tiered"
)

// Config is the daemon configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Stripe  Stripe  `toml:"stripe"`
	Storage Storage `toml:"storage"`
	Events  Events  `toml:"events"`
	Log     Log     `toml:"log"`
}

// Server configures the HTTP listeners.
type Server struct {
	ListenAddr      string        `toml:"listen_addr" validate:"required"`
	MetricsAddr     string        `toml:"metrics_addr"`
	WebhookPath     string        `toml:"webhook_path" validate:"required,startswith=/"`
	AllowedOrigin   string        `toml:"allowed_origin"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" validate:"gt=0"`
}

// Stripe configures the webhook processor.
type Stripe struct {
	// WebhookSecret may be empty; every delivery then fails verification.
	WebhookSecret string `toml:"webhook_secret"`
	// APIKey is only needed by serve; migrate and profile commands run without it.
	APIKey             string        `toml:"api_key"`
	UserIDMetadataKey  string        `toml:"user_id_metadata_key" validate:"required"`
	SignatureTolerance time.Duration `toml:"signature_tolerance" validate:"gte=0"`
	MaxBodyBytes       int64         `toml:"max_body_bytes" validate:"gte=0"`
	RateLimitRequests  int           `toml:"rate_limit_requests"`
	RateLimitWindow    time.Duration `toml:"rate_limit_window" validate:"gte=0"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend        string `toml:"backend" validate:"oneof=memory postgres redis firestore tiered"`
	CircuitBreaker bool   `toml:"circuit_breaker"`

	PostgresURL string `toml:"postgres_url" validate:"required_if=Backend postgres"`
	AutoMigrate bool   `toml:"auto_migrate"`

	RedisAddr     string        `toml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db" validate:"gte=0"`
	EventTTL      time.Duration `toml:"event_ttl" validate:"gte=0"`

	FirestoreProject string `toml:"firestore_project" validate:"required_if=Backend firestore"`

	// TieredCold is the durable backend behind the redis hot tier.
	TieredCold string `toml:"tiered_cold" validate:"omitempty,oneof=postgres firestore"`
	// TieredAsync syncs cold-tier results back to the hot tier off the request path.
	TieredAsync bool `toml:"tiered_async"`
}

// Events configures profile-update publishing.
type Events struct {
	NATSURL string `toml:"nats_url" validate:"omitempty,url"`
	Subject string `toml:"subject" validate:"required"`
}

// Log configures the logger.
type Log struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:      ":8080",
			MetricsAddr:     ":9090",
			WebhookPath:     "/webhooks/stripe",
			AllowedOrigin:   "*",
			ShutdownTimeout: 15 * time.Second,
		},
		Stripe: Stripe{
			UserIDMetadataKey:  "supabase_user_id",
			SignatureTolerance: 5 * time.Minute,
			MaxBodyBytes:       256 * 1024,
			RateLimitWindow:    time.Minute,
		},
		Storage: Storage{
			Backend:        BackendMemory,
			CircuitBreaker: true,
			RedisAddr:      "localhost:6379",
			EventTTL:       30 * 24 * time.Hour,
			TieredCold:     BackendPostgres,
		},
		Events: Events{
			Subject: "subhook.profile.updated",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the first existing dotenv file (default ".env"), then the TOML
// file named by SUBHOOK_CONFIG_FILE, then environment overrides, and
// validates the result. Variables already set in the process environment win
// over the dotenv file.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		err := godotenv.Load(f)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from defaults, the optional TOML file and the
// variables visible through lookup.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup(FileEnv); ok && path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field backend requirements.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(validateStorage, Storage{})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validateStorage(sl validator.StructLevel) {
	s, ok := sl.Current().Interface().(Storage)
	if !ok || s.Backend != BackendTiered {
		return
	}
	if s.RedisAddr == "" {
		sl.ReportError(s.RedisAddr, "RedisAddr", "redis_addr", "required_with_tiered", "")
	}
	switch s.TieredCold {
	case BackendPostgres:
		if s.PostgresURL == "" {
			sl.ReportError(s.PostgresURL, "PostgresURL", "postgres_url", "required_with_tiered", "")
		}
	case BackendFirestore:
		if s.FirestoreProject == "" {
			sl.ReportError(s.FirestoreProject, "FirestoreProject", "firestore_project", "required_with_tiered", "")
		}
	default:
		sl.ReportError(s.TieredCold, "TieredCold", "tiered_cold", "required_with_tiered", "")
	}
}

// envBinding maps variable names to a setter; the first name present wins.
type envBinding struct {
	names []string
	set   func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{[]string{"SUBHOOK_LISTEN_ADDR"}, func(c *Config, v string) error { c.Server.ListenAddr = v; return nil }},
	{[]string{"SUBHOOK_METRICS_ADDR"}, func(c *Config, v string) error { c.Server.MetricsAddr = v; return nil }},
	{[]string{"SUBHOOK_WEBHOOK_PATH"}, func(c *Config, v string) error { c.Server.WebhookPath = v; return nil }},
	{[]string{"SUBHOOK_ALLOWED_ORIGIN"}, func(c *Config, v string) error { c.Server.AllowedOrigin = v; return nil }},
	{[]string{"SUBHOOK_SHUTDOWN_TIMEOUT"}, durationSetter(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},

	{[]string{"SUBHOOK_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET"}, func(c *Config, v string) error { c.Stripe.WebhookSecret = v; return nil }},
	{[]string{"SUBHOOK_STRIPE_API_KEY", "STRIPE_SECRET_KEY"}, func(c *Config, v string) error { c.Stripe.APIKey = v; return nil }},
	{[]string{"SUBHOOK_USER_ID_METADATA_KEY"}, func(c *Config, v string) error { c.Stripe.UserIDMetadataKey = v; return nil }},
	{[]string{"SUBHOOK_SIGNATURE_TOLERANCE"}, durationSetter(func(c *Config) *time.Duration { return &c.Stripe.SignatureTolerance })},
	{[]string{"SUBHOOK_MAX_BODY_BYTES"}, func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Stripe.MaxBodyBytes = n
		return nil
	}},
	{[]string{"SUBHOOK_RATE_LIMIT_REQUESTS"}, intSetter(func(c *Config) *int { return &c.Stripe.RateLimitRequests })},
	{[]string{"SUBHOOK_RATE_LIMIT_WINDOW"}, durationSetter(func(c *Config) *time.Duration { return &c.Stripe.RateLimitWindow })},

	{[]string{"SUBHOOK_STORAGE_BACKEND"}, func(c *Config, v string) error { c.Storage.Backend = strings.ToLower(v); return nil }},
	{[]string{"SUBHOOK_CIRCUIT_BREAKER"}, boolSetter(func(c *Config) *bool { return &c.Storage.CircuitBreaker })},
	{[]string{"SUBHOOK_POSTGRES_URL", "DATABASE_URL"}, func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil }},
	{[]string{"SUBHOOK_AUTO_MIGRATE"}, boolSetter(func(c *Config) *bool { return &c.Storage.AutoMigrate })},
	{[]string{"SUBHOOK_REDIS_ADDR"}, func(c *Config, v string) error { c.Storage.RedisAddr = v; return nil }},
	{[]string{"SUBHOOK_REDIS_PASSWORD"}, func(c *Config, v string) error { c.Storage.RedisPassword = v; return nil }},
	{[]string{"SUBHOOK_REDIS_DB"}, intSetter(func(c *Config) *int { return &c.Storage.RedisDB })},
	{[]string{"SUBHOOK_EVENT_TTL"}, durationSetter(func(c *Config) *time.Duration { return &c.Storage.EventTTL })},
	{[]string{"SUBHOOK_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"}, func(c *Config, v string) error { c.Storage.FirestoreProject = v; return nil }},
	{[]string{"SUBHOOK_TIERED_COLD"}, func(c *Config, v string) error { c.Storage.TieredCold = strings.ToLower(v); return nil }},
	{[]string{"SUBHOOK_TIERED_ASYNC"}, boolSetter(func(c *Config) *bool { return &c.Storage.TieredAsync })},

	{[]string{"SUBHOOK_NATS_URL"}, func(c *Config, v string) error { c.Events.NATSURL = v; return nil }},
	{[]string{"SUBHOOK_EVENTS_SUBJECT"}, func(c *Config, v string) error { c.Events.Subject = v; return nil }},

	{[]string{"SUBHOOK_LOG_LEVEL"}, func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{[]string{"SUBHOOK_LOG_FORMAT"}, func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		for _, name := range b.names {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			break
		}
	}
	return nil
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}
