package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SLOTBOOKING_DATABASE_PASSWORD.
// Leaf keys are derived with split_words: an explicit envconfig name would also match the
// bare variable (USER, HOST, PORT) from the shell.
const EnvPrefix = "SLOTBOOKING"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Kafka     KafkaConfig     `yaml:"kafka" envconfig:"KAFKA"`
	AMQP      AMQPConfig      `yaml:"amqp" envconfig:"AMQP"`
	Publisher PublisherConfig `yaml:"publisher" envconfig:"PUBLISHER"`
	Stripe    StripeConfig    `yaml:"stripe" envconfig:"STRIPE"`
	Calendar  CalendarConfig  `yaml:"calendar" envconfig:"CALENDAR"`
	Booking   BookingConfig   `yaml:"booking" envconfig:"BOOKING"`
	Refund    RefundConfig    `yaml:"refund" envconfig:"REFUND"`
	Worker    WorkerConfig    `yaml:"worker" envconfig:"WORKER"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" split_words:"true"`
	SwaggerDir     string   `yaml:"swagger_dir" split_words:"true"`
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`
	User     string `yaml:"user" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	Name     string `yaml:"name" split_words:"true"`
	SSLMode  string `yaml:"ssl_mode" split_words:"true"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	DB       int    `yaml:"db" split_words:"true"`
	// TasksDB is the logical database used by the retry queue.
	TasksDB int `yaml:"tasks_db" split_words:"true"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers" split_words:"true"`
	BookingEventsTopic string   `yaml:"booking_events_topic" split_words:"true"`
	GroupID            string   `yaml:"group_id" split_words:"true"`
}

type AMQPConfig struct {
	URL      string `yaml:"url" split_words:"true"`
	Exchange string `yaml:"exchange" split_words:"true"`
}

type PublisherConfig struct {
	// Driver is one of "kafka", "amqp" or "none".
	Driver string `yaml:"driver" split_words:"true"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key" split_words:"true"`
	WebhookSecret string `yaml:"webhook_secret" split_words:"true"`
	SuccessURL    string `yaml:"success_url" split_words:"true"`
	CancelURL     string `yaml:"cancel_url" split_words:"true"`
}

type CalendarConfig struct {
	Enabled         bool              `yaml:"enabled" split_words:"true"`
	CredentialsFile string            `yaml:"credentials_file" split_words:"true"`
	TimeoutMillis   int               `yaml:"timeout_ms" split_words:"true"`
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds" split_words:"true"`
	CalendarIDs     map[string]string `yaml:"calendar_ids" split_words:"true"`
}

func (c CalendarConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c CalendarConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type BookingConfig struct {
	HoldTTLMinutes      int    `yaml:"hold_ttl_minutes" split_words:"true"`
	PaymentTTLMinutes   int    `yaml:"payment_ttl_minutes" split_words:"true"`
	CancelCutoffMinutes int    `yaml:"cancel_cutoff_minutes" split_words:"true"`
	DefaultCurrency     string `yaml:"default_currency" split_words:"true"`
	DefaultSlotMinutes  int    `yaml:"default_slot_minutes" split_words:"true"`
	EnforceAvailability bool   `yaml:"enforce_availability" split_words:"true"`
	MaxAvailabilityDays int    `yaml:"max_availability_days" split_words:"true"`
}

func (b BookingConfig) HoldTTL() time.Duration {
	return time.Duration(b.HoldTTLMinutes) * time.Minute
}

func (b BookingConfig) PaymentTTL() time.Duration {
	return time.Duration(b.PaymentTTLMinutes) * time.Minute
}

func (b BookingConfig) CancelCutoff() time.Duration {
	return time.Duration(b.CancelCutoffMinutes) * time.Minute
}

// RefundConfig is independent of BookingConfig.CancelCutoffMinutes; see DESIGN.md.
type RefundConfig struct {
	FullRefundHours    int `yaml:"full_refund_hours" split_words:"true"`
	PartialRefundHours int `yaml:"partial_refund_hours" split_words:"true"`
	PartialPercent     int `yaml:"partial_percent" split_words:"true"`
}

type WorkerConfig struct {
	ExpirySweepSpec    string `yaml:"expiry_sweep_spec" split_words:"true"`
	LifecycleSweepSpec string `yaml:"lifecycle_sweep_spec" split_words:"true"`
	TaskConcurrency    int    `yaml:"task_concurrency" split_words:"true"`
	TaskMaxRetry       int    `yaml:"task_max_retry" split_words:"true"`
}

type LogConfig struct {
	Level string `yaml:"level" split_words:"true"`
	Env   string `yaml:"env" split_words:"true"`
}

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Address: ":8080"},
		Database:  DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "slotbooking", SSLMode: "disable"},
		Redis:     RedisConfig{Addr: "localhost:6379", TasksDB: 1},
		Kafka:     KafkaConfig{BookingEventsTopic: "booking-events", GroupID: "slotbooking-worker"},
		AMQP:      AMQPConfig{Exchange: "booking-events"},
		Publisher: PublisherConfig{Driver: "none"},
		Calendar:  CalendarConfig{TimeoutMillis: 1500, CacheTTLSeconds: 60},
		Booking: BookingConfig{
			HoldTTLMinutes:      15,
			PaymentTTLMinutes:   30,
			CancelCutoffMinutes: 60,
			DefaultCurrency:     "usd",
			DefaultSlotMinutes:  30,
			EnforceAvailability: true,
			MaxAvailabilityDays: 31,
		},
		Refund: RefundConfig{FullRefundHours: 24, PartialRefundHours: 12, PartialPercent: 50},
		Worker: WorkerConfig{
			ExpirySweepSpec:    "@every 30s",
			LifecycleSweepSpec: "@every 1m",
			TaskConcurrency:    5,
			TaskMaxRetry:       10,
		},
		Log: LogConfig{Level: "info", Env: "development"},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies environment overrides.
// A missing file is not an error; the service can run from environment alone.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Booking.HoldTTLMinutes <= 0 || c.Booking.PaymentTTLMinutes <= 0 {
		return errors.New("config: booking TTLs must be positive")
	}
	if c.Booking.CancelCutoffMinutes < 0 {
		return errors.New("config: cancel cutoff must not be negative")
	}
	if c.Booking.DefaultSlotMinutes <= 0 {
		return errors.New("config: default slot minutes must be positive")
	}
	if c.Refund.PartialRefundHours > c.Refund.FullRefundHours {
		return errors.New("config: partial refund hours must not exceed full refund hours")
	}
	if c.Refund.PartialPercent < 0 || c.Refund.PartialPercent > 100 {
		return errors.New("config: partial refund percent must be within 0-100")
	}
	switch c.Publisher.Driver {
	case "", "none", "kafka", "amqp":
	default:
		return fmt.Errorf("config: unknown publisher driver %q", c.Publisher.Driver)
	}
	return nil
}
