// Package config loads the auth service configuration from defaults, an
// optional YAML file, an optional .env file and environment variables, in
// that order.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	auth "github.com/goliatone/go-workorder-auth"
)

const base64Prefix = "base64:"

// MinSigningKeyLength is the shortest accepted HMAC key, in bytes
const MinSigningKeyLength = 32

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Notifier NotifierConfig `yaml:"notifier"`
	Logging  LoggingConfig  `yaml:"logging"`

	signingKey []byte
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type AuthConfig struct {
	// SigningKey is the raw HMAC secret or base64:<encoded>
	SigningKey            string        `yaml:"signing_key"`
	Issuer                string        `yaml:"issuer"`
	Audience              []string      `yaml:"audience"`
	AccessTokenTTL        time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `yaml:"refresh_token_ttl"`
	VerificationTokenTTL  time.Duration `yaml:"verification_token_ttl"`
	PasswordResetTokenTTL time.Duration `yaml:"password_reset_token_ttl"`
	// RolePolicy is "fallback" (unknown roles become ROLE_USER) or "reject"
	RolePolicy string `yaml:"role_policy"`
}

type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres"
	Dialect      string `yaml:"dialect"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// ActivityTopic receives normalized activity records, empty keeps them in the log
	ActivityTopic string `yaml:"activity_topic"`
}

type NotifierConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a configuration usable for local development, except for
// the signing key which must always be provided.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:                "workorder-auth",
			AccessTokenTTL:        auth.DefaultAccessTokenTTL,
			RefreshTokenTTL:       auth.DefaultRefreshTokenTTL,
			VerificationTokenTTL:  auth.DefaultVerificationTokenTTL,
			PasswordResetTokenTTL: auth.DefaultPasswordResetTokenTTL,
			RolePolicy:            "fallback",
		},
		Database: DatabaseConfig{
			Dialect:      "sqlite",
			DSN:          "file:workorder_auth.db?cache=shared",
			MaxOpenConns: 1,
			AutoMigrate:  true,
		},
		Kafka: KafkaConfig{
			Topic: "auth.notifications",
		},
		Notifier: NotifierConfig{
			QueueSize: 256,
			Workers:   2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
// envFiles are loaded with godotenv without overriding variables already set,
// missing files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "reading config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "parsing config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "loading env file").
				WithMetadata(map[string]any{"path": file})
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := os.Getenv("AUTH_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
	if v := os.Getenv("AUTH_AUDIENCE"); v != "" {
		cfg.Auth.Audience = splitList(v)
	}
	if v := os.Getenv("AUTH_ROLE_POLICY"); v != "" {
		cfg.Auth.RolePolicy = v
	}

	durations := map[string]*time.Duration{
		"AUTH_ACCESS_TOKEN_TTL":         &cfg.Auth.AccessTokenTTL,
		"AUTH_REFRESH_TOKEN_TTL":        &cfg.Auth.RefreshTokenTTL,
		"AUTH_VERIFICATION_TOKEN_TTL":   &cfg.Auth.VerificationTokenTTL,
		"AUTH_PASSWORD_RESET_TOKEN_TTL": &cfg.Auth.PasswordResetTokenTTL,
	}
	for name, target := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid duration in environment").
				WithMetadata(map[string]any{"variable": name})
		}
		*target = d
	}

	if v := os.Getenv("DATABASE_DIALECT"); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid integer in environment").
				WithMetadata(map[string]any{"variable": "DATABASE_MAX_OPEN_CONNS"})
		}
		cfg.Database.MaxOpenConns = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKA_ACTIVITY_TOPIC"); v != "" {
		cfg.Kafka.ActivityTopic = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration and decodes the signing key
func (c *Config) Validate() error {
	key, err := decodeSigningKey(c.Auth.SigningKey)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid signing key")
	}

	err = validation.Errors{
		"http": validation.ValidateStruct(&c.HTTP,
			validation.Field(&c.HTTP.Addr, validation.Required),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.SigningKey, validation.Required),
			validation.Field(&c.Auth.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
			validation.Field(&c.Auth.RefreshTokenTTL, validation.Required, validation.Min(time.Second)),
			validation.Field(&c.Auth.VerificationTokenTTL, validation.Required, validation.Min(time.Second)),
			validation.Field(&c.Auth.PasswordResetTokenTTL, validation.Required, validation.Min(time.Second)),
			validation.Field(&c.Auth.RolePolicy, validation.In("fallback", "reject")),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Dialect, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&c.Database.DSN, validation.Required),
			validation.Field(&c.Database.MaxOpenConns, validation.Min(0)),
		),
		"kafka": validation.ValidateStruct(&c.Kafka,
			validation.Field(&c.Kafka.Brokers, validation.Each(is.DialString)),
			validation.Field(&c.Kafka.Topic, validation.When(len(c.Kafka.Brokers) > 0, validation.Required)),
		),
		"notifier": validation.ValidateStruct(&c.Notifier,
			validation.Field(&c.Notifier.QueueSize, validation.Min(1)),
			validation.Field(&c.Notifier.Workers, validation.Min(1)),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
			validation.Field(&c.Logging.Format, validation.In("json", "text")),
		),
	}.Filter()
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}

	if len(key) < MinSigningKeyLength {
		return goerrors.New(
			fmt.Sprintf("signing key must be at least %d bytes", MinSigningKeyLength),
			goerrors.CategoryValidation,
		).WithMetadata(map[string]any{"length": len(key)})
	}

	c.signingKey = key
	return nil
}

func decodeSigningKey(raw string) ([]byte, error) {
	if encoded, ok := strings.CutPrefix(raw, base64Prefix); ok {
		return base64.StdEncoding.DecodeString(encoded)
	}
	return []byte(raw), nil
}

// RolePolicy maps the configured policy name
func (c *Config) RolePolicy() auth.RolePolicy {
	if c.Auth.RolePolicy == "reject" {
		return auth.RolePolicyReject
	}
	return auth.RolePolicyFallbackToUser
}

func (c *Config) GetSigningKey() []byte {
	if c.signingKey == nil {
		key, _ := decodeSigningKey(c.Auth.SigningKey)
		return key
	}
	return append([]byte(nil), c.signingKey...)
}

func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return c.Auth.AccessTokenTTL
}

func (c *Config) GetRefreshTokenTTL() time.Duration {
	return c.Auth.RefreshTokenTTL
}

func (c *Config) GetVerificationTokenTTL() time.Duration {
	return c.Auth.VerificationTokenTTL
}

func (c *Config) GetPasswordResetTokenTTL() time.Duration {
	return c.Auth.PasswordResetTokenTTL
}

var _ auth.Config = (*Config)(nil)

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
