// Package config loads process configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	captchaconfig "joingate/internal/captcha/config"
	"joingate/internal/captcha/models"
)

// Config holds process-level settings.
type Config struct {
	// HTTPAddr is the listen address for event posts and probes.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// IngressMaxInFlight bounds events processed concurrently.
	IngressMaxInFlight int `mapstructure:"INGRESS_MAX_INFLIGHT"`

	// CaptchaMaxAgeMS is the challenge lifetime in milliseconds.
	CaptchaMaxAgeMS int64 `mapstructure:"CAPTCHA_MAX_AGE_MS"`
	// CaptchaAttempts is the answer budget, 1 to 9.
	CaptchaAttempts int `mapstructure:"CAPTCHA_ATTEMPTS"`
	// CaptchaGuildIDs is a comma-separated allow-list of group IDs. Empty disables challenges.
	CaptchaGuildIDs string `mapstructure:"CAPTCHA_GUILD_IDS"`
	// CaptchaDeleteWrongAnswers recalls wrong answers from the group.
	CaptchaDeleteWrongAnswers bool `mapstructure:"CAPTCHA_DELETE_WRONG_ANSWERS"`
	// CaptchaStoreNamespace prefixes stored challenge keys.
	CaptchaStoreNamespace string `mapstructure:"CAPTCHA_STORE_NAMESPACE"`
	CaptchaOperandMin     int    `mapstructure:"CAPTCHA_OPERAND_MIN"`
	CaptchaOperandMax     int    `mapstructure:"CAPTCHA_OPERAND_MAX"`

	// OneBotAPIURL is the base URL of the OneBot v11 HTTP API.
	OneBotAPIURL string `mapstructure:"ONEBOT_API_URL"`
	// OneBotAccessToken is sent as a bearer token on API calls.
	OneBotAccessToken string `mapstructure:"ONEBOT_ACCESS_TOKEN"`
	// OneBotSecret verifies X-Signature on event posts. Empty disables verification.
	OneBotSecret string `mapstructure:"ONEBOT_SECRET"`

	Redis RedisConfig `mapstructure:",squash"`

	// AuditDatabaseURL enables the Postgres audit store.
	AuditDatabaseURL string `mapstructure:"AUDIT_DATABASE_URL"`
	// AuditKafkaBrokers is a comma-separated broker list; set to publish audit events to Kafka.
	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// AuditBuffer is the async audit queue size; 0 writes synchronously.
	AuditBuffer int `mapstructure:"AUDIT_BUFFER"`

	// OTLPEndpoint enables trace export over OTLP/HTTP.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
}

// RedisConfig configures the shared Redis client. An empty URL keeps
// challenge state in process memory.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                    ":8080",
	"INGRESS_MAX_INFLIGHT":         256,
	"CAPTCHA_MAX_AGE_MS":           captchaconfig.DefaultMaxAge.Milliseconds(),
	"CAPTCHA_ATTEMPTS":             captchaconfig.DefaultAttempts,
	"CAPTCHA_GUILD_IDS":            "",
	"CAPTCHA_DELETE_WRONG_ANSWERS": true,
	"CAPTCHA_STORE_NAMESPACE":      "captcha",
	"CAPTCHA_OPERAND_MIN":          captchaconfig.DefaultOperandMin,
	"CAPTCHA_OPERAND_MAX":          captchaconfig.DefaultOperandMax,
	"ONEBOT_API_URL":               "",
	"ONEBOT_ACCESS_TOKEN":          "",
	"ONEBOT_SECRET":                "",
	"REDIS_URL":                    "",
	"REDIS_POOL_SIZE":              10,
	"REDIS_MIN_IDLE_CONNS":         2,
	"REDIS_DIAL_TIMEOUT":           "5s",
	"REDIS_READ_TIMEOUT":           "3s",
	"REDIS_WRITE_TIMEOUT":          "3s",
	"AUDIT_DATABASE_URL":           "",
	"AUDIT_KAFKA_BROKERS":          "",
	"AUDIT_KAFKA_TOPIC":            "joingate-audit",
	"AUDIT_BUFFER":                 1024,
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "",
	"LOG_LEVEL":                    "info",
	"LOG_FORMAT":                   "json",
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.OneBotAPIURL == "" {
		return errors.New("config: ONEBOT_API_URL must be set")
	}
	if err := c.Captcha().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.AuditBuffer < 0 {
		return errors.New("config: AUDIT_BUFFER must not be negative")
	}
	return nil
}

// Captcha builds the challenge engine settings.
func (c *Config) Captcha() captchaconfig.Config {
	ids := splitList(c.CaptchaGuildIDs)
	groups := make([]models.GroupID, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, models.GroupID(id))
	}
	return captchaconfig.Config{
		MaxAge:             time.Duration(c.CaptchaMaxAgeMS) * time.Millisecond,
		Attempts:           c.CaptchaAttempts,
		GuildIDs:           groups,
		DeleteWrongAnswers: c.CaptchaDeleteWrongAnswers,
		OperandMin:         c.CaptchaOperandMin,
		OperandMax:         c.CaptchaOperandMax,
	}
}

// AuditKafkaBrokerList returns broker addresses; empty disables the Kafka sink.
func (c *Config) AuditKafkaBrokerList() []string {
	return splitList(c.AuditKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
