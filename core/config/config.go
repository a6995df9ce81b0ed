package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"ADMIN_UID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook listener settings and the shared secret
// Telegram echoes back in the X-Telegram-Bot-Api-Secret-Token header.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Secret string `yaml:"secret" envconfig:"BOT_SECRET"`
}

// StorageConfig holds Redis connection settings for the key-value substrate.
type StorageConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	Namespace string `yaml:"namespace" envconfig:"REDIS_NAMESPACE"`
}

// CaptchaConfig controls the arithmetic challenge gate.
// The zero value keeps the gate enabled with the stock budgets.
type CaptchaConfig struct {
	Disabled            bool `yaml:"disabled" envconfig:"CAPTCHA_DISABLED"`
	MaxAttempts         int  `yaml:"max_attempts" envconfig:"CAPTCHA_MAX_ATTEMPTS"`
	ChallengeTTLSeconds int  `yaml:"challenge_ttl_seconds" envconfig:"CAPTCHA_CHALLENGE_TTL_SECONDS"`
	VerifiedTTLDays     int  `yaml:"verified_ttl_days" envconfig:"CAPTCHA_VERIFIED_TTL_DAYS"`
}

// RelayConfig tunes reply routing.
type RelayConfig struct {
	// RouteTTLDays bounds how long a forwarded message stays resolvable
	// for admin replies. Defaults to the verification window.
	RouteTTLDays int `yaml:"route_ttl_days" envconfig:"RELAY_ROUTE_TTL_DAYS"`
}

// NotifyConfig controls the periodic per-chat notification send.
type NotifyConfig struct {
	Disabled        bool   `yaml:"disabled" envconfig:"NOTIFY_DISABLED"`
	IntervalSeconds int    `yaml:"interval_seconds" envconfig:"NOTIFY_INTERVAL_SECONDS"`
	URL             string `yaml:"url" envconfig:"NOTIFY_URL"`
}

// TextsConfig points at externally hosted message texts.
type TextsConfig struct {
	StartURL string `yaml:"start_url" envconfig:"TEXTS_START_URL"`
	FraudURL string `yaml:"fraud_url" envconfig:"TEXTS_FRAUD_URL"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// RateLimitConfig holds settings for the per-user inbound rate limit.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DatabaseConfig holds connection settings for the optional moderation
// audit database. When Enabled is false the journal is a no-op and no
// connection is attempted.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"DB_ENABLED"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates the whole relay bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Captcha   CaptchaConfig   `yaml:"captcha"`
	Relay     RelayConfig     `yaml:"relay"`
	Notify    NotifyConfig    `yaml:"notify"`
	Texts     TextsConfig     `yaml:"texts"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Secret) == "" {
			return fmt.Errorf("webhook.secret is required when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if strings.TrimSpace(cfg.Storage.Addr) == "" {
		cfg.Storage.Addr = "localhost:6379"
	}
	if cfg.Storage.Namespace == "" {
		cfg.Storage.Namespace = "relaybot"
	}

	if cfg.Captcha.MaxAttempts <= 0 {
		cfg.Captcha.MaxAttempts = 3
	}
	if cfg.Captcha.ChallengeTTLSeconds <= 0 {
		cfg.Captcha.ChallengeTTLSeconds = 10 * 60
	}
	if cfg.Captcha.VerifiedTTLDays <= 0 {
		cfg.Captcha.VerifiedTTLDays = 30
	}
	if cfg.Relay.RouteTTLDays <= 0 {
		cfg.Relay.RouteTTLDays = cfg.Captcha.VerifiedTTLDays
	}
	if cfg.Notify.IntervalSeconds <= 0 {
		cfg.Notify.IntervalSeconds = 3600
	}

	allowed := map[string]struct{}{
		"message":        {},
		"edited_message": {},
		"other":          {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: message, edited_message, other", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}
