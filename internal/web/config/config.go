package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	AI            AIConfig            `yaml:"ai"`
	Storage       StorageConfig       `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Billing       BillingConfig       `yaml:"billing"`
	Notify        NotifyConfig        `yaml:"notify"`
	Events        EventsConfig        `yaml:"events"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	SharedResults SharedResultsConfig `yaml:"shared_results"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string          `yaml:"listen_addr"`
	PublicURL  string          `yaml:"public_url"`
	TLS        TLSConfig       `yaml:"tls"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig caps visitor API requests per client IP.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

type TLSConfig struct {
	Enabled  bool       `yaml:"enabled"`
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig obtains certificates from Let's Encrypt instead of cert_file
// and key_file.
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
	HTTPAddr string   `yaml:"http_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	LocalEnabled  bool          `yaml:"local_enabled"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	OIDC          OIDCConfig    `yaml:"oidc"`
}

type OIDCConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Provider      string   `yaml:"provider"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	IssuerURL     string   `yaml:"issuer_url"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
	AllowedGroups []string `yaml:"allowed_groups"`
}

// AIConfig selects how logic sections reach a completion endpoint.
// With Endpoint set, requests go to that remote URL; otherwise the built-in
// engine talks to Provider directly.
type AIConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Provider      string        `yaml:"provider"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	FailOpenDelay time.Duration `yaml:"fail_open_delay"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

type StorageConfig struct {
	Path           string   `yaml:"path"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	// RemoteHosts are hosts Resolve may fetch absolute file URLs from.
	// Empty means only stored files resolve.
	RemoteHosts    []string `yaml:"remote_hosts"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	Path       string        `yaml:"path"`
	RedisURL   string        `yaml:"redis_url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type BillingConfig struct {
	DefaultCredits    int  `yaml:"default_credits"`
	CampaignLimit     int  `yaml:"campaign_limit"`
	LeadLimit         int  `yaml:"lead_limit"`
	UsageResetEnabled bool `yaml:"usage_reset_enabled"`
	BillingPeriodDays int  `yaml:"billing_period_days"`
}

type NotifyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	SMTPAddr string        `yaml:"smtp_addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
	DKIM     DKIMConfig    `yaml:"dkim"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

type EventsConfig struct {
	Enabled bool              `yaml:"enabled"`
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"`
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

type SharedResultsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8088"
	}
	if cfg.Server.RateLimit.PerMinute == 0 {
		cfg.Server.RateLimit.PerMinute = 120
	}
	if cfg.Server.RateLimit.PerHour == 0 {
		cfg.Server.RateLimit.PerHour = 2000
	}
	if cfg.Server.TLS.ACME.CacheDir == "" {
		cfg.Server.TLS.ACME.CacheDir = "/var/lib/flint/certs"
	}
	if cfg.Server.TLS.ACME.HTTPAddr == "" {
		cfg.Server.TLS.ACME.HTTPAddr = ":80"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/flint/flint.db"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if len(cfg.Auth.OIDC.Scopes) == 0 {
		cfg.Auth.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case "gemini":
			cfg.AI.Model = "gemini-2.0-flash"
		default:
			cfg.AI.Model = "gpt-4o-mini"
		}
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60 * time.Second
	}
	if cfg.AI.FailOpenDelay == 0 {
		cfg.AI.FailOpenDelay = 2 * time.Second
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = 3
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/lib/flint/files"
	}
	if cfg.Storage.MaxUploadBytes == 0 {
		cfg.Storage.MaxUploadBytes = 10 << 20
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "bolt"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "/var/lib/flint/sessions.db"
	}
	if cfg.Cache.SessionTTL == 0 {
		cfg.Cache.SessionTTL = 24 * time.Hour
	}
	if cfg.Billing.BillingPeriodDays == 0 {
		cfg.Billing.BillingPeriodDays = 30
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 30 * time.Second
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.SharedResults.TTL == 0 {
		cfg.SharedResults.TTL = 30 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	if len(cfg.Auth.SessionSecret) < 32 {
		return fmt.Errorf("auth.session_secret must be at least 32 characters")
	}
	if tls := cfg.Server.TLS; tls.Enabled {
		if tls.ACME.Enabled && len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("server.tls.acme.domains is required when ACME is enabled")
		}
		if !tls.ACME.Enabled && (tls.CertFile == "" || tls.KeyFile == "") {
			return fmt.Errorf("server.tls requires cert_file and key_file unless acme is enabled")
		}
	}
	if !cfg.Auth.LocalEnabled && !cfg.Auth.OIDC.Enabled {
		return fmt.Errorf("at least one auth method must be enabled (local or OIDC)")
	}
	if cfg.Auth.OIDC.Enabled {
		if cfg.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
		if cfg.Auth.OIDC.ClientSecret == "" {
			return fmt.Errorf("auth.oidc.client_secret is required when OIDC is enabled")
		}
		if cfg.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
	}
	switch cfg.AI.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("ai.provider must be openai or gemini, got %q", cfg.AI.Provider)
	}
	switch cfg.Cache.Backend {
	case "bolt", "memory":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be bolt, redis or memory, got %q", cfg.Cache.Backend)
	}
	if cfg.Billing.DefaultCredits < 0 || cfg.Billing.CampaignLimit < 0 || cfg.Billing.LeadLimit < 0 {
		return fmt.Errorf("billing limits must not be negative")
	}
	if cfg.Notify.Enabled {
		if cfg.Notify.SMTPAddr == "" {
			return fmt.Errorf("notify.smtp_addr is required when notifications are enabled")
		}
		if cfg.Notify.From == "" {
			return fmt.Errorf("notify.from is required when notifications are enabled")
		}
		if cfg.Notify.DKIM.Enabled && (cfg.Notify.DKIM.Domain == "" || cfg.Notify.DKIM.Selector == "" || cfg.Notify.DKIM.KeyFile == "") {
			return fmt.Errorf("notify.dkim requires domain, selector and key_file")
		}
	}
	if cfg.Events.Enabled && len(cfg.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers is required when events are enabled")
	}
	return nil
}
