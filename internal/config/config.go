package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/mailcore/pkg/types"
)

// Auth types
const (
	AuthPassword = "password"
	AuthOAuth2   = "oauth2"
)

// Config holds the application configuration
type Config struct {
	CachePath         string `mapstructure:"cache_path"`
	SearchResultLimit int    `mapstructure:"search_result_limit"`
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"`

	Sync    SyncConfig                     `mapstructure:"sync"`
	Keyring KeyringConfig                  `mapstructure:"keyring"`
	Proxy   types.ProxyDescriptor          `mapstructure:"proxy"`
	OAuth   map[string]OAuthProviderConfig `mapstructure:"oauth"`

	Accounts []AccountConfig `mapstructure:"accounts"`
}

// SyncConfig tunes the orchestrator
type SyncConfig struct {
	Limit            int           `mapstructure:"limit"`
	RESTBatchSize    int           `mapstructure:"rest_batch_size"`
	SessionBatchSize int           `mapstructure:"session_batch_size"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
}

// KeyringConfig selects where credentials are kept
type KeyringConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	Backend      string `mapstructure:"backend"`
	FileDir      string `mapstructure:"file_dir"`
	FilePassword string `mapstructure:"file_password"`
}

// OAuthProviderConfig carries client credentials for one provider
type OAuthProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Provider string `mapstructure:"provider"`
	AuthType string `mapstructure:"auth_type"`

	// IMAP settings
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`

	// SMTP settings
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`

	DisableTLS bool               `mapstructure:"disable_tls"`
	Proxy      types.AccountProxy `mapstructure:"proxy"`
}

// IsOAuth reports whether the account authenticates with OAuth2 tokens
func (a *AccountConfig) IsOAuth() bool {
	return a.AuthType == AuthOAuth2
}

type preset struct {
	imapHost string
	imapPort int
	smtpHost string
	smtpPort int
}

var presets = map[string]preset{
	"gmail":   {"imap.gmail.com", 993, "smtp.gmail.com", 465},
	"outlook": {"outlook.office365.com", 993, "smtp.office365.com", 587},
}

// Load reads configuration from an optional file, MAILCORE_* environment
// variables and, when no accounts are configured, the single-account
// IMAP_* / SMTP_* variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("MAILCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Accounts) == 0 {
		accounts, err := loadEnvAccounts(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		cfg.Accounts = accounts
	}
	cfg.applyAccountDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_path", "/data/email_cache.db")
	v.SetDefault("search_result_limit", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("sync.limit", 50)
	v.SetDefault("sync.rest_batch_size", 10)
	v.SetDefault("sync.session_batch_size", 10)
	v.SetDefault("sync.connect_timeout", 30*time.Second)
	v.SetDefault("sync.fetch_timeout", 60*time.Second)

	v.SetDefault("keyring.service_name", "mailcore")
	v.SetDefault("keyring.backend", "")
	v.SetDefault("keyring.file_dir", "~/.config/mailcore/credentials")
	v.SetDefault("keyring.file_password", "mailcore-file-key")

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.protocol", string(types.ProxySOCKS5))
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("proxy.auth.enabled", false)
	v.SetDefault("proxy.auth.username", "")
	v.SetDefault("proxy.auth.password", "")

	for _, p := range []string{"gmail", "outlook"} {
		v.SetDefault("oauth."+p+".client_id", "")
		v.SetDefault("oauth."+p+".client_secret", "")
		v.SetDefault("oauth."+p+".redirect_url", "")
	}
}

// env reads an unprefixed environment variable through v
func env(v *viper.Viper, name string) string {
	key := "env." + strings.ToLower(name)
	v.BindEnv(key, name) //nolint:errcheck
	return v.GetString(key)
}

func envInt(v *viper.Viper, name string, def int) int {
	key := "env." + strings.ToLower(name)
	v.BindEnv(key, name) //nolint:errcheck
	if !v.IsSet(key) {
		return def
	}
	return v.GetInt(key)
}

// loadEnvAccounts reads IMAP_HOST/SMTP_HOST style variables, or the
// numbered ACCOUNT_1_*, ACCOUNT_2_* form
func loadEnvAccounts(v *viper.Viper) ([]AccountConfig, error) {
	if env(v, "IMAP_HOST") != "" && env(v, "SMTP_HOST") != "" {
		acc := accountFromEnv(v, "")
		if acc.Name == "" {
			acc.Name = "default"
		}
		return []AccountConfig{acc}, nil
	}

	var accounts []AccountConfig
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", n)
		if env(v, prefix+"NAME") == "" {
			break
		}
		accounts = append(accounts, accountFromEnv(v, prefix))
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}
	return accounts, nil
}

func accountFromEnv(v *viper.Viper, prefix string) AccountConfig {
	name := env(v, prefix+"NAME")
	if prefix == "" {
		name = env(v, "ACCOUNT_NAME")
	}
	return AccountConfig{
		Name:         name,
		Email:        env(v, prefix+"EMAIL"),
		Provider:     env(v, prefix+"PROVIDER"),
		AuthType:     env(v, prefix+"AUTH_TYPE"),
		IMAPHost:     env(v, prefix+"IMAP_HOST"),
		IMAPPort:     envInt(v, prefix+"IMAP_PORT", 993),
		IMAPUsername: env(v, prefix+"IMAP_USERNAME"),
		IMAPPassword: env(v, prefix+"IMAP_PASSWORD"),
		SMTPHost:     env(v, prefix+"SMTP_HOST"),
		SMTPPort:     envInt(v, prefix+"SMTP_PORT", 587),
		SMTPUsername: env(v, prefix+"SMTP_USERNAME"),
		SMTPPassword: env(v, prefix+"SMTP_PASSWORD"),
	}
}

func (c *Config) applyAccountDefaults() {
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.AuthType == "" {
			acc.AuthType = AuthPassword
		}
		if p, ok := presets[acc.Provider]; ok {
			if acc.IMAPHost == "" {
				acc.IMAPHost, acc.IMAPPort = p.imapHost, p.imapPort
			}
			if acc.SMTPHost == "" {
				acc.SMTPHost, acc.SMTPPort = p.smtpHost, p.smtpPort
			}
		}
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.SMTPPort == 0 {
			acc.SMTPPort = 587
		}
		if acc.IMAPUsername == "" {
			acc.IMAPUsername = acc.Email
		}
		if acc.SMTPUsername == "" {
			acc.SMTPUsername = acc.IMAPUsername
		}
		if acc.SMTPPassword == "" {
			acc.SMTPPassword = acc.IMAPPassword
		}
		if acc.Email == "" {
			acc.Email = acc.IMAPUsername
		}
	}
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("search_result_limit must be between 1 and 1000")
	}

	if c.Sync.Limit < 1 {
		return fmt.Errorf("sync.limit must be positive")
	}

	if err := validateProxy("proxy", c.Proxy); err != nil {
		return err
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true

		switch acc.AuthType {
		case AuthPassword:
			if acc.IMAPPassword == "" {
				return fmt.Errorf("account %s: imap_password is required", acc.Name)
			}
		case AuthOAuth2:
			if acc.Provider == "" {
				return fmt.Errorf("account %s: provider is required for oauth2", acc.Name)
			}
		default:
			return fmt.Errorf("account %s: unknown auth_type %q", acc.Name, acc.AuthType)
		}

		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Name)
		}
		if acc.SMTPHost == "" {
			return fmt.Errorf("account %s: smtp_host is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid smtp_port", acc.Name)
		}
		if acc.Proxy.UseIndependent {
			if err := validateProxy("account "+acc.Name+": proxy", acc.Proxy.ProxyDescriptor); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateProxy(field string, p types.ProxyDescriptor) error {
	if !p.Enabled {
		return nil
	}
	switch p.Protocol {
	case types.ProxyHTTP, types.ProxyHTTPS, types.ProxySOCKS4, types.ProxySOCKS5:
	default:
		return fmt.Errorf("%s: unsupported protocol %q", field, p.Protocol)
	}
	if p.Host == "" {
		return fmt.Errorf("%s: host is required", field)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%s: invalid port", field)
	}
	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
