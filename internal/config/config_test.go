package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
cache_path: /tmp/mail.db
log_level: debug
sync:
  limit: 20
  fetch_timeout: 90s
proxy:
  enabled: true
  protocol: socks5
  host: 127.0.0.1
  port: 1080
accounts:
  - name: work
    email: bob@example.org
    imap_host: imap.example.org
    imap_password: secret
    smtp_host: smtp.example.org
    proxy:
      use_independent: true
      enabled: true
      protocol: http
      host: proxy.example.org
      port: 3128
  - name: personal
    email: bob@gmail.com
    provider: gmail
    auth_type: oauth2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mail.db", cfg.CachePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 100, cfg.SearchResultLimit)
	assert.Equal(t, 20, cfg.Sync.Limit)
	assert.Equal(t, 10, cfg.Sync.RESTBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.ConnectTimeout)
	assert.Equal(t, 90*time.Second, cfg.Sync.FetchTimeout)
	assert.Equal(t, "mailcore", cfg.Keyring.ServiceName)

	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, types.ProxySOCKS5, cfg.Proxy.Protocol)
	assert.Equal(t, 1080, cfg.Proxy.Port)

	require.Len(t, cfg.Accounts, 2)
	work := cfg.Accounts[0]
	assert.Equal(t, AuthPassword, work.AuthType)
	assert.Equal(t, 993, work.IMAPPort)
	assert.Equal(t, 587, work.SMTPPort)
	assert.Equal(t, "bob@example.org", work.IMAPUsername)
	assert.Equal(t, "bob@example.org", work.SMTPUsername)
	assert.Equal(t, "secret", work.SMTPPassword)
	assert.True(t, work.Proxy.UseIndependent)
	assert.Equal(t, types.ProxyHTTP, work.Proxy.Protocol)
	assert.Equal(t, "proxy.example.org", work.Proxy.Host)

	gmail := cfg.Accounts[1]
	assert.True(t, gmail.IsOAuth())
	assert.Equal(t, "imap.gmail.com", gmail.IMAPHost)
	assert.Equal(t, "smtp.gmail.com", gmail.SMTPHost)
	assert.Equal(t, 465, gmail.SMTPPort)

	assert.Equal(t, []string{"work", "personal"}, cfg.AccountNames())
	assert.Equal(t, "work", cfg.GetDefaultAccount().Name)
}

func TestLoadPrefixedEnv(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: default
    email: bob@example.org
    imap_host: imap.example.org
    imap_password: secret
    smtp_host: smtp.example.org
`)
	t.Setenv("MAILCORE_LOG_LEVEL", "warn")
	t.Setenv("MAILCORE_SYNC_LIMIT", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Sync.Limit)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.org")
	t.Setenv("IMAP_PORT", "1993")
	t.Setenv("IMAP_USERNAME", "bob@example.org")
	t.Setenv("IMAP_PASSWORD", "secret")
	t.Setenv("SMTP_HOST", "smtp.example.org")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)

	acc := cfg.Accounts[0]
	assert.Equal(t, "default", acc.Name)
	assert.Equal(t, 1993, acc.IMAPPort)
	assert.Equal(t, 587, acc.SMTPPort)
	assert.Equal(t, "bob@example.org", acc.Email)
	assert.Equal(t, "secret", acc.SMTPPassword)
}

func TestLoadNumberedEnv(t *testing.T) {
	t.Setenv("ACCOUNT_1_NAME", "one")
	t.Setenv("ACCOUNT_1_EMAIL", "one@example.org")
	t.Setenv("ACCOUNT_1_IMAP_HOST", "imap.example.org")
	t.Setenv("ACCOUNT_1_IMAP_PASSWORD", "p1")
	t.Setenv("ACCOUNT_1_SMTP_HOST", "smtp.example.org")
	t.Setenv("ACCOUNT_2_NAME", "two")
	t.Setenv("ACCOUNT_2_EMAIL", "two@outlook.com")
	t.Setenv("ACCOUNT_2_PROVIDER", "outlook")
	t.Setenv("ACCOUNT_2_AUTH_TYPE", "oauth2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "outlook.office365.com", cfg.Accounts[1].IMAPHost)

	acc, err := cfg.GetAccountByName("two")
	require.NoError(t, err)
	assert.Equal(t, "two@outlook.com", acc.IMAPUsername)

	_, err = cfg.GetAccountByName("three")
	assert.ErrorContains(t, err, "account not found")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load("")
	assert.ErrorContains(t, err, "no accounts")
}

func validConfig() *Config {
	return &Config{
		CachePath:         "/tmp/mail.db",
		SearchResultLimit: 100,
		Sync:              SyncConfig{Limit: 50},
		Accounts: []AccountConfig{{
			Name:         "default",
			AuthType:     AuthPassword,
			IMAPHost:     "imap.example.org",
			IMAPPort:     993,
			IMAPPassword: "secret",
			SMTPHost:     "smtp.example.org",
			SMTPPort:     587,
		}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"cache path":    {func(c *Config) { c.CachePath = "" }, "cache_path"},
		"search limit":  {func(c *Config) { c.SearchResultLimit = 5000 }, "search_result_limit"},
		"sync limit":    {func(c *Config) { c.Sync.Limit = 0 }, "sync.limit"},
		"no accounts":   {func(c *Config) { c.Accounts = nil }, "at least one account"},
		"duplicate":     {func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }, "duplicate name"},
		"password":      {func(c *Config) { c.Accounts[0].IMAPPassword = "" }, "imap_password"},
		"auth type":     {func(c *Config) { c.Accounts[0].AuthType = "kerberos" }, "unknown auth_type"},
		"oauth":         {func(c *Config) { c.Accounts[0].AuthType = AuthOAuth2 }, "provider is required"},
		"imap port":     {func(c *Config) { c.Accounts[0].IMAPPort = 70000 }, "imap_port"},
		"smtp host":     {func(c *Config) { c.Accounts[0].SMTPHost = "" }, "smtp_host"},
		"proxy protcol": {func(c *Config) { c.Proxy = types.ProxyDescriptor{Enabled: true, Protocol: "ftp", Host: "h", Port: 1} }, "unsupported protocol"},
		"proxy host":    {func(c *Config) { c.Proxy = types.ProxyDescriptor{Enabled: true, Protocol: types.ProxySOCKS4, Port: 1} }, "host is required"},
		"account proxy": {
			func(c *Config) {
				c.Accounts[0].Proxy = types.AccountProxy{
					UseIndependent:  true,
					ProxyDescriptor: types.ProxyDescriptor{Enabled: true, Protocol: types.ProxyHTTP, Host: "h"},
				}
			},
			"account default: proxy: invalid port",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	// a disabled proxy is never checked
	cfg := validConfig()
	cfg.Proxy = types.ProxyDescriptor{Protocol: "ftp"}
	assert.NoError(t, cfg.Validate())
}
