package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/oauth"
	"github.com/brandon/mailcore/internal/proxy"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/pkg/types"
)

// app holds the components every command works with
type app struct {
	config       *config.Config
	logger       *logrus.Logger
	cache        *cache.Cache
	store        *cache.Store
	credentials  *oauth.Manager
	sessions     *email.Sessions
	orchestrator *mailsync.Orchestrator
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	// stdout carries the JSON-RPC stream
	logger.SetOutput(os.Stderr)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// providers merges configured client credentials into the built-in
// provider table
func providers(cfg *config.Config) map[string]oauth.Provider {
	out := oauth.DefaultProviders()
	for name, c := range cfg.OAuth {
		p, ok := out[name]
		if !ok {
			continue
		}
		if c.ClientID != "" {
			p.ClientID = c.ClientID
		}
		if c.ClientSecret != "" {
			p.ClientSecret = c.ClientSecret
		}
		if c.RedirectURL != "" {
			p.RedirectURL = c.RedirectURL
		}
		out[name] = p
	}
	return out
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	// Initialize cache
	blobs, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	secrets, err := cache.OpenKeyring(cache.KeyringConfig{
		ServiceName:  cfg.Keyring.ServiceName,
		Backend:      cfg.Keyring.Backend,
		FileDir:      cfg.Keyring.FileDir,
		FilePassword: cfg.Keyring.FilePassword,
	})
	if err != nil {
		blobs.Close()
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	store := cache.NewStore(blobs, secrets, logger)

	// A stored descriptor wins over the config file
	initial := cfg.Proxy
	if stored, ok, err := store.ProxyConfig(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load stored proxy settings")
	} else if ok {
		initial = stored
	}
	settings := proxy.NewSettings(initial)
	tunnels := proxy.NewFactory(logger)

	creds := oauth.NewManager(providers(cfg), store, nil, logger)
	creds.SetHTTPClientFunc(func(accountID string) *http.Client {
		var override *types.AccountProxy
		if acc, err := cfg.GetAccountByName(accountID); err == nil {
			override = &acc.Proxy
		}
		return tunnels.HTTPClient(settings.Effective(override))
	})
	sessions := email.NewSessions(tunnels, logger,
		email.WithTimeouts(cfg.Sync.ConnectTimeout, cfg.Sync.ConnectTimeout, cfg.Sync.FetchTimeout))

	orch := mailsync.New(mailsync.Deps{
		Store:       store,
		Credentials: creds,
		Sessions:    sessions,
		SMTP:        email.NewSMTPClient(tunnels, logger),
		Proxy:       settings,
		Tunnels:     tunnels,
	}, mailsync.Options{
		Limit:            cfg.Sync.Limit,
		RESTBatchSize:    cfg.Sync.RESTBatchSize,
		SessionBatchSize: cfg.Sync.SessionBatchSize,
	}, logger)

	return &app{
		config:       cfg,
		logger:       logger,
		cache:        blobs,
		store:        store,
		credentials:  creds,
		sessions:     sessions,
		orchestrator: orch,
	}, nil
}

func (a *app) Close() {
	a.sessions.CloseAll()
	if err := a.cache.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close cache")
	}
}

func (a *app) account(name string) (mailsync.Account, error) {
	if name == "" {
		acc := a.config.GetDefaultAccount()
		if acc == nil {
			return mailsync.Account{}, fmt.Errorf("no accounts configured")
		}
		return mailsync.AccountFromConfig(acc), nil
	}
	acc, err := a.config.GetAccountByName(name)
	if err != nil {
		return mailsync.Account{}, err
	}
	return mailsync.AccountFromConfig(acc), nil
}
