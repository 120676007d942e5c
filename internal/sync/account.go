// Package sync coordinates credential, session, REST and cache components
// to bring a folder's messages into the local cache.
package sync

import (
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/pkg/types"
)

// Endpoint is one server address with its login
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Account is the orchestrator's view of a configured mail account
type Account struct {
	ID         string
	Email      string
	Provider   string
	OAuth      bool
	IMAP       Endpoint
	SMTP       Endpoint
	DisableTLS bool
	Proxy      types.AccountProxy
}

// AccountFromConfig converts a configured account
func AccountFromConfig(c *config.AccountConfig) Account {
	return Account{
		ID:       c.Name,
		Email:    c.Email,
		Provider: c.Provider,
		OAuth:    c.IsOAuth(),
		IMAP: Endpoint{
			Host:     c.IMAPHost,
			Port:     c.IMAPPort,
			Username: c.IMAPUsername,
			Password: c.IMAPPassword,
		},
		SMTP: Endpoint{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
		},
		DisableTLS: c.DisableTLS,
		Proxy:      c.Proxy,
	}
}

func (a Account) providerName() string {
	if a.Provider == "" {
		return "imap"
	}
	return a.Provider
}
