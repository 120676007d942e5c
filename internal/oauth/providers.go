package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Provider describes an OAuth2 mail provider
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	Scopes       []string
	// RESTCapable providers are synced through their HTTP API instead of IMAP
	RESTCapable bool
}

func (p Provider) config() *oauth2.Config {
	endpoint := p.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       p.Scopes,
	}
}

// Built-in provider names
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// DefaultProviders returns the built-in providers without client credentials
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderGmail: {
			Name:     ProviderGmail,
			Endpoint: google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.modify",
				"https://www.googleapis.com/auth/gmail.labels",
			},
			RESTCapable: true,
		},
		ProviderOutlook: {
			Name:     ProviderOutlook,
			Endpoint: microsoft.AzureADEndpoint("common"),
			Scopes: []string{
				"https://outlook.office.com/IMAP.AccessAsUser.All",
				"https://outlook.office.com/SMTP.Send",
				"offline_access",
			},
		},
	}
}
