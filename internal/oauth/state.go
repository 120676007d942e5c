package oauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// StateTTL bounds how long an authorization round trip may take
const StateTTL = 5 * time.Minute

// AuthURL builds the consent URL for provider and returns it with the
// state value the callback must echo back.
func (m *Manager) AuthURL(providerName, email string) (string, string, error) {
	p, ok := m.providers[providerName]
	if !ok {
		return "", "", fmt.Errorf("unknown oauth provider %q", providerName)
	}

	state := newState(email, m.now())
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if email != "" && providerName == ProviderGmail {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", email))
	}
	return p.config().AuthCodeURL(state, opts...), state, nil
}

// ValidateState checks that state was issued for email within StateTTL
func (m *Manager) ValidateState(state, email string) error {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return fmt.Errorf("invalid oauth state: %w", err)
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) < 3 {
		return errors.New("invalid oauth state")
	}
	issuedFor := strings.Join(parts[:len(parts)-2], ":")
	ms, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return errors.New("invalid oauth state timestamp")
	}

	if issuedFor != email {
		return errors.New("oauth state issued for a different account")
	}
	if m.now().Sub(time.UnixMilli(ms)) > StateTTL {
		return errors.New("oauth state expired")
	}
	return nil
}

func newState(email string, now time.Time) string {
	raw := fmt.Sprintf("%s:%d:%s", email, now.UnixMilli(), uuid.NewString())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
