package email

import (
	"fmt"
	"net/smtp"

	"github.com/emersion/go-sasl"
)

const xoauth2 = "XOAUTH2"

// xoauth2Client implements the XOAUTH2 mechanism still required by
// Outlook, which offers no OAUTHBEARER.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	ir := "user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"
	return xoauth2, []byte(ir), nil
}

// Next receives the server's JSON error challenge; answering with an
// empty response lets the server finish with a tagged NO.
func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if len(challenge) > 0 {
		return []byte{}, nil
	}
	return nil, fmt.Errorf("xoauth2: unexpected server challenge")
}

// smtpAuth adapts a SASL client to net/smtp
type smtpAuth struct {
	client sasl.Client
}

func (a smtpAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a smtpAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
