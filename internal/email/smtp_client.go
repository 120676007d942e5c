package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/proxy"
	"github.com/brandon/mailcore/pkg/types"
)

// SMTPConfig describes one account's submission endpoint
type SMTPConfig struct {
	AccountID  string
	Host       string
	Port       int
	Username   string
	Secret     string
	Auth       AuthMethod
	DisableTLS bool
	Proxy      types.ProxyDescriptor
}

// SMTPClient submits composed messages, through the account's proxy
// tunnel when one is configured
type SMTPClient struct {
	tunnels TunnelFactory
	dial    proxy.DialFunc
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(tunnels TunnelFactory, logger *logrus.Logger) *SMTPClient {
	var d net.Dialer
	return &SMTPClient{
		tunnels: tunnels,
		dial:    d.DialContext,
		logger:  logger,
		timeout: ConnectTimeout,
		now:     time.Now,
	}
}

// SetDialer replaces the direct dialer
func (c *SMTPClient) SetDialer(dial proxy.DialFunc) {
	c.dial = dial
}

// Send composes msg and submits it
func (c *SMTPClient) Send(ctx context.Context, cfg SMTPConfig, msg *types.OutgoingMessage) error {
	if msg.From == "" {
		m := *msg
		m.From = cfg.Username
		msg = &m
	}
	body, err := Compose(msg, c.now())
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	sender, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if cfg.Port != 465 && !cfg.DisableTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig(cfg.Host)); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if auth := c.auth(client, cfg); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(sender.Address); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range msg.Recipients() {
		addr := to
		if a, err := mail.ParseAddress(to); err == nil {
			addr = a.Address
		}
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account":    cfg.AccountID,
		"recipients": len(msg.Recipients()),
	}).Info("Sent email")

	return client.Quit()
}

// open returns the transport; port 465 is implicit TLS
func (c *SMTPClient) open(ctx context.Context, cfg SMTPConfig) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if c.tunnels != nil {
		if conn, err = c.tunnels.Create(ctx, cfg.Proxy, cfg.Host, cfg.Port); err != nil {
			return nil, err
		}
	}
	if conn == nil {
		conn, err = c.dial(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		if err != nil {
			return nil, err
		}
	}

	if cfg.Port != 465 || cfg.DisableTLS {
		return conn, nil
	}
	tlsConn := tls.Client(conn, tlsConfig(cfg.Host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (c *SMTPClient) auth(client *smtp.Client, cfg SMTPConfig) smtp.Auth {
	if cfg.Secret == "" {
		return nil
	}
	if cfg.Auth != AuthOAuth2 {
		return smtp.PlainAuth("", cfg.Username, cfg.Secret, cfg.Host)
	}

	_, mechs := client.Extension("AUTH")
	for _, m := range strings.Fields(mechs) {
		if strings.EqualFold(m, sasl.OAuthBearer) {
			return smtpAuth{client: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
				Username: cfg.Username,
				Token:    cfg.Secret,
				Host:     cfg.Host,
				Port:     cfg.Port,
			})}
		}
	}
	return smtpAuth{client: newXOAuth2Client(cfg.Username, cfg.Secret)}
}

func tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}
