package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const me = "me"

// Default request throttle
const (
	DefaultRate  = 50
	DefaultBurst = 5
)

// Config configures a Client
type Config struct {
	// TokenSource supplies bearer tokens for every request
	TokenSource oauth2.TokenSource
	// HTTPClient carries the proxy transport, if any
	HTTPClient *http.Client
	// Endpoint overrides the API base URL
	Endpoint string
	Rate     rate.Limit
	Burst    int
}

// Client is a throttled Gmail API v1 client for one account
type Client struct {
	svc     *gmail.Service
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a client
func NewClient(ctx context.Context, cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("gmail: token source is required")
	}

	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	hc := &http.Client{Transport: &oauth2.Transport{Source: cfg.TokenSource, Base: base}}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	limit, burst := cfg.Rate, cfg.Burst
	if limit == 0 {
		limit = DefaultRate
	}
	if burst == 0 {
		burst = DefaultBurst
	}

	return &Client{
		svc:     svc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// ListLabels returns every label with its counts
func (c *Client) ListLabels(ctx context.Context) ([]*gmail.Label, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return resp.Labels, nil
}

// ListMessageIDs pages through messages in labelID matching query until
// max ids are collected. max <= 0 means no limit.
func (c *Client) ListMessageIDs(ctx context.Context, labelID, query string, max int) ([]string, error) {
	call := c.svc.Users.Messages.List(me).Context(ctx)
	if labelID != "" {
		call = call.LabelIds(labelID)
	}
	if query != "" {
		call = call.Q(query)
	}

	var ids []string
	for {
		if max > 0 {
			call = call.MaxResults(int64(max - len(ids)))
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages for query '%s': %w", query, err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if max > 0 && len(ids) == max {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// GetMessage fetches one message in full format
func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := c.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

// Send submits an RFC 5322 message and returns its id
func (c *Client) Send(ctx context.Context, raw []byte) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := c.svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	c.logger.WithField("id", sent.Id).Info("Sent email via Gmail API")
	return sent.Id, nil
}

// Modify adds and removes labels on a message
func (c *Client) Modify(ctx context.Context, id string, add, remove []string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	if _, err := c.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to modify message %s: %w", id, err)
	}
	return nil
}

// Trash moves a message to the trash
func (c *Client) Trash(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.svc.Users.Messages.Trash(me, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to trash message %s: %w", id, err)
	}
	return nil
}

// Untrash restores a message from the trash
func (c *Client) Untrash(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.svc.Users.Messages.Untrash(me, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to untrash message %s: %w", id, err)
	}
	return nil
}

// Delete removes a message permanently
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.svc.Users.Messages.Delete(me, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// CreateLabel creates a user label shown in the label list
func (c *Client) CreateLabel(ctx context.Context, name string) (*gmail.Label, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	created, err := c.svc.Users.Labels.Create(me, label).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create label %s: %w", name, err)
	}
	return created, nil
}

// DeleteLabel removes a user label
func (c *Client) DeleteLabel(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.svc.Users.Labels.Delete(me, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete label %s: %w", id, err)
	}
	return nil
}
