package tools

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/pkg/types"
)

// SendEmailTool sends a new email
type SendEmailTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewSendEmailTool creates a new send email tool
func NewSendEmailTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *SendEmailTool {
	return &SendEmailTool{
		config:       cfg,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Send a new email with support for text, HTML, attachments, CC, BCC"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient email address(es) (comma-separated)",
			},
			"cc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: CC recipients (comma-separated)",
			},
			"bcc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: BCC recipients (comma-separated)",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject",
			},
			"body_text": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Plain text body",
			},
			"body_html": map[string]interface{}{
				"type":        "string",
				"description": "Optional: HTML body",
			},
			"attachments": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Array of local file paths to attach",
			},
			"reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Reply-To header",
			},
			"in_reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: In-Reply-To header (for replies)",
			},
		},
		"required": []string{"to", "subject"},
	}
}

// Execute executes the tool
func (t *SendEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}

	to := listParam(params, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("to is required")
	}

	subject := stringParam(params, "subject")
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	msg := &types.OutgoingMessage{
		From:      acct.Email,
		To:        to,
		Cc:        listParam(params, "cc"),
		Bcc:       listParam(params, "bcc"),
		Subject:   subject,
		ReplyTo:   stringParam(params, "reply_to"),
		InReplyTo: stringParam(params, "in_reply_to"),
	}
	msg.BodyText, _ = params["body_text"].(string)
	msg.BodyHTML, _ = params["body_html"].(string)

	// Ensure at least one body is set
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return nil, fmt.Errorf("either body_text or body_html is required")
	}

	for _, path := range listParam(params, "attachments") {
		att, err := readAttachment(path)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := t.orchestrator.Send(ctx, acct, msg); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"success": true,
		"message": "Email sent successfully",
	}, nil
}

func readAttachment(path string) (types.OutgoingAttachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return types.OutgoingAttachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return types.OutgoingAttachment{
		Filename: filepath.Base(path),
		Content:  content,
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}
