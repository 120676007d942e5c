package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/pkg/types"
)

// GetEmailTool retrieves a full cached email by ID
type GetEmailTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	cacheStore   *cache.Store
	logger       *logrus.Logger
}

// NewGetEmailTool creates a new get email tool
func NewGetEmailTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, cacheStore *cache.Store, logger *logrus.Logger) *GetEmailTool {
	return &GetEmailTool{
		config:       cfg,
		orchestrator: orchestrator,
		cacheStore:   cacheStore,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve a full email by ID from the cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "string",
				"description": "Email ID (from search results)",
			},
			"account_name": accountProperty,
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Folder id; every cached folder is searched if omitted",
			},
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID := stringParam(params, "email_id")
	if emailID == "" {
		return nil, fmt.Errorf("email_id is required")
	}

	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}

	if folder := stringParam(params, "folder"); folder != "" {
		m, err := t.cacheStore.GetMail(ctx, acct.ID, folder, emailID)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	folders, err := t.orchestrator.Folders(ctx, acct)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		mails, err := t.cacheStore.Mails(ctx, acct.ID, f.ID)
		if err != nil {
			return nil, err
		}
		if m := find(mails, emailID); m != nil {
			return m, nil
		}
	}

	t.logger.WithFields(logrus.Fields{
		"account":  acct.ID,
		"email_id": emailID,
	}).Debug("Email not in cache")
	return nil, fmt.Errorf("email not found: %s", emailID)
}

func find(mails []types.MailRecord, id string) *types.MailRecord {
	for i := range mails {
		if mails[i].ID == id {
			return &mails[i]
		}
	}
	return nil
}
