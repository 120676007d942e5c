package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

// SyncFolderTool pulls a folder's recent messages into the cache
type SyncFolderTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewSyncFolderTool creates a new sync folder tool
func NewSyncFolderTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *SyncFolderTool {
	return &SyncFolderTool{
		config:       cfg,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SyncFolderTool) Name() string {
	return "sync_folder"
}

// Description returns the tool description
func (t *SyncFolderTool) Description() string {
	return "Fetch recent messages of a folder from the server into the local cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncFolderTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Most recent messages to fetch (default from config)",
				"minimum":     1,
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Only messages since this date (YYYY-MM-DD or ISO 8601)",
			},
			"unread_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only unread messages",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}

	limit, err := intParam(params, "limit")
	if err != nil {
		return nil, err
	}
	since, err := timeParam(params, "since")
	if err != nil {
		return nil, err
	}

	res, err := t.orchestrator.SyncFolder(ctx, acct, folderParam(params), mailsync.SyncOptions{
		Limit:      limit,
		Since:      since,
		UnreadOnly: boolParam(params, "unread_only", false),
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
