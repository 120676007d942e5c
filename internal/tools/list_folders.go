package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

// ListFoldersTool lists an account's canonical and custom folders
type ListFoldersTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewListFoldersTool creates a new list folders tool
func NewListFoldersTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *ListFoldersTool {
	return &ListFoldersTool{
		config:       cfg,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List folders for an email account, optionally refreshing them from the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"refresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Fetch the folder list from the server first (default: false)",
			},
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}

	if boolParam(params, "refresh", false) {
		folders, err := t.orchestrator.SyncFolders(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh folders: %w", err)
		}
		return folders, nil
	}

	folders, err := t.orchestrator.Folders(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// CreateFolderTool creates a mailbox or label
type CreateFolderTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewCreateFolderTool creates a new create folder tool
func NewCreateFolderTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *CreateFolderTool {
	return &CreateFolderTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *CreateFolderTool) Name() string {
	return "create_folder"
}

// Description returns the tool description
func (t *CreateFolderTool) Description() string {
	return "Create a folder (a label on Gmail) and return the refreshed folder list"
}

// InputSchema returns the JSON schema for tool inputs
func (t *CreateFolderTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Provider-native name of the new folder",
			},
		},
		"required": []string{"name"},
	}
}

// Execute executes the tool
func (t *CreateFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	name := stringParam(params, "name")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	folders, err := t.orchestrator.CreateFolder(ctx, acct, name)
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// DeleteFolderTool deletes a custom folder
type DeleteFolderTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewDeleteFolderTool creates a new delete folder tool
func NewDeleteFolderTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *DeleteFolderTool {
	return &DeleteFolderTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *DeleteFolderTool) Name() string {
	return "delete_folder"
}

// Description returns the tool description
func (t *DeleteFolderTool) Description() string {
	return "Delete a custom folder on the server along with its cached emails"
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteFolderTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Folder id or provider mailbox name",
			},
		},
		"required": []string{"folder"},
	}
}

// Execute executes the tool
func (t *DeleteFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	folder := stringParam(params, "folder")
	if folder == "" {
		return nil, fmt.Errorf("folder is required")
	}
	if err := t.orchestrator.DeleteFolder(ctx, acct, folder); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "folder": folder}, nil
}
