package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

var emailIDsProperty = map[string]interface{}{
	"type":        "array",
	"items":       map[string]interface{}{"type": "string"},
	"description": "Email IDs (from search results)",
}

func emailIDs(params map[string]interface{}) ([]string, error) {
	ids := listParam(params, "email_ids")
	if len(ids) == 0 {
		return nil, fmt.Errorf("email_ids is required")
	}
	return ids, nil
}

func done(n int) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"count":   n,
	}
}

// MarkReadTool sets or clears the read state
type MarkReadTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewMarkReadTool creates a new mark read tool
func NewMarkReadTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *MarkReadTool {
	return &MarkReadTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *MarkReadTool) Name() string {
	return "mark_read"
}

// Description returns the tool description
func (t *MarkReadTool) Description() string {
	return "Mark cached emails read or unread on the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MarkReadTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"email_ids":    emailIDsProperty,
			"read": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: false marks the emails unread (default: true)",
			},
		},
		"required": []string{"email_ids"},
	}
}

// Execute executes the tool
func (t *MarkReadTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	ids, err := emailIDs(params)
	if err != nil {
		return nil, err
	}
	if err := t.orchestrator.SetRead(ctx, acct, folderParam(params), ids, boolParam(params, "read", true)); err != nil {
		return nil, err
	}
	return done(len(ids)), nil
}

// FlagEmailTool stars or unstars emails
type FlagEmailTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewFlagEmailTool creates a new flag email tool
func NewFlagEmailTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *FlagEmailTool {
	return &FlagEmailTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *FlagEmailTool) Name() string {
	return "flag_email"
}

// Description returns the tool description
func (t *FlagEmailTool) Description() string {
	return "Flag (star) or unflag cached emails on the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FlagEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"email_ids":    emailIDsProperty,
			"flagged": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: false removes the flag (default: true)",
			},
		},
		"required": []string{"email_ids"},
	}
}

// Execute executes the tool
func (t *FlagEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	ids, err := emailIDs(params)
	if err != nil {
		return nil, err
	}
	if err := t.orchestrator.SetFlagged(ctx, acct, folderParam(params), ids, boolParam(params, "flagged", true)); err != nil {
		return nil, err
	}
	return done(len(ids)), nil
}

// MoveEmailTool moves emails to another folder
type MoveEmailTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewMoveEmailTool creates a new move email tool
func NewMoveEmailTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *MoveEmailTool {
	return &MoveEmailTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *MoveEmailTool) Name() string {
	return "move_email"
}

// Description returns the tool description
func (t *MoveEmailTool) Description() string {
	return "Move cached emails to another folder on the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MoveEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"email_ids":    emailIDsProperty,
			"destination": map[string]interface{}{
				"type":        "string",
				"description": "Destination folder id or provider mailbox name",
			},
		},
		"required": []string{"email_ids", "destination"},
	}
}

// Execute executes the tool
func (t *MoveEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	ids, err := emailIDs(params)
	if err != nil {
		return nil, err
	}
	dest := stringParam(params, "destination")
	if dest == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if err := t.orchestrator.Move(ctx, acct, folderParam(params), ids, dest); err != nil {
		return nil, err
	}
	return done(len(ids)), nil
}

// DeleteEmailTool deletes emails on the server
type DeleteEmailTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	logger       *logrus.Logger
}

// NewDeleteEmailTool creates a new delete email tool
func NewDeleteEmailTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) *DeleteEmailTool {
	return &DeleteEmailTool{config: cfg, orchestrator: orchestrator, logger: logger}
}

// Name returns the tool name
func (t *DeleteEmailTool) Name() string {
	return "delete_email"
}

// Description returns the tool description
func (t *DeleteEmailTool) Description() string {
	return "Delete cached emails on the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"email_ids":    emailIDsProperty,
		},
		"required": []string{"email_ids"},
	}
}

// Execute executes the tool
func (t *DeleteEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}
	ids, err := emailIDs(params)
	if err != nil {
		return nil, err
	}
	if err := t.orchestrator.Delete(ctx, acct, folderParam(params), ids); err != nil {
		return nil, err
	}
	return done(len(ids)), nil
}
