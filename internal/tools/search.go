package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

// SearchEmailsTool searches cached emails
type SearchEmailsTool struct {
	config       *config.Config
	orchestrator *mailsync.Orchestrator
	cacheStore   *cache.Store
	logger       *logrus.Logger
}

// NewSearchEmailsTool creates a new search emails tool
func NewSearchEmailsTool(cfg *config.Config, orchestrator *mailsync.Orchestrator, cacheStore *cache.Store, logger *logrus.Logger) *SearchEmailsTool {
	return &SearchEmailsTool{
		config:       cfg,
		orchestrator: orchestrator,
		cacheStore:   cacheStore,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search cached emails of a folder by state, sender, subject and date range"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder":       folderProperty,
			"filter": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"all", "unread", "read", "flagged", "attachment"},
				"description": "Optional: Message state filter (default: all)",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by sender email/name",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by subject (substring match)",
			},
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Start date (ISO 8601 format)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: End date (ISO 8601 format)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default from config, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acct, err := resolveAccount(t.config, params)
	if err != nil {
		return nil, err
	}

	filter, err := cache.ParseFilter(stringParam(params, "filter"))
	if err != nil {
		return nil, err
	}

	opts := cache.SearchOptions{
		AccountID: acct.ID,
		Filter:    filter,
		Sender:    stringParam(params, "sender"),
		Subject:   stringParam(params, "subject"),
	}

	// folder names resolve the same way a sync does
	folders, err := t.orchestrator.Folders(ctx, acct)
	if err != nil {
		return nil, err
	}
	opts.FolderID = folderParam(params)
	for _, f := range folders {
		if f.ProviderPath == opts.FolderID {
			opts.FolderID = f.ID
			break
		}
	}

	if opts.DateFrom, err = timeParam(params, "date_from"); err != nil {
		return nil, err
	}
	if opts.DateTo, err = timeParam(params, "date_to"); err != nil {
		return nil, err
	}

	if opts.Limit, err = intParam(params, "limit"); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		opts.Limit = t.config.SearchResultLimit
	}

	results, err := t.cacheStore.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	emailList := make([]map[string]interface{}, len(results))
	for i, email := range results {
		emailList[i] = map[string]interface{}{
			"id":      email.ID,
			"folder":  email.FolderID,
			"subject": email.Subject,
			"from":    email.From,
			"date":    email.Date.Format(time.RFC3339),
			"preview": email.Preview,
			"read":    email.Flags.Read,
			"flagged": email.Flags.Flagged,
		}
	}

	return emailList, nil
}
