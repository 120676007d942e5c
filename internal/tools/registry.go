package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

// Registry manages MCP tools
type Registry struct {
	config       *config.Config
	logger       *logrus.Logger
	orchestrator *mailsync.Orchestrator
	cacheStore   *cache.Store
	tools        map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, orchestrator *mailsync.Orchestrator, cacheStore *cache.Store, logger *logrus.Logger) *Registry {
	reg := &Registry{
		config:       cfg,
		logger:       logger,
		orchestrator: orchestrator,
		cacheStore:   cacheStore,
		tools:        make(map[string]Tool),
	}

	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	toolList := []Tool{
		NewListFoldersTool(r.config, r.orchestrator, r.logger),
		NewCreateFolderTool(r.config, r.orchestrator, r.logger),
		NewDeleteFolderTool(r.config, r.orchestrator, r.logger),
		NewSyncFolderTool(r.config, r.orchestrator, r.logger),
		NewSearchEmailsTool(r.config, r.orchestrator, r.cacheStore, r.logger),
		NewGetEmailTool(r.config, r.orchestrator, r.cacheStore, r.logger),
		NewSendEmailTool(r.config, r.orchestrator, r.logger),
		NewMarkReadTool(r.config, r.orchestrator, r.logger),
		NewFlagEmailTool(r.config, r.orchestrator, r.logger),
		NewMoveEmailTool(r.config, r.orchestrator, r.logger),
		NewDeleteEmailTool(r.config, r.orchestrator, r.logger),
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
