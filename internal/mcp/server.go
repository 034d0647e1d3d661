package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/spr/internal/config"
	"github.com/hpungsan/spr/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"prompt_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"prompts_recent": {
		def:     recentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecent },
	},
	"sync_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"settings_set": {
		def:     settingsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettings },
	},
	"sync_trigger": {
		def:     triggerToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrigger },
	},
	"sync_retry_failed": {
		def:     retryFailedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRetryFailed },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the SPR tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(svc *ops.Service, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"spr",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc *ops.Service, cfg *config.Config, version string) error {
	s := NewServer(svc, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
