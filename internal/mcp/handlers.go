package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/ops"
	"github.com/hpungsan/spr/internal/settings"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// SaveRequest represents the arguments for prompt_save.
type SaveRequest struct {
	PromptText     string         `json:"prompt_text"`
	Site           string         `json:"site,omitempty"`
	PageURL        string         `json:"page_url,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// RecentRequest represents the arguments for prompts_recent.
type RecentRequest struct {
	Limit   int  `json:"limit,omitempty"`
	Summary bool `json:"summary,omitempty"`
}

// SettingsRequest represents the arguments for settings_set.
type SettingsRequest struct {
	Recording *bool   `json:"recording,omitempty"`
	ServerURL *string `json:"server_url,omitempty"`
	APIToken  *string `json:"api_token,omitempty"`
	AutoSync  *bool   `json:"auto_sync,omitempty"`
}

// TriggerRequest represents the arguments for sync_trigger.
type TriggerRequest struct {
	Wait *bool `json:"wait,omitempty"`
}

// Handler implementations

// HandleSave handles the prompt_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.SavePrompt(ctx, ops.SavePromptInput{
		Site:           input.Site,
		PageURL:        input.PageURL,
		ConversationID: input.ConversationID,
		PromptText:     input.PromptText,
		Tags:           input.Tags,
		Meta:           input.Meta,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRecent handles the prompts_recent tool call.
func (h *Handlers) HandleRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.GetRecent(ctx, ops.GetRecentInput{Limit: input.Limit, Summary: input.Summary})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStatus handles the sync_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.svc.GetStatus(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSettings handles the settings_set tool call.
func (h *Handlers) HandleSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.SetSettings(ctx, settings.Update{
		Recording: input.Recording,
		ServerURL: input.ServerURL,
		APIToken:  input.APIToken,
		AutoSync:  input.AutoSync,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTrigger handles the sync_trigger tool call.
func (h *Handlers) HandleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TriggerRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	wait := true
	if input.Wait != nil {
		wait = *input.Wait
	}
	result, err := h.svc.TriggerSync(ctx, ops.TriggerSyncInput{Wait: wait})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRetryFailed handles the sync_retry_failed tool call.
func (h *Handlers) HandleRetryFailed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.svc.RetryFailed(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.SPRError
	if stderrors.As(err, &sErr) {
		message := sErr.Message
		// Keep context added by wrapping, e.g. "items[2]: ..."
		if prefix := strings.TrimSuffix(err.Error(), sErr.Error()); prefix != err.Error() {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": message,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
