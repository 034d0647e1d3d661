package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/spr/internal/config"
	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/ops"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/syncer"
)

// testSetup creates a temporary database and service for testing.
func testSetup(t *testing.T) (*ops.Service, *config.Config) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	kv := db.NewKV(database)
	cfg := config.DefaultConfig()
	if _, _, err := settings.NewManager(kv).InitDefaults(context.Background()); err != nil {
		t.Fatalf("failed to init settings: %v", err)
	}

	j := journal.New(kv, cfg.MaxEvents)
	s := syncer.New(kv, j, delivery.NewHTTPClient(nil, time.Second), syncer.Options{})
	t.Cleanup(s.Wait)

	return ops.NewService(ops.Deps{Store: kv, Config: cfg, Journal: j, Syncer: s}), cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultJSON decodes the text content of a tool result.
func resultJSON(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty result content")
	}
	text, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", r.Content[0])
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return out
}

func errorCode(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	errObj, ok := resultJSON(t, r)["error"].(map[string]any)
	if !ok {
		t.Fatal("expected error object")
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestHandleSave(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "save valid prompt",
			args: map[string]any{
				"prompt_text": "what is a WAL checkpoint",
				"site":        "chatgpt",
				"tags":        []any{"sqlite"},
				"meta":        map[string]any{"submitMethod": "enter"},
			},
		},
		{
			name:      "save without prompt_text",
			args:      map[string]any{"site": "chatgpt"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "save with wrong tags type",
			args:      map[string]any{"prompt_text": "x", "tags": "not-a-list"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleSave(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected Go error: %v", err)
			}
			if result.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v", result.IsError, tt.wantError)
			}
			if tt.wantError {
				if got := errorCode(t, result); got != tt.errorCode {
					t.Errorf("error code = %s, want %s", got, tt.errorCode)
				}
				return
			}
			out := resultJSON(t, result)
			if out["captured"] != true {
				t.Errorf("captured = %v, want true", out["captured"])
			}
		})
	}
}

func TestHandleSave_Duplicate(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)
	ctx := context.Background()
	args := map[string]any{"prompt_text": "same", "site": "claude"}

	first, _ := h.HandleSave(ctx, makeRequest(args))
	if first.IsError {
		t.Fatal("first save failed")
	}
	second, _ := h.HandleSave(ctx, makeRequest(args))
	out := resultJSON(t, second)
	if out["captured"] != false || out["reason"] != "duplicate" {
		t.Errorf("unexpected duplicate result: %v", out)
	}
}

func TestHandleRecent(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		if r, _ := h.HandleSave(ctx, makeRequest(map[string]any{"prompt_text": text})); r.IsError {
			t.Fatalf("save %q failed", text)
		}
	}

	result, err := h.HandleRecent(ctx, makeRequest(map[string]any{"limit": 1}))
	if err != nil || result.IsError {
		t.Fatalf("recent failed: %v", err)
	}
	out := resultJSON(t, result)
	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].(map[string]any)["promptText"] != "second" {
		t.Errorf("newest item = %v", items[0])
	}
	if out["total"] != float64(2) {
		t.Errorf("total = %v, want 2", out["total"])
	}
}

func TestHandleStatus(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)

	result, err := h.HandleStatus(context.Background(), makeRequest(nil))
	if err != nil || result.IsError {
		t.Fatalf("status failed: %v", err)
	}
	out := resultJSON(t, result)
	if out["recording"] != true || out["autoSync"] != true {
		t.Errorf("unexpected defaults: %v", out)
	}
	if _, ok := out["apiToken"]; ok {
		t.Error("token must never be returned")
	}
}

func TestHandleSettings(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)
	ctx := context.Background()

	result, _ := h.HandleSettings(ctx, makeRequest(map[string]any{
		"server_url": "https://spr.example/api/",
		"api_token":  "secret",
	}))
	if result.IsError {
		t.Fatalf("settings failed: %v", resultJSON(t, result))
	}
	out := resultJSON(t, result)
	if out["apiTokenSet"] != true {
		t.Errorf("apiTokenSet = %v", out["apiTokenSet"])
	}
	if strings.Contains(fmt.Sprint(out), "secret") {
		t.Error("token leaked in result")
	}

	result, _ = h.HandleSettings(ctx, makeRequest(map[string]any{}))
	if !result.IsError || errorCode(t, result) != "INVALID_REQUEST" {
		t.Error("expected INVALID_REQUEST for empty settings")
	}

	result, _ = h.HandleSettings(ctx, makeRequest(map[string]any{"server_url": "gopher://x"}))
	if !result.IsError {
		t.Error("expected error for unsupported scheme")
	}
}

func TestHandleTrigger_NotConfigured(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)

	result, err := h.HandleTrigger(context.Background(), makeRequest(nil))
	if err != nil || result.IsError {
		t.Fatalf("trigger failed: %v", err)
	}
	out := resultJSON(t, result)
	res := out["result"].(map[string]any)
	if res["skipReason"] != "not_configured" {
		t.Errorf("skipReason = %v", res["skipReason"])
	}
}

func TestHandleRetryFailed_Empty(t *testing.T) {
	svc, _ := testSetup(t)
	h := NewHandlers(svc)

	result, err := h.HandleRetryFailed(context.Background(), makeRequest(nil))
	if err != nil || result.IsError {
		t.Fatalf("retry failed: %v", err)
	}
	out := resultJSON(t, result)
	if reset := out["reset"].([]any); len(reset) != 0 {
		t.Errorf("reset = %v, want empty", reset)
	}
}

func TestServerRegistration(t *testing.T) {
	svc, cfg := testSetup(t)

	s := NewServer(svc, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"prompt_save",
		"prompts_recent",
		"sync_status",
		"settings_set",
		"sync_trigger",
		"sync_retry_failed",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	svc, cfg := testSetup(t)
	cfg.DisabledTools = []string{"settings_set", "sync_retry_failed"}

	tools := NewServer(svc, cfg, "test").ListTools()
	if len(tools) != 4 {
		t.Errorf("registered tool count = %d, want 4", len(tools))
	}
	if _, ok := tools["settings_set"]; ok {
		t.Error("settings_set should be disabled")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	svc, cfg := testSetup(t)
	cfg.DisabledTools = AllToolNames()

	if tools := NewServer(svc, cfg, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"all valid", []string{"prompt_save", "sync_status"}, []string{}},
		{"one unknown", []string{"prompt_save", "prompt_delete"}, []string{"prompt_delete"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDisabledTools(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Fatalf("AllToolNames = %d names, want %d", len(names), len(toolRegistry))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := resultJSON(t, r)["error"].(map[string]any)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("poll: %w", errors.NewNotConfigured("server url"))

	errObj := resultJSON(t, errorResult(wrappedErr))["error"].(map[string]any)
	if errObj["code"] != string(errors.ErrNotConfigured) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotConfigured)
	}
	msg := errObj["message"].(string)
	if !strings.HasPrefix(msg, "poll: ") || !strings.Contains(msg, "server url is not configured") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := resultJSON(t, errorResult(errors.NewNotFound("abc")))["error"].(map[string]any)
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Error("expected details for NOT_FOUND")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := resultJSON(t, errorResult(fmt.Errorf("boom")))["error"].(map[string]any)
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("unexpected error object: %v", errObj)
	}
}
