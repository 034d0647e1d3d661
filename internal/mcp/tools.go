package mcp

import "github.com/mark3labs/mcp-go/mcp"

var saveToolDef = mcp.NewTool("prompt_save",
	mcp.WithTitleAnnotation("Save Prompt"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(false),
	mcp.WithDescription("Capture a prompt into the local journal and queue it for delivery. "+
		"Duplicates of the previous capture and captures while recording is off are dropped."),
	mcp.WithString("prompt_text", mcp.Required(), mcp.Description("The prompt text")),
	mcp.WithString("site", mcp.Description("Origin label, e.g. chatgpt (default: unknown)")),
	mcp.WithString("page_url", mcp.Description("Page the prompt was typed on")),
	mcp.WithString("conversation_id", mcp.Description("Conversation identifier, if the site has one")),
	mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Free-form tags")),
	mcp.WithObject("meta", mcp.Description("Extra capture metadata")),
)

var recentToolDef = mcp.NewTool("prompts_recent",
	mcp.WithTitleAnnotation("Recent Prompts"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithDescription("List the most recently captured prompts, newest first."),
	mcp.WithNumber("limit", mcp.Description("Max prompts to return (default from config, max 100)")),
	mcp.WithBoolean("summary", mcp.Description("Return previews instead of full text")),
)

var statusToolDef = mcp.NewTool("sync_status",
	mcp.WithTitleAnnotation("Sync Status"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithDescription("Show settings, queue counts and the last sync result."),
)

var settingsToolDef = mcp.NewTool("settings_set",
	mcp.WithTitleAnnotation("Change Settings"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithDescription("Change settings. Omitted fields are left unchanged; an empty api_token clears it."),
	mcp.WithBoolean("recording", mcp.Description("Capture prompts")),
	mcp.WithString("server_url", mcp.Description("Server base URL including /api")),
	mcp.WithString("api_token", mcp.Description("Bearer token")),
	mcp.WithBoolean("auto_sync", mcp.Description("Queue and deliver captures automatically")),
)

var triggerToolDef = mcp.NewTool("sync_trigger",
	mcp.WithTitleAnnotation("Sync Now"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
	mcp.WithDescription("Run a sync cycle now."),
	mcp.WithBoolean("wait", mcp.Description("Wait for the cycle and return its result (default true)")),
)

var retryFailedToolDef = mcp.NewTool("sync_retry_failed",
	mcp.WithTitleAnnotation("Retry Failed"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
	mcp.WithDescription("Return failed and dead-lettered prompts to the queue and start a cycle."),
)
