package prompt

import (
	"encoding/json"
	"time"
)

// Status is the delivery status of a captured prompt.
type Status string

const (
	StatusLocal   Status = "local"   // captured while auto-sync was off; never queued
	StatusPending Status = "pending" // queued, waiting for a sync cycle
	StatusSending Status = "sending" // handed to the delivery client
	StatusSynced  Status = "synced"  // accepted by the server (terminal)
	StatusFailed  Status = "failed"  // last attempt failed; retried after backoff
	StatusDead    Status = "dead"    // gave up after max attempts (terminal until a manual retry)
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusLocal, StatusPending, StatusSending, StatusSynced, StatusFailed, StatusDead:
		return true
	}
	return false
}

// Terminal reports whether no automatic delivery attempt will follow.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusDead
}

// Retryable reports whether the operator "retry failed" action applies.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusDead
}

// Event is one captured prompt submission as kept in the local journal.
type Event struct {
	// LocalID is a ULID, unique within the local journal
	LocalID string `json:"localId"`

	// DeviceID and ClientEventID form the idempotency key the server deduplicates on
	DeviceID      string `json:"deviceId"`
	ClientEventID string `json:"clientEventId"`

	CreatedAt time.Time `json:"createdAt"`

	// Site is the origin label (e.g. "chatgpt"), PageURL the page the text came from
	Site           string `json:"site"`
	PageURL        string `json:"pageUrl,omitempty"`
	TabURL         string `json:"tabUrl,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	PromptText string `json:"promptText"`

	// PromptHash is the SHA-256 of PromptText (exact duplicate detection and server-side hash)
	PromptHash string `json:"promptHash"`

	// EventFingerprint is FNV-1a over site|conversation|text|bucket
	EventFingerprint string `json:"eventFingerprint"`
	CaptureBucket    int64  `json:"captureBucket"`

	Meta     map[string]any  `json:"meta,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Analysis json.RawMessage `json:"analysis,omitempty"`

	SyncStatus   Status     `json:"syncStatus"`
	SyncAttempts int        `json:"syncAttempts"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
	SyncError    string     `json:"syncError,omitempty"`
}

// Summary is an Event without the heavy fields, used for recent-prompt listings.
type Summary struct {
	LocalID        string    `json:"localId"`
	CreatedAt      time.Time `json:"createdAt"`
	Site           string    `json:"site"`
	PageURL        string    `json:"pageUrl,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Preview        string    `json:"preview"`
	LengthChars    int       `json:"lengthChars"`
	Tags           []string  `json:"tags,omitempty"`
	SyncStatus     Status    `json:"syncStatus"`
	SyncAttempts   int       `json:"syncAttempts"`
	SyncError      string    `json:"syncError,omitempty"`
}

// PreviewChars is the rune length of Summary.Preview.
const PreviewChars = 160

// ToSummary converts an Event to a Summary by truncating the text.
func (e *Event) ToSummary() Summary {
	return Summary{
		LocalID:        e.LocalID,
		CreatedAt:      e.CreatedAt,
		Site:           e.Site,
		PageURL:        e.PageURL,
		ConversationID: e.ConversationID,
		Preview:        Truncate(e.PromptText, PreviewChars),
		LengthChars:    CountChars(e.PromptText),
		Tags:           e.Tags,
		SyncStatus:     e.SyncStatus,
		SyncAttempts:   e.SyncAttempts,
		SyncError:      e.SyncError,
	}
}
