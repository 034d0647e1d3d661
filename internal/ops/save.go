package ops

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/outbox"
	"github.com/hpungsan/spr/internal/prompt"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/syncer"
)

// Reasons a capture was not stored.
const (
	SkipRecordingOff = "recording_off"
	SkipDuplicate    = "duplicate"
)

// SavePromptInput contains parameters for the SavePrompt operation.
type SavePromptInput struct {
	Site           string          `json:"site"`       // default: "unknown"
	PageURL        string          `json:"pageUrl"`    // optional
	TabURL         string          `json:"tabUrl"`     // optional, page the capture was sent from
	ConversationID string          `json:"conversationId"`
	PromptText     string          `json:"promptText"` // required
	Meta           map[string]any  `json:"meta"`
	Tags           []string        `json:"tags"`
	Analysis       json.RawMessage `json:"analysis"` // opaque
}

// SavePromptOutput contains the result of the SavePrompt operation.
type SavePromptOutput struct {
	Captured    bool          `json:"captured"`
	LocalID     string        `json:"localId,omitempty"`
	SyncStatus  prompt.Status `json:"syncStatus,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	DuplicateOf string        `json:"duplicateOf,omitempty"`
	Evicted     int           `json:"evicted,omitempty"`
	Triggered   bool          `json:"syncTriggered"`
}

// SavePrompt records a capture. Captures while recording is off and duplicates
// of the previous capture are dropped without error. The event, any evictions
// and the queue entry are written in one atomic update.
func (s *Service) SavePrompt(ctx context.Context, input SavePromptInput) (*SavePromptOutput, error) {
	if strings.TrimSpace(input.PromptText) == "" {
		return nil, errors.NewInvalidRequest("promptText is required")
	}
	site := prompt.NormalizeSite(input.Site)
	if site == "" {
		site = "unknown"
	}
	conversationID := strings.TrimSpace(input.ConversationID)

	now := s.now()
	fp := prompt.Compute(site, conversationID, input.PromptText, now, s.cfg.DedupWindow())
	windows := prompt.DedupWindows{Bucket: s.cfg.DedupWindow(), Legacy: s.cfg.LegacyDedupWindow()}

	out := &SavePromptOutput{}
	var (
		cfg    *settings.Settings
		dupAge time.Duration
		dupBy  prompt.DuplicateReason
	)
	err := s.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		var err error
		cfg, err = settings.Read(ctx, r)
		if err != nil {
			return nil, err
		}
		if !cfg.Recording {
			out.Reason = SkipRecordingOff
			return nil, nil
		}

		view := s.journal.View(r)
		last, err := view.Last(ctx)
		if err != nil {
			return nil, err
		}
		if dupBy, dupAge = prompt.CheckDuplicate(last, fp, now, windows); dupBy != prompt.NotDuplicate {
			out.Reason = SkipDuplicate
			out.DuplicateOf = last.LocalID
			return nil, nil
		}

		localID, err := newLocalID(now)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		ev := &prompt.Event{
			LocalID:          localID,
			DeviceID:         cfg.DeviceID,
			ClientEventID:    uuid.NewString(),
			CreatedAt:        now.UTC(),
			Site:             site,
			PageURL:          strings.TrimSpace(input.PageURL),
			TabURL:           strings.TrimSpace(input.TabURL),
			ConversationID:   conversationID,
			PromptText:       input.PromptText,
			PromptHash:       fp.ContentHash,
			EventFingerprint: fp.Fingerprint,
			CaptureBucket:    fp.Bucket,
			Meta:             prompt.WithLengthMeta(input.Meta, input.PromptText),
			Tags:             prompt.NormalizeTags(input.Tags),
			Analysis:         input.Analysis,
			SyncStatus:       prompt.StatusLocal,
		}
		if cfg.AutoSync {
			ev.SyncStatus = prompt.StatusPending
		}

		patch, evicted, err := s.journal.AppendPatch(ctx, r, ev)
		if err != nil {
			return nil, err
		}

		q, err := outbox.Load(ctx, r, outbox.PolicyFromConfig(s.cfg), now)
		if err != nil {
			return nil, err
		}
		q.RemoveAll(evicted)
		if cfg.AutoSync {
			q.Enqueue(ev.LocalID, 0, now)
		}

		out.Captured = true
		out.LocalID = ev.LocalID
		out.SyncStatus = ev.SyncStatus
		out.Evicted = len(evicted)
		return patch.Merge(q.Patch()), nil
	})
	if err != nil {
		return nil, err
	}

	switch out.Reason {
	case SkipRecordingOff:
		s.logger.Info("Recording is OFF; prompt ignored")
		return out, nil
	case SkipDuplicate:
		s.logger.Info("Duplicate capture ignored", "rule", string(dupBy), "dtMs", dupAge.Milliseconds(), "bucket", fp.Bucket)
		return out, nil
	}

	s.logger.Info("Prompt captured", "site", site, "len", prompt.CountChars(input.PromptText), "localId", out.LocalID)
	if out.Evicted > 0 {
		s.logger.Debug("evicted oldest prompts", "count", out.Evicted)
	}
	if cfg.AutoSync && s.syncer != nil {
		out.Triggered = s.syncer.Trigger(syncer.ReasonCapture)
	}
	return out, nil
}

// idEntropy is shared so ids minted in the same millisecond still sort in
// capture order.
var idEntropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// newLocalID generates a ULID for a capture made at t.
func newLocalID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), idEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
