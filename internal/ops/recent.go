package ops

import (
	"context"

	"github.com/hpungsan/spr/internal/activity"
	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/prompt"
)

// GetRecentInput contains parameters for the GetRecent operation.
type GetRecentInput struct {
	Limit   int  `json:"limit"`   // default: recent_limit, max: 100
	Summary bool `json:"summary"` // return previews instead of full events
}

// GetRecentOutput contains the result of the GetRecent operation.
type GetRecentOutput struct {
	Items     []*prompt.Event  `json:"items"`
	Summaries []prompt.Summary `json:"summaries,omitempty"`
	Total     int              `json:"total"`
}

// GetRecent returns the newest captured events, newest first.
func (s *Service) GetRecent(ctx context.Context, input GetRecentInput) (*GetRecentOutput, error) {
	limit := input.Limit
	if limit < 0 {
		return nil, errors.NewInvalidRequest("limit must not be negative")
	}
	if limit == 0 {
		limit = s.cfg.RecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	view := s.journal.View(s.store)
	events, err := view.ListTail(ctx, limit)
	if err != nil {
		return nil, err
	}
	total, err := view.Count(ctx)
	if err != nil {
		return nil, err
	}

	out := &GetRecentOutput{Total: total}
	if input.Summary {
		out.Summaries = make([]prompt.Summary, 0, len(events))
		for _, ev := range events {
			out.Summaries = append(out.Summaries, ev.ToSummary())
		}
		return out, nil
	}
	out.Items = events
	if out.Items == nil {
		out.Items = []*prompt.Event{}
	}
	return out, nil
}

// GetPrompt returns one captured event.
func (s *Service) GetPrompt(ctx context.Context, localID string) (*prompt.Event, error) {
	if localID == "" {
		return nil, errors.NewInvalidRequest("localId is required")
	}
	return s.journal.Get(ctx, localID)
}

// GetLogs returns up to limit activity log entries, newest first.
func (s *Service) GetLogs(ctx context.Context, limit int) ([]activity.Entry, error) {
	entries, err := activity.Read(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]activity.Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
