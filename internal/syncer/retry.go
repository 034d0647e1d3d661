package syncer

import (
	"context"
	"time"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/outbox"
	"github.com/hpungsan/spr/internal/prompt"
	"github.com/hpungsan/spr/internal/settings"
)

// RetryFailed returns every failed and dead prompt to pending with its attempt
// count unchanged, clearing the error and retry marker so it competes in the
// very next cycle. Dead prompts are queued again. It returns the reset local ids.
func (s *Syncer) RetryFailed(ctx context.Context) ([]string, error) {
	now := s.now()
	var reset []string
	err := s.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		reset = nil
		q, err := outbox.Load(ctx, r, s.policy, now)
		if err != nil {
			return nil, err
		}
		events, err := s.journal.View(r).ListByStatus(ctx, prompt.StatusFailed, prompt.StatusDead)
		if err != nil {
			return nil, err
		}

		q.RetryFailed(now)

		patch := db.Patch{}
		pending := prompt.StatusPending
		var zero time.Time
		empty := ""
		for _, ev := range events {
			_ = journal.ApplyStatus(ev, journal.StatusPatch{Status: &pending, NextRetryAt: &zero, Error: &empty})
			q.Enqueue(ev.LocalID, ev.SyncAttempts, now)
			patch.Merge(journal.PutPatch(ev))
			reset = append(reset, ev.LocalID)
		}
		return patch.Merge(q.Patch()), nil
	})
	if err != nil {
		return nil, err
	}
	if len(reset) > 0 {
		s.logger.Info("Retry requested: failed items set to pending", "count", len(reset))
	}
	return reset, nil
}

// CommandResult describes one applied operator command.
type CommandResult struct {
	ID      string               `json:"id"`
	Command delivery.CommandType `json:"command"`
	Applied bool                 `json:"applied"`
}

// PollCommands fetches outstanding operator commands and applies the known
// ones. The server marks commands consumed when it returns them. Polling needs
// a server url, a token and a device id; otherwise it does nothing.
func (s *Syncer) PollCommands(ctx context.Context) ([]CommandResult, error) {
	cfg, err := settings.Read(ctx, s.store)
	if err != nil {
		return nil, err
	}
	ep := cfg.Endpoint()
	if !ep.Configured() || ep.Token == "" || cfg.DeviceID == settings.UnknownDevice {
		return nil, nil
	}

	cmds, err := s.client.FetchCommands(ctx, ep, cfg.DeviceID)
	if err != nil {
		s.logger.Debug("command poll failed", "err", err)
		return nil, err
	}

	results := make([]CommandResult, 0, len(cmds))
	retried := false
	for _, c := range cmds {
		res := CommandResult{ID: c.ID, Command: c.Command}
		switch c.Command {
		case delivery.CommandRetryFailed:
			if !retried {
				reset, err := s.RetryFailed(ctx)
				if err != nil {
					return results, err
				}
				retried = true
				if len(reset) > 0 {
					s.Trigger(ReasonRetryFailed)
				}
			}
			res.Applied = true
		default:
			s.logger.Warn("Unknown command ignored", "id", c.ID, "command", string(c.Command))
		}
		results = append(results, res)
	}
	return results, nil
}
