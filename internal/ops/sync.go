package ops

import (
	"context"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/syncer"
)

// TriggerSyncInput contains parameters for the TriggerSync operation.
type TriggerSyncInput struct {
	// Wait runs the cycle in the caller and returns its result
	Wait bool `json:"wait"`
}

// TriggerSyncOutput contains the result of the TriggerSync operation.
type TriggerSyncOutput struct {
	Started bool           `json:"started"`
	Result  *syncer.Result `json:"result,omitempty"`
}

// TriggerSync forces a sync cycle. Without Wait the cycle runs in the
// background and Started reports whether one was launched.
func (s *Service) TriggerSync(ctx context.Context, input TriggerSyncInput) (*TriggerSyncOutput, error) {
	if s.syncer == nil {
		return nil, errors.NewInternal(errNoSyncer)
	}
	if !input.Wait {
		return &TriggerSyncOutput{Started: s.syncer.Trigger(syncer.ReasonManual)}, nil
	}
	res, err := s.syncer.RunCycle(ctx, syncer.ReasonManual)
	if err != nil {
		return nil, err
	}
	return &TriggerSyncOutput{Started: !res.Skipped, Result: &res}, nil
}

// RetryFailedOutput contains the result of the RetryFailed operation.
type RetryFailedOutput struct {
	Reset     []string `json:"reset"`
	Triggered bool     `json:"syncTriggered"`
}

// RetryFailed resets failed and dead prompts to pending and, if any were
// reset, starts a cycle.
func (s *Service) RetryFailed(ctx context.Context) (*RetryFailedOutput, error) {
	if s.syncer == nil {
		return nil, errors.NewInternal(errNoSyncer)
	}
	reset, err := s.syncer.RetryFailed(ctx)
	if err != nil {
		return nil, err
	}
	out := &RetryFailedOutput{Reset: reset}
	if out.Reset == nil {
		out.Reset = []string{}
	}
	if len(reset) > 0 {
		out.Triggered = s.syncer.Trigger(syncer.ReasonRetryFailed)
	}
	return out, nil
}

// PollCommands fetches and applies operator commands from the server.
func (s *Service) PollCommands(ctx context.Context) ([]syncer.CommandResult, error) {
	if s.syncer == nil {
		return nil, errors.NewInternal(errNoSyncer)
	}
	return s.syncer.PollCommands(ctx)
}

// Tick runs the periodic sync alarm: a cycle, a command poll and a status push.
func (s *Service) Tick(ctx context.Context) {
	if s.syncer != nil {
		if _, err := s.syncer.RunCycle(ctx, syncer.ReasonAlarm); err != nil {
			s.logger.Error("Sync cycle error", "err", err)
		}
		if _, err := s.syncer.PollCommands(ctx); err != nil {
			s.logger.Debug("command poll error", "err", err)
		}
	}
	s.Heartbeat(ctx)
}

// Heartbeat pushes the status snapshot. Failures are ignored.
func (s *Service) Heartbeat(ctx context.Context) {
	if s.reporter != nil {
		s.reporter.Push(ctx)
	}
}
