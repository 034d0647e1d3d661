package ops

import (
	"context"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/settings"
)

// SetSettingsOutput contains the result of the SetSettings operation.
type SetSettingsOutput struct {
	Settings    *settings.Settings `json:"settings"`
	APITokenSet bool               `json:"apiTokenSet"`
}

// SetSettings applies a partial settings change. Turning auto-sync on does not
// queue prompts captured while it was off; they stay local.
func (s *Service) SetSettings(ctx context.Context, input settings.Update) (*SetSettingsOutput, error) {
	if input.Empty() {
		return nil, errors.NewInvalidRequest("at least one setting is required")
	}
	cfg, err := s.settings.Apply(ctx, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Settings updated", "patch", input.Redacted())
	return &SetSettingsOutput{Settings: cfg, APITokenSet: cfg.APIToken != ""}, nil
}
