package ops

import (
	"context"

	"github.com/hpungsan/spr/internal/status"
)

// GetStatus returns settings, queue counts and the last sync metadata.
func (s *Service) GetStatus(ctx context.Context) (*status.Snapshot, error) {
	return status.Take(ctx, s.store, s.now())
}
