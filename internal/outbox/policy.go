package outbox

import (
	"time"

	"github.com/hpungsan/spr/internal/config"
)

// Policy holds the queue tunables.
type Policy struct {
	MaxBatch     int
	MaxAttempts  int
	BaseBackoff  time.Duration
	CapExponent  int
	SendingStale time.Duration
}

// PolicyFromConfig builds a Policy from config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxBatch:     cfg.MaxBatch,
		MaxAttempts:  cfg.MaxAttempts,
		BaseBackoff:  cfg.BaseBackoff(),
		CapExponent:  cfg.BackoffCapExponent,
		SendingStale: cfg.SendingStale(),
	}
}

// DefaultPolicy returns the policy of the default config.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig())
}

// Backoff returns BaseBackoff * 2^min(CapExponent, attempts).
func (p Policy) Backoff(attempts int) time.Duration {
	exp := min(max(attempts, 0), max(p.CapExponent, 0))
	return p.BaseBackoff << exp
}

// Exhausted reports whether attempts has reached the dead-letter threshold.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
