package ratelimit

import (
	"context"
	"time"

	"github.com/Tyrowin/hearth/internal/logging"
)

// Sweeper periodically garbage-collects stale windows. It implements
// suture.Service.
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
	grace    time.Duration
}

// NewSweeper returns a Sweeper for l.
func NewSweeper(l *Limiter, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{limiter: l, interval: interval, grace: grace}
}

// Serve runs until ctx is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.limiter.Sweep(s.grace); removed > 0 {
				logging.Debug().Int("removed", removed).Int("remaining", s.limiter.Len()).Msg("swept stale rate-limit windows")
			}
		}
	}
}

func (s *Sweeper) String() string {
	return "ratelimit-sweeper"
}
