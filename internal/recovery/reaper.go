package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/lavente/identitycore/internal/session"
)

// Reaper periodically clears expired sessions and refresh tokens, mirrored
// on the teacher's hourly janitor worker but run as a goroutine inside the
// API process rather than a separate binary, since this core has no
// message queue to hand the job off to.
type Reaper struct {
	sessions *session.Registry
	logger   *slog.Logger
	interval time.Duration
}

func NewReaper(sessions *session.Registry, logger *slog.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reaper{sessions: sessions, logger: logger, interval: interval}
}

// Run blocks, reaping on a ticker until ctx is cancelled. Call it from a
// goroutine in cmd/api/main.go.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("🧹 session reaper started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.reapOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.reapOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("session reaper shutting down")
			return
		}
	}
}

func (r *Reaper) reapOnce(ctx context.Context) {
	n, err := r.sessions.ReapExpired(ctx)
	if err != nil {
		r.logger.Error("session reap failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("reaped expired sessions", "count", n)
	}
}
