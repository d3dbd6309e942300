package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"quiz-reward-service/internal/domain"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 200
)

// Sweeper abandons sessions whose time budget ran out. Access paths also
// expire sessions lazily; the sweep bounds how long a silent one stays active.
type Sweeper struct {
	sessions SessionStore
	interval time.Duration
	batch    int
	now      func() time.Time
	log      zerolog.Logger
}

func NewSweeper(sessions SessionStore, interval time.Duration, batch int, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		batch:    batch,
		now:      time.Now,
		log:      log.With().Str("component", "session_sweeper").Logger(),
	}
}

// Start runs sweeps until ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("sweeper started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce abandons expired sessions batch by batch and returns how many it moved.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	abandoned := 0
	now := w.now()
	for {
		tokens, err := w.sessions.ListExpired(ctx, now, w.batch)
		if err != nil {
			return abandoned, domain.Persistence("list expired sessions", err)
		}
		moved := 0
		for _, token := range tokens {
			_, err := w.sessions.Abandon(ctx, token, now)
			switch {
			case err == nil:
				moved++
			case errors.Is(err, domain.ErrSessionTerminal), errors.Is(err, domain.ErrUnknownSession):
				// finished or swept elsewhere in the meantime
			default:
				return abandoned + moved, domain.Persistence("abandon session", err)
			}
		}
		abandoned += moved
		if len(tokens) < w.batch || moved == 0 {
			break
		}
	}
	if abandoned > 0 {
		w.log.Info().Int("abandoned", abandoned).Msg("expired sessions swept")
	}
	return abandoned, nil
}
