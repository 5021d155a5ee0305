package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type AppealExpirer interface {
	ExpireAppealWindows(ctx context.Context) (int, error)
}

// AppealSweeper periodically closes sustained cases whose appeal window passed.
type AppealSweeper struct {
	cases    AppealExpirer
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewAppealSweeper(cases AppealExpirer, interval time.Duration, logger zerolog.Logger) *AppealSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AppealSweeper{
		cases:    cases,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *AppealSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.logger.Info().Dur("interval", s.interval).Msg("Starting appeal window sweeper")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one pass and returns the number of cases closed.
func (s *AppealSweeper) Sweep(ctx context.Context) int {
	closed, err := s.cases.ExpireAppealWindows(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Appeal window sweep failed")
		return 0
	}
	if closed > 0 {
		s.logger.Info().Int("closed", closed).Msg("Appeal window sweep closed cases")
	}
	return closed
}

// Stop ends the loop started by Start and waits for it to exit.
func (s *AppealSweeper) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	<-s.done
}
