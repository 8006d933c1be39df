// Package worker runs the periodic reconciliation of ephemeral rooms.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type Reconciler interface {
	Sweep(ctx context.Context) (domain.SweepResult, error)
}

type SweeperConfig struct {
	Interval time.Duration
	// RunOnStart triggers a sweep as soon as the loop starts.
	RunOnStart bool
}

func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{Interval: 8 * time.Hour}
}

type SweeperStats struct {
	IsRunning    bool
	Runs         int
	TotalChecked int
	TotalDeleted int
	TotalErrors  int
	LastRunTime  time.Time
	LastResult   domain.SweepResult
}

// Sweeper calls Reconciler.Sweep on a fixed interval.
type Sweeper struct {
	rec    Reconciler
	config *SweeperConfig

	mu      sync.Mutex
	running bool
	stats   SweeperStats
}

func NewSweeper(rec Reconciler, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{rec: rec, config: config}
}

// Start blocks until ctx is cancelled, sweeping every interval.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("sweeper already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	log.Info().Str("module", "worker.sweeper").Dur("interval", s.config.Interval).Msg("sweeper started")

	if s.config.RunOnStart {
		s.RunOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "worker.sweeper").Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. An overlapping sweep is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) {
	res, err := s.rec.Sweep(ctx)
	switch {
	case errors.Is(err, app.ErrSweepInProgress):
		log.Warn().Str("module", "worker.sweeper").Msg("previous sweep still running, skipping")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "worker.sweeper").Msg("sweep failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Runs++
	s.stats.TotalChecked += res.Checked
	s.stats.TotalDeleted += res.Deleted
	s.stats.TotalErrors += res.Errors
	s.stats.LastRunTime = time.Now()
	s.stats.LastResult = res
}

func (s *Sweeper) GetStats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.IsRunning = s.running
	return st
}
