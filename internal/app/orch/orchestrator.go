package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var errShuttingDown = errors.New("orchestrator shutting down")

type Config struct {
	GracePeriod       time.Duration
	MaxRoomsPerMember int
	// PersistRetryWindow bounds the background retry of a failed registry write.
	PersistRetryWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:        5 * time.Second,
		MaxRoomsPerMember:  app.DefaultMaxRoomsPerMember,
		PersistRetryWindow: 2 * time.Minute,
	}
}

// Orchestrator owns the ephemeral room lifecycle: it turns voice-location
// changes into provisioning and grace-deletion decisions and reconciles the
// in-memory registry with the durable store.
//
// Voice events, grace timer callbacks and per-room sweep steps are
// serialized by mu; each one runs to completion, awaited I/O included.
type Orchestrator struct {
	Registry *app.Registry
	Store    core.RoomStore
	Platform core.Platform
	Quota    *app.Quota
	Timers   *app.Timers
	Metrics  *app.Metrics

	cfg Config
	now func() time.Time

	mu       sync.Mutex
	closed   bool
	sweeping atomic.Bool

	// ctx scopes work not tied to an event: timer callbacks and write retries.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store core.RoomStore, platform core.Platform, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.MaxRoomsPerMember <= 0 {
		cfg.MaxRoomsPerMember = def.MaxRoomsPerMember
	}
	if cfg.PersistRetryWindow <= 0 {
		cfg.PersistRetryWindow = def.PersistRetryWindow
	}

	reg := app.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		Registry: reg,
		Store:    store,
		Platform: platform,
		Quota:    &app.Quota{Store: store, Registry: reg, Max: cfg.MaxRoomsPerMember},
		Timers:   app.NewTimers(),
		Metrics:  app.NewMetrics(reg),
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start loads every durable ephemeral room into memory. Occupancy is not
// verified here; that is left to the periodic sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	recs, err := o.Store.ListEphemeralRooms(ctx)
	if err != nil {
		return fmt.Errorf("load ephemeral rooms: %w", err)
	}
	o.Registry.Load(recs)
	log.Info().Str("module", "orch").Int("rooms", len(recs)).Msg("orchestrator started")
	return nil
}

// Shutdown cancels all armed grace timers and background retries and waits
// for in-flight callbacks. Events received afterwards are ignored.
func (o *Orchestrator) Shutdown() {
	o.cancel()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.Timers.Stop()
	o.wg.Wait()
	log.Info().Str("module", "orch").Msg("orchestrator stopped")
}

// HandleVoiceState processes one voice-location change to completion.
// A switch runs the leave side before the join side.
func (o *Orchestrator) HandleVoiceState(ctx context.Context, ev domain.VoiceStateEvent) {
	tr := app.Classify(ev.Before, ev.After)
	if tr.Kind == app.Noop {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	logger := log.With().
		Str("module", "orch").
		Str("community", string(ev.CommunityID)).
		Str("member", string(ev.MemberID)).
		Str("transition", tr.Kind.String()).
		Logger()

	if tr.From != "" {
		o.onLeave(ctx, tr.From, &logger)
	}
	if tr.To != "" {
		o.onEnter(ctx, ev, tr.To, &logger)
	}
}
