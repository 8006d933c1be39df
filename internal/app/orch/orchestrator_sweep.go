package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sweep re-verifies every durable record against live occupancy and
// removes rooms that are gone or empty.
func (o *Orchestrator) Sweep(ctx context.Context) (domain.SweepResult, error) {
	return o.reconcile(ctx, "", o.Store.ListEphemeralRooms)
}

// BulkCleanup is Sweep restricted to one community.
func (o *Orchestrator) BulkCleanup(ctx context.Context, community domain.CommunityID) (domain.SweepResult, error) {
	return o.reconcile(ctx, community, func(ctx context.Context) ([]domain.EphemeralRoom, error) {
		return o.Store.ListCommunityRooms(ctx, community)
	})
}

func (o *Orchestrator) reconcile(
	ctx context.Context,
	community domain.CommunityID,
	list func(context.Context) ([]domain.EphemeralRoom, error),
) (domain.SweepResult, error) {
	var res domain.SweepResult
	if !o.sweeping.CompareAndSwap(false, true) {
		return res, app.ErrSweepInProgress
	}
	defer o.sweeping.Store(false)

	logger := log.With().Str("module", "orch.sweep").Str("community", string(community)).Logger()

	o.flushUnpersisted(ctx)

	recs, err := list(ctx)
	if err != nil {
		return res, fmt.Errorf("list ephemeral rooms: %w", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		deleted, err := o.reconcileRoom(ctx, rec)
		switch {
		case errors.Is(err, errShuttingDown):
			return res, err
		case err != nil:
			res.Errors++
			o.Metrics.SweepError(ctx)
			logger.Error().Err(err).Str("room", string(rec.RoomID)).Msg("reconcile room")
		case deleted:
			res.Deleted++
		}
	}
	logger.Info().
		Int("checked", res.Checked).
		Int("deleted", res.Deleted).
		Int("errors", res.Errors).
		Msg("reconciliation finished")
	return res, nil
}

// reconcileRoom applies the grace-expiry protocol to one durable record and
// reports whether it was removed.
func (o *Orchestrator) reconcileRoom(ctx context.Context, rec domain.EphemeralRoom) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false, errShuttingDown
	}

	live, err := o.Platform.FetchRoom(ctx, rec.RoomID)
	if errors.Is(err, core.ErrRoomNotFound) {
		if err := o.retire(ctx, rec, false, "sweep"); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: fetch %s: %v", app.ErrPlatformOperationFailed, rec.RoomID, err)
	}
	if live.OccupantCount() > 0 {
		if !o.Registry.IsTracked(rec.RoomID) {
			o.Registry.Track(rec, true)
		}
		return false, nil
	}
	if err := o.retire(ctx, rec, true, "sweep"); err != nil {
		return false, err
	}
	return true, nil
}

// flushUnpersisted retries the durable write of rooms tracked only in memory.
func (o *Orchestrator) flushUnpersisted(ctx context.Context) {
	for _, rec := range o.Registry.Unpersisted() {
		if err := o.persistTracked(ctx, rec); err != nil {
			log.Warn().Err(err).Str("module", "orch.sweep").Str("room", string(rec.RoomID)).Msg("room still unpersisted")
		}
	}
}

// retryPersist keeps retrying the durable write of rec in the background
// with exponential backoff. Callers hold mu.
func (o *Orchestrator) retryPersist(rec domain.EphemeralRoom) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, err := backoff.Retry(o.ctx, func() (struct{}, error) {
			return struct{}{}, o.persistTracked(o.ctx, rec)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(o.cfg.PersistRetryWindow),
		)
		if err != nil {
			log.Warn().
				Err(err).
				Str("module", "orch").
				Str("room", string(rec.RoomID)).
				Msg("giving up registry write retries, next sweep will try again")
		}
	}()
}

func (o *Orchestrator) persistTracked(ctx context.Context, rec domain.EphemeralRoom) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return backoff.Permanent(errShuttingDown)
	}
	// Retired or already written in the meantime.
	if !o.Registry.IsTracked(rec.RoomID) || o.Registry.IsPersisted(rec.RoomID) {
		return nil
	}
	if err := o.Store.InsertEphemeralRoom(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", app.ErrRegistryWriteFailed, err)
	}
	o.Registry.MarkPersisted(rec.RoomID)
	log.Info().Str("module", "orch").Str("room", string(rec.RoomID)).Msg("registry write recovered")
	return nil
}
