package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) onLeave(ctx context.Context, room domain.RoomID, logger *zerolog.Logger) {
	rec, ok := o.Registry.Get(room)
	if !ok {
		return
	}
	live, err := o.Platform.FetchRoom(ctx, room)
	if errors.Is(err, core.ErrRoomNotFound) {
		if err := o.retire(ctx, rec, false, "gone"); err != nil {
			logger.Warn().Err(err).Str("room", string(room)).Msg("retire vanished room")
		}
		return
	}
	if err != nil {
		// Expiry re-verifies, so an unreadable room is treated as empty.
		logger.Error().Err(err).Str("room", string(room)).Msg("fetch room after leave, arming grace timer")
		o.armGrace(rec)
		return
	}
	if live.OccupantCount() > 0 {
		return
	}
	o.armGrace(rec)
}

// armGrace installs the deletion timer for rec. Only the room id is
// captured; the callback re-reads everything else.
func (o *Orchestrator) armGrace(rec domain.EphemeralRoom) {
	id := rec.RoomID
	if o.Timers.Arm(string(id), o.cfg.GracePeriod, func() { o.onGraceExpired(id) }) {
		log.Info().
			Str("module", "orch").
			Str("community", string(rec.CommunityID)).
			Str("room", string(id)).
			Dur("grace", o.cfg.GracePeriod).
			Msg("room empty, grace timer armed")
	}
}

func (o *Orchestrator) onGraceExpired(id domain.RoomID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	ctx := o.ctx
	logger := log.With().Str("module", "orch").Str("room", string(id)).Logger()

	rec, ok := o.Registry.Get(id)
	if !ok {
		logger.Debug().Msg("grace expired for untracked room")
		return
	}
	live, err := o.Platform.FetchRoom(ctx, id)
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		if err := o.retire(ctx, rec, false, "gone"); err != nil {
			logger.Warn().Err(err).Msg("retire vanished room, re-armed")
		}
	case err != nil:
		logger.Error().Err(err).Msg("re-verify room at grace expiry, re-arming")
		o.armGrace(rec)
	case live.OccupantCount() > 0:
		logger.Info().Int("occupants", live.OccupantCount()).Msg("room occupied at grace expiry")
	default:
		if err := o.retire(ctx, rec, true, "grace"); err != nil {
			logger.Warn().Err(err).Msg("retire empty room, re-armed")
		}
	}
}

// retire removes rec from the durable registry and from memory, drops any
// pending timer, and then deletes the platform room when deleteRoom is set.
// Registry removal always precedes the platform call. On failure rec stays
// tracked with a grace timer armed, so expiry retries the removal. Callers
// hold mu.
func (o *Orchestrator) retire(ctx context.Context, rec domain.EphemeralRoom, deleteRoom bool, reason string) error {
	logger := log.With().
		Str("module", "orch").
		Str("community", string(rec.CommunityID)).
		Str("owner", string(rec.OwnerID)).
		Str("room", string(rec.RoomID)).
		Str("reason", reason).
		Logger()

	if err := o.Store.DeleteEphemeralRoom(ctx, rec.RoomID); err != nil {
		logger.Error().Err(err).Msg("remove registry record, retrying after grace")
		if !o.Registry.IsTracked(rec.RoomID) {
			o.Registry.Track(rec, true)
		}
		o.armGrace(rec)
		return fmt.Errorf("%w: %v", app.ErrRegistryWriteFailed, err)
	}
	o.Registry.Untrack(rec.RoomID)
	o.Timers.Cancel(string(rec.RoomID))

	if !deleteRoom {
		o.Metrics.RoomRetired(ctx, rec.CommunityID, reason)
		logger.Info().Err(app.ErrStaleRoom).Msg("room already gone, record removed")
		return nil
	}
	if err := o.Platform.DeleteRoom(ctx, rec.RoomID, auditReason(rec)); err != nil {
		logger.Error().Err(err).Msg("delete platform room, restoring registry record")
		o.restore(ctx, rec, &logger)
		return fmt.Errorf("%w: delete %s: %v", app.ErrPlatformOperationFailed, rec.RoomID, err)
	}
	o.Metrics.RoomRetired(ctx, rec.CommunityID, reason)
	logger.Info().Msg("ephemeral room deleted")
	return nil
}

// restore puts back a record whose platform room survived deletion and arms
// its grace timer again.
func (o *Orchestrator) restore(ctx context.Context, rec domain.EphemeralRoom, logger *zerolog.Logger) {
	if err := o.Store.InsertEphemeralRoom(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("registry write failed, tracking room in memory until it is persisted")
		o.Registry.Track(rec, false)
		o.retryPersist(rec)
	} else {
		o.Registry.Track(rec, true)
	}
	o.armGrace(rec)
}

func auditReason(rec domain.EphemeralRoom) string {
	return fmt.Sprintf("empty ephemeral room owned by %s", rec.OwnerID)
}
