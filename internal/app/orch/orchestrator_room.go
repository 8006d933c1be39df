package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog"
)

func (o *Orchestrator) onEnter(ctx context.Context, ev domain.VoiceStateEvent, room domain.RoomID, logger *zerolog.Logger) {
	if o.Timers.Cancel(string(room)) {
		logger.Info().Str("room", string(room)).Msg("grace timer cancelled, room occupied again")
		o.Metrics.GraceCancelled(ctx, ev.CommunityID)
	}
	if _, err := o.provision(ctx, ev, room, logger); err != nil {
		logger.Debug().Err(err).Str("room", string(room)).Msg("no room provisioned")
	}
}

// provision creates an ephemeral room when room is the community's enabled
// master room. It returns nil, nil when room is not a master room.
func (o *Orchestrator) provision(
	ctx context.Context,
	ev domain.VoiceStateEvent,
	room domain.RoomID,
	logger *zerolog.Logger,
) (*domain.EphemeralRoom, error) {
	cfg, err := o.Store.GetMasterConfig(ctx, ev.CommunityID)
	if errors.Is(err, core.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("read master config")
		return nil, err
	}
	if !cfg.Enabled || cfg.MasterRoomID != room {
		return nil, nil
	}

	if err := o.Quota.Check(ctx, ev.CommunityID, ev.MemberID); err != nil {
		if !errors.Is(err, app.ErrQuotaExceeded) {
			logger.Error().Err(err).Msg("quota check")
			return nil, err
		}
		logger.Warn().Err(err).Msg("quota exceeded, disconnecting member")
		o.Metrics.QuotaRejected(ctx, ev.CommunityID)
		if derr := o.Platform.DisconnectMember(ctx, ev.CommunityID, ev.MemberID); derr != nil {
			logger.Error().Err(derr).Msg("disconnect member")
		}
		return nil, err
	}

	master, err := o.Platform.FetchRoom(ctx, cfg.MasterRoomID)
	if errors.Is(err, core.ErrRoomNotFound) {
		logger.Warn().Str("master", string(cfg.MasterRoomID)).Msg("master room no longer exists")
		return nil, fmt.Errorf("%w: %s", app.ErrMasterRoomMissing, cfg.MasterRoomID)
	}
	if err != nil {
		logger.Error().Err(err).Str("master", string(cfg.MasterRoomID)).Msg("fetch master room")
		return nil, fmt.Errorf("%w: fetch master: %v", app.ErrPlatformOperationFailed, err)
	}

	name := domain.EphemeralRoomName(ev.DisplayName, ev.MemberID)
	created, err := o.Platform.CloneRoom(ctx, master.ID, domain.RoomOverrides{Name: name})
	if err != nil {
		logger.Error().Err(err).Str("master", string(master.ID)).Msg("clone master room")
		return nil, fmt.Errorf("%w: clone: %v", app.ErrPlatformOperationFailed, err)
	}
	roomLog := logger.With().Str("room", string(created.ID)).Logger()

	if err := o.Platform.SetRoomPermissionOverride(ctx, created.ID, ev.MemberID, domain.OwnerCapabilities); err != nil {
		roomLog.Error().Err(err).Msg("grant owner capabilities")
	}
	moved := true
	if err := o.Platform.MoveMember(ctx, ev.CommunityID, ev.MemberID, created.ID); err != nil {
		roomLog.Error().Err(err).Msg("move owner into room")
		moved = false
	}

	rec := domain.EphemeralRoom{
		RoomID:      created.ID,
		CommunityID: ev.CommunityID,
		OwnerID:     ev.MemberID,
		CreatedAt:   o.now().UTC(),
	}
	if err := o.Store.InsertEphemeralRoom(ctx, rec); err != nil {
		roomLog.Error().Err(err).Msg("registry write failed, tracking room in memory until it is persisted")
		o.Registry.Track(rec, false)
		o.retryPersist(rec)
	} else {
		o.Registry.Track(rec, true)
	}
	o.Metrics.RoomProvisioned(ctx, ev.CommunityID)
	roomLog.Info().Str("name", name).Bool("moved", moved).Msg("ephemeral room provisioned")

	// The owner never arrived, so the room is already empty.
	if !moved {
		o.armGrace(rec)
	}
	return &rec, nil
}
