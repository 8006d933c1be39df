package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotInCommunity = errors.New("room belongs to another community")
	ErrEphemeralMaster    = errors.New("an ephemeral room cannot be the master room")
)

// SetMasterRoom designates room as the community's master room and enables the feature.
func (o *Orchestrator) SetMasterRoom(ctx context.Context, community domain.CommunityID, room domain.RoomID) error {
	r, err := o.Platform.FetchRoom(ctx, room)
	if errors.Is(err, core.ErrRoomNotFound) {
		return fmt.Errorf("%w: %s", app.ErrMasterRoomMissing, room)
	}
	if err != nil {
		return fmt.Errorf("%w: fetch %s: %v", app.ErrPlatformOperationFailed, room, err)
	}
	if r.CommunityID != "" && r.CommunityID != community {
		return ErrRoomNotInCommunity
	}
	if o.Registry.IsTracked(room) {
		return ErrEphemeralMaster
	}
	if err := o.Store.SetMasterConfig(ctx, community, room, true); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("community", string(community)).Str("master", string(room)).Msg("master room set")
	return nil
}

// Disable turns the feature off, keeping the configured master room.
func (o *Orchestrator) Disable(ctx context.Context, community domain.CommunityID) error {
	cfg, err := o.Store.GetMasterConfig(ctx, community)
	if err != nil {
		return err
	}
	if err := o.Store.SetMasterConfig(ctx, community, cfg.MasterRoomID, false); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("community", string(community)).Msg("ephemeral rooms disabled")
	return nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, community domain.CommunityID) (domain.Status, error) {
	st := domain.Status{CommunityID: community}
	cfg, err := o.Store.GetMasterConfig(ctx, community)
	switch {
	case errors.Is(err, core.ErrNotConfigured):
	case err != nil:
		return st, err
	default:
		st.MasterRoomID = cfg.MasterRoomID
		st.Enabled = cfg.Enabled
	}
	recs, err := o.Store.ListCommunityRooms(ctx, community)
	if err != nil {
		return st, fmt.Errorf("list community rooms: %w", err)
	}
	st.LiveRoomCount = len(recs) + o.Registry.CountUnpersisted(community, "")
	return st, nil
}
