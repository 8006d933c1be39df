package core

import (
	"context"
	"errors"

	"github.com/dkeye/tempvoice/internal/domain"
)

// ErrNotConfigured is returned when a community has no master room configuration.
var ErrNotConfigured = errors.New("community not configured")

// RoomStore is the durable registry of master room configs and live ephemeral rooms.
type RoomStore interface {
	GetMasterConfig(ctx context.Context, community domain.CommunityID) (*domain.MasterRoomConfig, error)
	SetMasterConfig(ctx context.Context, community domain.CommunityID, room domain.RoomID, enabled bool) error

	InsertEphemeralRoom(ctx context.Context, rec domain.EphemeralRoom) error
	// DeleteEphemeralRoom is a no-op for unknown rooms.
	DeleteEphemeralRoom(ctx context.Context, room domain.RoomID) error
	ListEphemeralRooms(ctx context.Context) ([]domain.EphemeralRoom, error)
	ListCommunityRooms(ctx context.Context, community domain.CommunityID) ([]domain.EphemeralRoom, error)
	CountOwnedRooms(ctx context.Context, community domain.CommunityID, owner domain.MemberID) (int, error)
}
