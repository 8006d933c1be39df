package core

import (
	"context"
	"errors"

	"github.com/dkeye/tempvoice/internal/domain"
)

// ErrRoomNotFound is returned by Platform.FetchRoom for rooms that no longer exist.
var ErrRoomNotFound = errors.New("room not found")

// Platform abstracts the chat platform's room operations.
// Owned by the adapter; implementations must be safe for concurrent use.
type Platform interface {
	FetchRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// CloneRoom creates a new room with the settings of master plus overrides.
	CloneRoom(ctx context.Context, master domain.RoomID, o domain.RoomOverrides) (*domain.Room, error)
	SetRoomPermissionOverride(ctx context.Context, room domain.RoomID, member domain.MemberID, caps []domain.Capability) error
	MoveMember(ctx context.Context, community domain.CommunityID, member domain.MemberID, room domain.RoomID) error
	// DeleteRoom must treat an already missing room as success.
	DeleteRoom(ctx context.Context, room domain.RoomID, reason string) error
	DisconnectMember(ctx context.Context, community domain.CommunityID, member domain.MemberID) error
}

// VoiceStateHandler consumes voice-location changes from the platform gateway.
type VoiceStateHandler interface {
	HandleVoiceState(ctx context.Context, ev domain.VoiceStateEvent)
}
