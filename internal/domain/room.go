package domain

import (
	"time"
	"unicode/utf8"
)

// MaxRoomNameLen is the platform limit for room names, in runes.
const MaxRoomNameLen = 100

type RoomID string

// Capability is a room-scoped permission granted to a room owner.
type Capability string

const (
	CapManageRoom  Capability = "manage_room"
	CapMoveMembers Capability = "move_members"
	CapMuteMembers Capability = "mute_members"
)

// OwnerCapabilities is the set granted to the owner of an ephemeral room.
var OwnerCapabilities = []Capability{CapManageRoom, CapMoveMembers, CapMuteMembers}

// Room is the platform's view of a voice room.
type Room struct {
	ID          RoomID      `json:"id"`
	CommunityID CommunityID `json:"community_id"`
	Name        string      `json:"name"`
	ParentID    RoomID      `json:"parent_id,omitempty"`
	Bitrate     int         `json:"bitrate,omitempty"`
	UserLimit   int         `json:"user_limit,omitempty"`
	Position    int         `json:"position,omitempty"`
	Occupants   []MemberID  `json:"occupants"`
}

func (r *Room) OccupantCount() int { return len(r.Occupants) }

// RoomOverrides are applied on top of the master room's settings when cloning.
type RoomOverrides struct {
	Name string `json:"name"`
}

// EphemeralRoom is the durable record of a member-owned room.
type EphemeralRoom struct {
	RoomID      RoomID      `json:"room_id"`
	CommunityID CommunityID `json:"community_id"`
	OwnerID     MemberID    `json:"owner_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EphemeralRoomName derives the name of a member's room from their display name.
func EphemeralRoomName(displayName string, owner MemberID) string {
	if displayName == "" {
		displayName = string(owner)
	}
	name := displayName + "'s Room"
	if utf8.RuneCountInString(name) <= MaxRoomNameLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxRoomNameLen])
}
