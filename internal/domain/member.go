package domain

type MemberID string

// VoiceStateEvent is a voice-location change reported by the platform gateway.
// An empty RoomID means the member is not in any room.
type VoiceStateEvent struct {
	CommunityID CommunityID `json:"community_id"`
	MemberID    MemberID    `json:"member_id"`
	DisplayName string      `json:"display_name"`
	Before      RoomID      `json:"before"`
	After       RoomID      `json:"after"`
}
