// Package domain contains entities without logic, just meta-data
package domain

import "time"

type CommunityID string

// MasterRoomConfig is stored per community. Its absence means the feature is off.
type MasterRoomConfig struct {
	CommunityID  CommunityID `json:"community_id"`
	MasterRoomID RoomID      `json:"master_room_id"`
	Enabled      bool        `json:"enabled"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type Status struct {
	CommunityID   CommunityID `json:"community_id"`
	MasterRoomID  RoomID      `json:"master_room_id"`
	Enabled       bool        `json:"enabled"`
	LiveRoomCount int         `json:"live_room_count"`
}

// SweepResult reports the outcome of a reconciliation pass.
type SweepResult struct {
	Checked int `json:"checked"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}
