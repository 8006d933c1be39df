// Package store holds the durable room registry drivers.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
)

// Memory is an in-process RoomStore. It does not survive restarts and is
// meant for development and tests.
type Memory struct {
	mu      sync.RWMutex
	configs map[domain.CommunityID]domain.MasterRoomConfig
	rooms   map[domain.RoomID]domain.EphemeralRoom
}

func NewMemory() *Memory {
	return &Memory{
		configs: make(map[domain.CommunityID]domain.MasterRoomConfig),
		rooms:   make(map[domain.RoomID]domain.EphemeralRoom),
	}
}

func (m *Memory) GetMasterConfig(_ context.Context, community domain.CommunityID) (*domain.MasterRoomConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[community]
	if !ok {
		return nil, core.ErrNotConfigured
	}
	return &cfg, nil
}

func (m *Memory) SetMasterConfig(_ context.Context, community domain.CommunityID, room domain.RoomID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[community] = domain.MasterRoomConfig{
		CommunityID:  community,
		MasterRoomID: room,
		Enabled:      enabled,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

// InsertEphemeralRoom upserts, so a retried write is harmless.
func (m *Memory) InsertEphemeralRoom(_ context.Context, rec domain.EphemeralRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[rec.RoomID] = rec
	return nil
}

func (m *Memory) DeleteEphemeralRoom(_ context.Context, room domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
	return nil
}

func (m *Memory) ListEphemeralRooms(_ context.Context) ([]domain.EphemeralRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.EphemeralRoom, 0, len(m.rooms))
	for _, rec := range m.rooms {
		out = append(out, rec)
	}
	sortRooms(out)
	return out, nil
}

func (m *Memory) ListCommunityRooms(_ context.Context, community domain.CommunityID) ([]domain.EphemeralRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.EphemeralRoom
	for _, rec := range m.rooms {
		if rec.CommunityID == community {
			out = append(out, rec)
		}
	}
	sortRooms(out)
	return out, nil
}

func (m *Memory) CountOwnedRooms(_ context.Context, community domain.CommunityID, owner domain.MemberID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.rooms {
		if rec.CommunityID == community && rec.OwnerID == owner {
			n++
		}
	}
	return n, nil
}

func sortRooms(recs []domain.EphemeralRoom) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].RoomID < recs[j].RoomID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
