package app

import (
	"sync"

	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	Record    domain.EphemeralRoom
	Persisted bool
}

// Registry is the in-memory set of ephemeral rooms this process manages.
// A room is unpersisted when it exists on the platform but its durable
// record could not be written yet.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomEntry)}
}

// Load replaces the registry contents with durable records.
func (r *Registry) Load(recs []domain.EphemeralRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[domain.RoomID]*roomEntry, len(recs))
	for _, rec := range recs {
		r.rooms[rec.RoomID] = &roomEntry{Record: rec, Persisted: true}
	}
	log.Info().Str("module", "app.registry").Int("rooms", len(recs)).Msg("loaded ephemeral rooms")
}

func (r *Registry) Track(rec domain.EphemeralRoom, persisted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[rec.RoomID] = &roomEntry{Record: rec, Persisted: persisted}
	log.Info().
		Str("module", "app.registry").
		Str("room", string(rec.RoomID)).
		Str("owner", string(rec.OwnerID)).
		Bool("persisted", persisted).
		Msg("tracking room")
}

func (r *Registry) Get(id domain.RoomID) (domain.EphemeralRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[id]
	if !ok {
		return domain.EphemeralRoom{}, false
	}
	return e.Record, true
}

func (r *Registry) IsTracked(id domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

func (r *Registry) Untrack(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return false
	}
	delete(r.rooms, id)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("untracked room")
	return true
}

func (r *Registry) MarkPersisted(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[id]
	if !ok {
		return false
	}
	e.Persisted = true
	return true
}

func (r *Registry) IsPersisted(id domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[id]
	return ok && e.Persisted
}

// Unpersisted returns the rooms still waiting for a durable write.
func (r *Registry) Unpersisted() []domain.EphemeralRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.EphemeralRoom
	for _, e := range r.rooms {
		if !e.Persisted {
			out = append(out, e.Record)
		}
	}
	return out
}

// CountUnpersisted counts unpersisted rooms in community, optionally
// restricted to owner (empty owner matches all).
func (r *Registry) CountUnpersisted(community domain.CommunityID, owner domain.MemberID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.rooms {
		if e.Persisted || e.Record.CommunityID != community {
			continue
		}
		if owner != "" && e.Record.OwnerID != owner {
			continue
		}
		n++
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
