package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/tempvoice/internal/adapters/store"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	testCommunity domain.CommunityID = "c1"
	testMaster    domain.RoomID      = "master"
)

var errInjected = errors.New("injected failure")

// journal records side effects from the store and the platform in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string) int {
	for i, e := range j.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

// fakePlatform keeps rooms and member locations in memory. Moves and
// disconnects it performs are queued as voice events, like a real gateway
// would report them.
type fakePlatform struct {
	mu     sync.Mutex
	rooms  map[domain.RoomID]*domain.Room
	where  map[domain.MemberID]domain.RoomID
	events []domain.VoiceStateEvent
	nextID int
	log    *journal
	reason map[domain.RoomID]string

	fetchHook func(domain.RoomID) error
	cloneErr  error
	moveErr   error
	deleteErr error
}

func newFakePlatform(j *journal) *fakePlatform {
	return &fakePlatform{
		rooms:  make(map[domain.RoomID]*domain.Room),
		where:  make(map[domain.MemberID]domain.RoomID),
		log:    j,
		reason: make(map[domain.RoomID]string),
	}
}

func (p *fakePlatform) addRoom(id domain.RoomID, community domain.CommunityID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[id] = &domain.Room{ID: id, CommunityID: community, Name: string(id), Bitrate: 64000}
}

func (p *fakePlatform) removeRoom(id domain.RoomID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, id)
}

func (p *fakePlatform) hasRoom(id domain.RoomID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rooms[id]
	return ok
}

func (p *fakePlatform) roomCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms)
}

func (p *fakePlatform) location(m domain.MemberID) domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.where[m]
}

// place moves m without queueing an event and returns the previous location.
func (p *fakePlatform) place(m domain.MemberID, to domain.RoomID) domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placeLocked(m, to)
}

func (p *fakePlatform) placeLocked(m domain.MemberID, to domain.RoomID) domain.RoomID {
	before := p.where[m]
	if r, ok := p.rooms[before]; ok {
		kept := r.Occupants[:0]
		for _, o := range r.Occupants {
			if o != m {
				kept = append(kept, o)
			}
		}
		r.Occupants = kept
	}
	if to == "" {
		delete(p.where, m)
		return before
	}
	if r, ok := p.rooms[to]; ok {
		r.Occupants = append(r.Occupants, m)
	}
	p.where[m] = to
	return before
}

func (p *fakePlatform) failDeletes(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErr = err
}

func (p *fakePlatform) drainEvents() []domain.VoiceStateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.events
	p.events = nil
	return evs
}

func (p *fakePlatform) FetchRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	p.mu.Lock()
	hook := p.fetchHook
	p.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rooms[id]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	cp := *r
	cp.Occupants = append([]domain.MemberID(nil), r.Occupants...)
	return &cp, nil
}

func (p *fakePlatform) CloneRoom(_ context.Context, master domain.RoomID, o domain.RoomOverrides) (*domain.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cloneErr != nil {
		return nil, p.cloneErr
	}
	m, ok := p.rooms[master]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	p.nextID++
	r := &domain.Room{
		ID:          domain.RoomID(fmt.Sprintf("room-%d", p.nextID)),
		CommunityID: m.CommunityID,
		Name:        o.Name,
		Bitrate:     m.Bitrate,
	}
	p.rooms[r.ID] = r
	p.log.add("platform.clone:%s", r.ID)
	return r, nil
}

func (p *fakePlatform) SetRoomPermissionOverride(_ context.Context, room domain.RoomID, member domain.MemberID, caps []domain.Capability) error {
	p.log.add("platform.grant:%s:%s:%d", room, member, len(caps))
	return nil
}

func (p *fakePlatform) MoveMember(_ context.Context, c domain.CommunityID, m domain.MemberID, room domain.RoomID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.moveErr != nil {
		return p.moveErr
	}
	before := p.placeLocked(m, room)
	p.events = append(p.events, domain.VoiceStateEvent{CommunityID: c, MemberID: m, Before: before, After: room})
	p.log.add("platform.move:%s:%s", m, room)
	return nil
}

func (p *fakePlatform) DeleteRoom(_ context.Context, room domain.RoomID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.rooms, room)
	p.reason[room] = reason
	p.log.add("platform.delete:%s", room)
	return nil
}

func (p *fakePlatform) DisconnectMember(_ context.Context, c domain.CommunityID, m domain.MemberID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := p.placeLocked(m, "")
	p.events = append(p.events, domain.VoiceStateEvent{CommunityID: c, MemberID: m, Before: before})
	p.log.add("platform.disconnect:%s", m)
	return nil
}

// journalStore wraps the memory store, journals deletes and can fail
// inserts and deletes.
type journalStore struct {
	*store.Memory
	log *journal

	mu          sync.Mutex
	insertFails int
	deleteFails int
}

func (s *journalStore) failInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFails = n
}

func (s *journalStore) failDeletes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFails = n
}

func (s *journalStore) InsertEphemeralRoom(ctx context.Context, rec domain.EphemeralRoom) error {
	s.mu.Lock()
	if s.insertFails > 0 {
		s.insertFails--
		s.mu.Unlock()
		return errInjected
	}
	s.mu.Unlock()
	return s.Memory.InsertEphemeralRoom(ctx, rec)
}

func (s *journalStore) DeleteEphemeralRoom(ctx context.Context, room domain.RoomID) error {
	s.mu.Lock()
	if s.deleteFails > 0 {
		s.deleteFails--
		s.mu.Unlock()
		return errInjected
	}
	s.mu.Unlock()
	s.log.add("store.delete:%s", room)
	return s.Memory.DeleteEphemeralRoom(ctx, room)
}

type harness struct {
	t   *testing.T
	o   *Orchestrator
	p   *fakePlatform
	s   *journalStore
	log *journal
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newSeededHarness(t, cfg, nil)
}

// newSeededHarness lets seed prepare platform and store state before the
// orchestrator starts, simulating a process restart.
func newSeededHarness(t *testing.T, cfg Config, seed func(h *harness)) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		t:   t,
		p:   newFakePlatform(j),
		s:   &journalStore{Memory: store.NewMemory(), log: j},
		log: j,
	}
	h.p.addRoom(testMaster, testCommunity)
	require.NoError(t, h.s.SetMasterConfig(context.Background(), testCommunity, testMaster, true))
	if seed != nil {
		seed(h)
	}
	h.o = New(h.s, h.p, cfg)
	require.NoError(t, h.o.Start(context.Background()))
	t.Cleanup(h.o.Shutdown)
	return h
}

// move relocates m on the platform and delivers the resulting event plus
// every event the orchestrator's own platform calls produced.
func (h *harness) move(m domain.MemberID, to domain.RoomID) {
	h.t.Helper()
	before := h.p.place(m, to)
	h.dispatch(domain.VoiceStateEvent{
		CommunityID: testCommunity,
		MemberID:    m,
		DisplayName: string(m),
		Before:      before,
		After:       to,
	})
}

func (h *harness) dispatch(ev domain.VoiceStateEvent) {
	queue := []domain.VoiceStateEvent{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next.DisplayName == "" {
			next.DisplayName = string(next.MemberID)
		}
		h.o.HandleVoiceState(context.Background(), next)
		queue = append(queue, h.p.drainEvents()...)
	}
}

func (h *harness) seedRecord(room domain.RoomID, community domain.CommunityID, owner domain.MemberID) {
	h.t.Helper()
	require.NoError(h.t, h.s.Memory.InsertEphemeralRoom(context.Background(), domain.EphemeralRoom{
		RoomID:      room,
		CommunityID: community,
		OwnerID:     owner,
		CreatedAt:   time.Now().UTC(),
	}))
}

func (h *harness) deleteReason(room domain.RoomID) string {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	return h.p.reason[room]
}

func (h *harness) records() []domain.EphemeralRoom {
	h.t.Helper()
	recs, err := h.s.ListEphemeralRooms(context.Background())
	require.NoError(h.t, err)
	return recs
}
