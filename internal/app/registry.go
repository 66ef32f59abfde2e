package app

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxAdmitAttempts = 8

var ErrJoinContended = errors.New("room retired repeatedly during join")

type JoinResult struct {
	Room    *domain.Room
	Members []core.MemberDTO
	Evicted *core.Member
}

// Registry is the authoritative room -> member mapping. Each room serializes
// its own mutations; the registry lock only guards the room map and the
// participant index, and is always taken after a room lock, never before.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]core.RoomService
	index    map[domain.ParticipantID]domain.RoomID
	notifier core.Notifier
}

func NewRegistry(n core.Notifier) *Registry {
	if n == nil {
		n = nopNotifier{}
	}
	return &Registry{
		rooms:    make(map[domain.RoomID]core.RoomService),
		index:    make(map[domain.ParticipantID]domain.RoomID),
		notifier: n,
	}
}

// Join admits m into roomID. A participant id already present under another
// session is evicted and returned; membership in any other room is vacated.
func (r *Registry) Join(roomID domain.RoomID, m *core.Member) (JoinResult, error) {
	r.vacateOthers(roomID, m.ID)

	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		room := r.getOrCreate(roomID)
		var res JoinResult
		err := room.Admit(m, func(evicted *core.Member, others []*core.Member) {
			r.mu.Lock()
			r.index[m.ID] = roomID
			r.mu.Unlock()

			res.Room = room.Room()
			res.Evicted = evicted
			res.Members = dtos(others)
			r.notifier.MemberJoined(room.Room(), m, others, evicted)
		})
		if errors.Is(err, core.ErrRoomClosed) {
			r.drop(roomID, room)
			continue
		}
		if err != nil {
			return JoinResult{}, err
		}
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("participant", string(m.ID)).Int("others", len(res.Members)).Msg("joined")
		return res, nil
	}
	return JoinResult{}, ErrJoinContended
}

// Leave removes id from roomID regardless of which session holds it.
func (r *Registry) Leave(roomID domain.RoomID, id domain.ParticipantID) bool {
	return r.remove(roomID, id, "")
}

// Release removes id only while it is still owned by sid. Transport close
// uses it so a stale connection never removes the session that replaced it.
func (r *Registry) Release(roomID domain.RoomID, id domain.ParticipantID, sid core.SessionID) bool {
	if sid == "" {
		return false
	}
	return r.remove(roomID, id, sid)
}

func (r *Registry) Members(roomID domain.RoomID) []core.MemberDTO {
	room, ok := r.Room(roomID)
	if !ok {
		return []core.MemberDTO{}
	}
	return room.MembersSnapshot()
}

func (r *Registry) Room(roomID domain.RoomID) (core.RoomService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *Registry) RoomOf(id domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.index[id]
	return roomID, ok
}

func (r *Registry) UpdateState(roomID domain.RoomID, id domain.ParticipantID, sid core.SessionID, delta domain.StateDelta) bool {
	room, ok := r.Room(roomID)
	if !ok {
		return false
	}
	return room.UpdateState(id, sid, delta)
}

func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	rooms := make([]core.RoomService, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts reports the number of live rooms and participants.
func (r *Registry) Counts() (rooms, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.index)
}

func (r *Registry) vacateOthers(roomID domain.RoomID, id domain.ParticipantID) {
	prev, ok := r.RoomOf(id)
	if !ok || prev == roomID {
		return
	}
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Str("from", string(prev)).Str("to", string(roomID)).Msg("vacating previous room")
	r.Leave(prev, id)
}

func (r *Registry) remove(roomID domain.RoomID, id domain.ParticipantID, sid core.SessionID) bool {
	room, ok := r.Room(roomID)
	if !ok {
		return false
	}
	removed, empty := room.Remove(id, sid, func(left *core.Member, rest []*core.Member) {
		r.mu.Lock()
		if r.index[id] == roomID {
			delete(r.index, id)
		}
		r.mu.Unlock()
		r.notifier.MemberLeft(room.Room(), left, rest)
	})
	if empty {
		r.drop(roomID, room)
	}
	return removed
}

func (r *Registry) getOrCreate(roomID domain.RoomID) core.RoomService {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[roomID]; !ok {
		room = core.NewRoomService(domain.NewRoom(roomID))
		r.rooms[roomID] = room
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room created")
	}
	return room
}

// drop deletes the map entry only if it still points at the retired room.
func (r *Registry) drop(roomID domain.RoomID, room core.RoomService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[roomID]; ok && cur == room && room.Retired() {
		delete(r.rooms, roomID)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
	}
}

func dtos(ms []*core.Member) []core.MemberDTO {
	out := make([]core.MemberDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.DTO())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type nopNotifier struct{}

func (nopNotifier) MemberJoined(*domain.Room, *core.Member, []*core.Member, *core.Member) {}
func (nopNotifier) MemberLeft(*domain.Room, *core.Member, []*core.Member)                 {}
