package core

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[domain.ParticipantID]*Member
	retired atomic.Bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[domain.ParticipantID]*Member),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

// Retired is lock free so the registry can check it while holding its own lock.
func (r *roomImpl) Retired() bool { return r.retired.Load() }

func (r *roomImpl) Info() RoomInfo {
	return RoomInfo{
		ID:          r.room.ID,
		Code:        r.room.MeetingCode(),
		MemberCount: r.MemberCount(),
		CreatedAt:   r.room.CreatedAt,
	}
}

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Lookup(id domain.ParticipantID) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

func (r *roomImpl) Admit(m *Member, onJoin func(evicted *Member, others []*Member)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired.Load() {
		return ErrRoomClosed
	}
	evicted := r.members[m.ID]
	if evicted != nil && evicted.Session == m.Session {
		evicted = nil
	}
	r.members[m.ID] = m
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(m.ID)).Bool("evicted", evicted != nil).Msg("member added")
	if onJoin != nil {
		onJoin(evicted, r.othersLocked(m.ID))
	}
	return nil
}

func (r *roomImpl) Remove(id domain.ParticipantID, sid SessionID, onLeave func(left *Member, rest []*Member)) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || (sid != "" && m.Session != sid) {
		return false, len(r.members) == 0
	}
	delete(r.members, id)
	empty := len(r.members) == 0
	if empty {
		r.retired.Store(true)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Bool("empty", empty).Msg("member removed")
	if onLeave != nil {
		onLeave(m, r.othersLocked(id))
	}
	return true, empty
}

func (r *roomImpl) UpdateState(id domain.ParticipantID, sid SessionID, delta domain.StateDelta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.Session != sid {
		return false
	}
	m.State.Apply(delta)
	return true
}

func (r *roomImpl) SendTo(to domain.ParticipantID, data Frame) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[to]
	if !ok {
		return nil, ErrNoRecipient
	}
	return m, m.Signal.TrySend(data)
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res PublishResult
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.Signal.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.DTO())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *roomImpl) othersLocked(except domain.ParticipantID) []*Member {
	out := make([]*Member, 0, len(r.members))
	for id, m := range r.members {
		if id != except {
			out = append(out, m)
		}
	}
	return out
}
