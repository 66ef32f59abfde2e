package statesync

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

// Store is the local replica of remote participants' state. Each participant
// is the only writer of its own state, so fields are last-arrival-wins and
// the per-sender sequence only filters stale or duplicate frames, for
// instance a delta that came over both the data channel and the relay.
type Store struct {
	mu    sync.RWMutex
	peers map[domain.ParticipantID]*entry
}

type entry struct {
	p   domain.Participant
	seq uint64
}

func NewStore() *Store {
	return &Store{peers: make(map[domain.ParticipantID]*entry)}
}

// Reset installs p as a fresh participant, forgetting its sequence. Used on
// join notifications, where the remote may be a restarted process.
func (s *Store) Reset(p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID] = &entry{p: p}
}

// Upsert updates name and state without touching the sequence.
func (s *Store) Upsert(p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.peers[p.ID]; ok {
		e.p = p
		return
	}
	s.peers[p.ID] = &entry{p: p}
}

// ApplyDelta reports whether the delta changed anything. Seq 0 is
// unsequenced and always applied.
func (s *Store) ApplyDelta(id domain.ParticipantID, seq uint64, d domain.StateDelta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peers[id]
	if !ok {
		return false
	}
	if seq != 0 {
		if seq <= e.seq {
			return false
		}
		e.seq = seq
	}
	before := e.p.State
	e.p.State.Apply(d)
	return before != e.p.State
}

// ApplySnapshot replaces the state unless a newer frame was already applied.
// The host flag is assigned by the relay at join and never taken from a peer.
func (s *Store) ApplySnapshot(id domain.ParticipantID, seq uint64, st domain.ParticipantState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peers[id]
	if !ok {
		return false
	}
	if seq != 0 {
		if seq < e.seq {
			return false
		}
		e.seq = seq
	}
	st.IsHost = e.p.State.IsHost
	changed := e.p.State != st
	e.p.State = st
	return changed
}

func (s *Store) Remove(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[id]
	delete(s.peers, id)
	return ok
}

func (s *Store) Get(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[id]
	if !ok {
		return domain.Participant{}, false
	}
	return e.p, true
}

func (s *Store) IDs() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

func (s *Store) Snapshot() map[domain.ParticipantID]domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ParticipantID]domain.Participant, len(s.peers))
	for id, e := range s.peers {
		out[id] = e.p
	}
	return out
}
