package core

import (
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrRoomClosed  = errors.New("room closed")
	ErrNoRecipient = errors.New("recipient not in room")
)

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []*Member
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID    domain.ParticipantID    `json:"participantId"`
	Name  string                  `json:"participantName"`
	State domain.ParticipantState `json:"state"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	Code        string        `json:"code"`
	MemberCount int           `json:"member_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Notifier receives membership changes while the room is still locked, so
// every member observes joins and leaves in the order they were applied.
// Implementations must not block.
type Notifier interface {
	MemberJoined(room *domain.Room, joined *Member, others []*Member, evicted *Member)
	MemberLeft(room *domain.Room, left *Member, rest []*Member)
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	Retired() bool
	Info() RoomInfo
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Lookup(id domain.ParticipantID) (*Member, bool)

	// Admit adds m, replacing any entry held under the same participant id.
	// It fails with ErrRoomClosed once the room has been retired.
	Admit(m *Member, onJoin func(evicted *Member, others []*Member)) error
	// Remove drops id. A non-empty sid only matches the entry it created.
	// The room retires itself when the last member leaves.
	Remove(id domain.ParticipantID, sid SessionID, onLeave func(left *Member, rest []*Member)) (removed bool, empty bool)
	UpdateState(id domain.ParticipantID, sid SessionID, delta domain.StateDelta) bool

	SendTo(to domain.ParticipantID, data Frame) (*Member, error)
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
}
