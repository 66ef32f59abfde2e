package core

import (
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

type SessionID string

// Session is the typed per-connection record created by a successful join.
// Handlers receive it explicitly; it is never looked up by side channel.
type Session struct {
	ID          SessionID
	Room        domain.RoomID
	Participant domain.ParticipantID
	Name        string
	Role        domain.Role
	JoinedAt    time.Time
}

func (s *Session) Joined() bool { return s != nil && s.Room != "" }
