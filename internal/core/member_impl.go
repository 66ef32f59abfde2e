package core

import "github.com/dkeye/Meet/internal/domain"

// Member binds participant meta and its transport endpoint.
// This is what a room stores and fans out to.
type Member struct {
	Session SessionID
	ID      domain.ParticipantID
	Name    string
	State   domain.ParticipantState
	Signal  SignalConnection
}

func NewMember(sess *Session, state domain.ParticipantState, conn SignalConnection) *Member {
	state.IsHost = sess.Role == domain.RoleHost
	return &Member{
		Session: sess.ID,
		ID:      sess.Participant,
		Name:    sess.Name,
		State:   state,
		Signal:  conn,
	}
}

func (m *Member) DTO() MemberDTO {
	return MemberDTO{ID: m.ID, Name: m.Name, State: m.State}
}
