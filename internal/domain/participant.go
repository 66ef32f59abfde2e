// Package domain contains entity without logic, just meta-data
package domain

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func RoleFor(isHost bool) Role {
	if isHost {
		return RoleHost
	}
	return RoleGuest
}

// ParticipantState is self-reported by each participant and replicated to
// everybody else in the room.
type ParticipantState struct {
	IsHost          bool `json:"isHost" msgpack:"isHost"`
	IsAudioEnabled  bool `json:"isAudioEnabled" msgpack:"isAudioEnabled"`
	IsVideoEnabled  bool `json:"isVideoEnabled" msgpack:"isVideoEnabled"`
	IsScreenSharing bool `json:"isScreenSharing" msgpack:"isScreenSharing"`
	IsHandRaised    bool `json:"isHandRaised" msgpack:"isHandRaised"`
	IsAdmitted      bool `json:"isAdmitted" msgpack:"isAdmitted"`
}

func DefaultState(role Role) ParticipantState {
	return ParticipantState{
		IsHost:         role == RoleHost,
		IsAudioEnabled: true,
		IsVideoEnabled: true,
		IsAdmitted:     true,
	}
}

// StateDelta is a partial ParticipantState. Nil fields are left untouched.
// The host flag is not part of it: role is assigned at join time only.
type StateDelta struct {
	IsAudioEnabled  *bool `json:"isAudioEnabled,omitempty" msgpack:"isAudioEnabled,omitempty"`
	IsVideoEnabled  *bool `json:"isVideoEnabled,omitempty" msgpack:"isVideoEnabled,omitempty"`
	IsScreenSharing *bool `json:"isScreenSharing,omitempty" msgpack:"isScreenSharing,omitempty"`
	IsHandRaised    *bool `json:"isHandRaised,omitempty" msgpack:"isHandRaised,omitempty"`
	IsAdmitted      *bool `json:"isAdmitted,omitempty" msgpack:"isAdmitted,omitempty"`
}

// Bool is a tiny helper for building deltas.
func Bool(b bool) *bool { return &b }

func (d StateDelta) IsEmpty() bool {
	return d.IsAudioEnabled == nil &&
		d.IsVideoEnabled == nil &&
		d.IsScreenSharing == nil &&
		d.IsHandRaised == nil &&
		d.IsAdmitted == nil
}

// Apply overwrites every field present in d.
func (s *ParticipantState) Apply(d StateDelta) {
	if d.IsAudioEnabled != nil {
		s.IsAudioEnabled = *d.IsAudioEnabled
	}
	if d.IsVideoEnabled != nil {
		s.IsVideoEnabled = *d.IsVideoEnabled
	}
	if d.IsScreenSharing != nil {
		s.IsScreenSharing = *d.IsScreenSharing
	}
	if d.IsHandRaised != nil {
		s.IsHandRaised = *d.IsHandRaised
	}
	if d.IsAdmitted != nil {
		s.IsAdmitted = *d.IsAdmitted
	}
}

type Participant struct {
	ID    ParticipantID    `json:"participantId"`
	Name  string           `json:"participantName"`
	State ParticipantState `json:"state"`
}

func (p Participant) Role() Role { return RoleFor(p.State.IsHost) }
