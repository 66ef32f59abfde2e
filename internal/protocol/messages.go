// Package protocol defines the JSON messages exchanged over the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

const (
	TypeJoin         = "join"
	TypeJoined       = "joined"
	TypeMemberJoined = "member-joined"
	TypeMemberLeft   = "member-left"
	TypeLeave        = "leave"
	TypeLeft         = "left"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeStateUpdate  = "state-update"
	TypeChat         = "chat"
	TypeMembers      = "members"
	TypeRoomState    = "room-state"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

var (
	ErrBadPayload  = errors.New("bad_payload")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is the single envelope for every relay message. Only the fields
// relevant to Type are populated.
type Message struct {
	Type string `json:"type" validate:"required"`

	MeetingID       string               `json:"meetingId,omitempty"`
	MeetingCode     string               `json:"meetingCode,omitempty"`
	ParticipantID   domain.ParticipantID `json:"participantId,omitempty"`
	ParticipantName string               `json:"participantName,omitempty"`
	IsHost          bool                 `json:"isHost,omitempty"`
	Token           string               `json:"token,omitempty"`

	To   domain.ParticipantID `json:"to,omitempty"`
	From domain.ParticipantID `json:"from,omitempty"`

	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	State   *domain.ParticipantState `json:"state,omitempty"`
	Updates *domain.StateDelta       `json:"updates,omitempty"`
	Seq     uint64                   `json:"seq,omitempty"`

	Members []core.MemberDTO    `json:"members,omitempty"`
	Chat    *domain.ChatMessage `json:"chat,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type joinFields struct {
	MeetingID       string `validate:"required,max=64"`
	ParticipantID   string `validate:"required,max=64"`
	ParticipantName string `validate:"required,max=256"`
	Token           string `validate:"omitempty,hexadecimal,len=64"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses one message and checks that the fields its type needs are
// present. Unknown types are reported with ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch m.Type {
	case TypeJoin:
		if err := validate.Struct(joinFields{
			MeetingID:       m.MeetingID,
			ParticipantID:   string(m.ParticipantID),
			ParticipantName: m.ParticipantName,
			Token:           m.Token,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrBadPayload, m.Type)
		}
		if m.To == "" {
			return fmt.Errorf("%w: %s without recipient", ErrBadPayload, m.Type)
		}
	case TypeICECandidate:
		if m.Candidate == nil || m.To == "" {
			return fmt.Errorf("%w: ice-candidate without candidate or recipient", ErrBadPayload)
		}
	case TypeStateUpdate:
		if m.Updates == nil && m.State == nil {
			return fmt.Errorf("%w: state-update without updates", ErrBadPayload)
		}
	case TypeChat:
		if m.Chat == nil {
			return fmt.Errorf("%w: chat without message", ErrBadPayload)
		}
	case TypeJoined, TypeMemberJoined, TypeMemberLeft, TypeLeave, TypeLeft,
		TypeMembers, TypeRoomState, TypePing, TypePong, TypeError:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

func Encode(m Message) (core.Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// SessionDescription converts the wire sdp of an offer or answer.
func (m Message) SessionDescription() webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if m.Type == TypeAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: m.SDP}
}

func ErrorMessage(reason string) Message {
	return Message{Type: TypeError, Error: reason}
}
