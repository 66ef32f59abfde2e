package mesh

import (
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
)

type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindNegotiation
	KindMedia
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNegotiation:
		return "negotiation"
	case KindMedia:
		return "media"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

var (
	ErrConnectTimeout = errors.New("peer connection timed out")
	ErrJoinRejected   = errors.New("join rejected")
	ErrNotRunning     = errors.New("orchestrator not running")
	ErrNotJoined      = errors.New("not joined")
	ErrUnexpected     = errors.New("unexpected message for link state")
)

// Error is what observers receive. Participant is empty for errors that are
// not tied to a single link. Fatal errors end the session.
type Error struct {
	Kind        ErrorKind
	Participant domain.ParticipantID
	Fatal       bool
	Err         error
}

func (e *Error) Error() string {
	if e.Participant != "" {
		return fmt.Sprintf("%s error with %s: %v", e.Kind, e.Participant, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
