package domain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxNameLen          = 100
)

var (
	ErrMeetingIDInvalid     = errors.New("meeting id invalid")
	ErrParticipantIDInvalid = errors.New("participant id invalid")
	ErrNameEmpty            = errors.New("participant name empty")
	ErrEmptyMessage         = errors.New("empty message")
)

var (
	meetingIDRe     = regexp.MustCompile(`^[A-Za-z0-9-]{8,32}$`)
	participantIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateRoomID accepts a uuid or a short alphanumeric code.
func ValidateRoomID(id string) (RoomID, error) {
	if _, err := uuid.Parse(id); err == nil {
		return RoomID(strings.ToLower(id)), nil
	}
	if !meetingIDRe.MatchString(id) {
		return "", ErrMeetingIDInvalid
	}
	return RoomID(id), nil
}

func ValidateParticipantID(id string) (ParticipantID, error) {
	if !participantIDRe.MatchString(id) {
		return "", ErrParticipantIDInvalid
	}
	return ParticipantID(id), nil
}

// SanitizeName trims, strips angle brackets and caps the length.
func SanitizeName(name string) (string, error) {
	name = sanitize(name, MaxNameLen)
	if name == "" {
		return "", ErrNameEmpty
	}
	return name, nil
}

func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	return s
}
