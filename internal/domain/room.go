package domain

import (
	"strings"
	"time"
)

type RoomID string

type Room struct {
	ID        RoomID
	CreatedAt time.Time
}

func NewRoom(id RoomID) *Room {
	return &Room{ID: id, CreatedAt: time.Now()}
}

// MeetingCode is the short human-facing form of a room id.
func (r *Room) MeetingCode() string {
	code := strings.ReplaceAll(string(r.ID), "-", "")
	if len(code) > 8 {
		code = code[:8]
	}
	return strings.ToUpper(code)
}
