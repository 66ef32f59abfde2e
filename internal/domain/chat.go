package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxChatLen = 1000

type ChatMessage struct {
	ID         string        `json:"id" msgpack:"id"`
	SenderID   ParticipantID `json:"senderId" msgpack:"senderId"`
	SenderName string        `json:"senderName" msgpack:"senderName"`
	Content    string        `json:"content" msgpack:"content"`
	Timestamp  int64         `json:"timestamp" msgpack:"timestamp"`
}

// NewChatMessage stamps a fresh id and the current time in unix millis.
func NewChatMessage(from Participant, content string) (ChatMessage, error) {
	content = sanitize(content, MaxChatLen)
	if content == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	return ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   from.ID,
		SenderName: from.Name,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	}, nil
}
