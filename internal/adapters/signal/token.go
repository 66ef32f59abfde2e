package signal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrTokenMissing = errors.New("join token missing")
	ErrTokenInvalid = errors.New("join token invalid")
)

// JoinTokens binds a participant id to a room. A nil *JoinTokens accepts
// every join.
type JoinTokens struct {
	secret []byte
}

func NewJoinTokens(secret string) *JoinTokens {
	if secret == "" {
		return nil
	}
	return &JoinTokens{secret: []byte(secret)}
}

func (t *JoinTokens) Sign(room domain.RoomID, id domain.ParticipantID) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(string(room) + ":" + string(id)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (t *JoinTokens) Verify(room domain.RoomID, id domain.ParticipantID, token string) error {
	if t == nil {
		return nil
	}
	if token == "" {
		return ErrTokenMissing
	}
	got, err := hex.DecodeString(token)
	if err != nil {
		return ErrTokenInvalid
	}
	want, _ := hex.DecodeString(t.Sign(room, id))
	if !hmac.Equal(got, want) {
		return ErrTokenInvalid
	}
	return nil
}
