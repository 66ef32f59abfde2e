// Package statesync carries participant state deltas, full-state snapshots
// and chat between peers, and keeps the local replica of everyone's state.
package statesync

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Kind string

const (
	KindDelta    Kind = "delta"
	KindSnapshot Kind = "snapshot"
	KindChat     Kind = "chat"
)

var ErrUnknownKind = errors.New("unknown envelope kind")

// Envelope is the data-channel frame. Seq is the sender's own counter and
// SentAt is unix millis.
type Envelope struct {
	Kind    Kind               `msgpack:"k"`
	Seq     uint64             `msgpack:"s"`
	SentAt  int64              `msgpack:"t"`
	Payload msgpack.RawMessage `msgpack:"p"`
}

func Encode(kind Kind, seq uint64, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return msgpack.Marshal(&Envelope{
		Kind:    kind,
		Seq:     seq,
		SentAt:  time.Now().UnixMilli(),
		Payload: raw,
	})
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindDelta, KindSnapshot, KindChat:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return env, nil
}

func (e Envelope) DecodePayload(v any) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
