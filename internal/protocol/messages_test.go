package protocol

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecodeJoin(t *testing.T) {
	m, err := Decode([]byte(`{"type":"join","meetingId":"room-0001","participantId":"alice","participantName":"Alice","isHost":true}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ParticipantID != "alice" || !m.IsHost || m.MeetingID != "room-0001" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestDecodeRejectsIncompleteMessages(t *testing.T) {
	cases := map[string]string{
		"join without id":      `{"type":"join","meetingId":"room-0001","participantName":"A"}`,
		"offer without sdp":    `{"type":"offer","to":"bob"}`,
		"offer without to":     `{"type":"offer","sdp":"v=0"}`,
		"candidate without to": `{"type":"ice-candidate","candidate":{"candidate":"x"}}`,
		"empty state-update":   `{"type":"state-update"}`,
		"bad token":            `{"type":"join","meetingId":"room-0001","participantId":"a","participantName":"A","token":"zz"}`,
		"not json":             `{"type":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw)); !errors.Is(err, ErrBadPayload) {
				t.Fatalf("err = %v, want ErrBadPayload", err)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"teleport"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestCandidateSurvivesWire(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	in := Message{
		Type: TypeICECandidate,
		To:   "bob",
		Candidate: &webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		},
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Candidate.Candidate != in.Candidate.Candidate || *out.Candidate.SDPMid != "0" {
		t.Fatalf("candidate mismatch: %+v", out.Candidate)
	}
}
