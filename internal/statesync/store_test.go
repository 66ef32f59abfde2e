package statesync

import (
	"testing"

	"github.com/dkeye/Meet/internal/domain"
)

func TestStoreConvergesToOrderedDeltas(t *testing.T) {
	s := NewStore()
	s.Reset(domain.Participant{ID: "p", Name: "P", State: domain.DefaultState(domain.RoleGuest)})

	deltas := []domain.StateDelta{
		{IsAudioEnabled: domain.Bool(false)},
		{IsHandRaised: domain.Bool(true)},
		{IsAudioEnabled: domain.Bool(true), IsVideoEnabled: domain.Bool(false)},
		{IsHandRaised: domain.Bool(false), IsScreenSharing: domain.Bool(true)},
	}
	want := domain.DefaultState(domain.RoleGuest)
	for i, d := range deltas {
		want.Apply(d)
		s.ApplyDelta("p", uint64(i+1), d)
	}
	got, _ := s.Get("p")
	if got.State != want {
		t.Fatalf("state = %+v, want %+v", got.State, want)
	}
}

func TestStoreDropsStaleAndDuplicateFrames(t *testing.T) {
	s := NewStore()
	s.Reset(domain.Participant{ID: "p", State: domain.DefaultState(domain.RoleGuest)})

	if !s.ApplyDelta("p", 2, domain.StateDelta{IsAudioEnabled: domain.Bool(false)}) {
		t.Fatalf("first delta not applied")
	}
	if s.ApplyDelta("p", 2, domain.StateDelta{IsAudioEnabled: domain.Bool(false)}) {
		t.Fatalf("duplicate applied")
	}
	if s.ApplyDelta("p", 1, domain.StateDelta{IsAudioEnabled: domain.Bool(true)}) {
		t.Fatalf("stale delta applied")
	}
	old := domain.DefaultState(domain.RoleGuest)
	if s.ApplySnapshot("p", 1, old) {
		t.Fatalf("stale snapshot applied")
	}
	if got, _ := s.Get("p"); got.State.IsAudioEnabled {
		t.Fatalf("stale frame leaked: %+v", got.State)
	}

	// A rejoin resets the sequence so a restarted sender is not ignored.
	s.Reset(domain.Participant{ID: "p", State: domain.DefaultState(domain.RoleGuest)})
	if !s.ApplyDelta("p", 1, domain.StateDelta{IsHandRaised: domain.Bool(true)}) {
		t.Fatalf("delta after reset ignored")
	}
}

func TestSnapshotKeepsRelayAssignedRole(t *testing.T) {
	s := NewStore()
	s.Reset(domain.Participant{ID: "guest", State: domain.DefaultState(domain.RoleGuest)})
	s.Reset(domain.Participant{ID: "host", State: domain.DefaultState(domain.RoleHost)})

	claimed := domain.DefaultState(domain.RoleHost)
	claimed.IsHandRaised = true
	if !s.ApplySnapshot("guest", 1, claimed) {
		t.Fatalf("snapshot not applied")
	}
	got, _ := s.Get("guest")
	if got.State.IsHost || !got.State.IsHandRaised {
		t.Fatalf("guest state = %+v", got.State)
	}

	if s.ApplySnapshot("host", 1, domain.DefaultState(domain.RoleGuest)) {
		t.Fatalf("role-only snapshot reported a change")
	}
	if got, _ := s.Get("host"); !got.State.IsHost {
		t.Fatalf("host demoted by peer snapshot")
	}
}

func TestStoreIgnoresUnknownParticipants(t *testing.T) {
	s := NewStore()
	if s.ApplyDelta("ghost", 1, domain.StateDelta{IsAudioEnabled: domain.Bool(false)}) {
		t.Fatalf("unknown participant updated")
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("unknown participant created")
	}
}

func TestEnvelopeCarriesTypedPayload(t *testing.T) {
	d := domain.StateDelta{IsScreenSharing: domain.Bool(true)}
	raw, err := Encode(KindDelta, 7, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var got domain.StateDelta
	if err := env.DecodePayload(&got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if env.Kind != KindDelta || env.Seq != 7 || got.IsScreenSharing == nil || !*got.IsScreenSharing || got.IsAudioEnabled != nil {
		t.Fatalf("env = %+v payload = %+v", env, got)
	}
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Fatalf("garbage decoded")
	}
}
