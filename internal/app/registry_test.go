package app

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

type event struct {
	kind string
	room domain.RoomID
	who  domain.ParticipantID
	to   []domain.ParticipantID
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) MemberJoined(room *domain.Room, joined *core.Member, others []*core.Member, evicted *core.Member) {
	n.record("joined", room, joined, others)
}

func (n *recordingNotifier) MemberLeft(room *domain.Room, left *core.Member, rest []*core.Member) {
	n.record("left", room, left, rest)
}

func (n *recordingNotifier) record(kind string, room *domain.Room, m *core.Member, to []*core.Member) {
	ids := make([]domain.ParticipantID, 0, len(to))
	for _, o := range to {
		ids = append(ids, o.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	n.mu.Lock()
	n.events = append(n.events, event{kind: kind, room: room.ID, who: m.ID, to: ids})
	n.mu.Unlock()
}

func member(id, sid string) *core.Member {
	return &core.Member{
		Session: core.SessionID(sid),
		ID:      domain.ParticipantID(id),
		Name:    id,
		State:   domain.DefaultState(domain.RoleGuest),
		Signal:  nopConn{},
	}
}

func ids(ms []core.MemberDTO) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestRegistryJoinReturnsOthersAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)

	if _, err := reg.Join("room-0001", member("a", "s1")); err != nil {
		t.Fatalf("join a: %v", err)
	}
	res, err := reg.Join("room-0001", member("b", "s2"))
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if got := ids(res.Members); len(got) != 1 || got[0] != "a" {
		t.Fatalf("members for b = %v, want [a]", got)
	}
	if res.Evicted != nil {
		t.Fatalf("unexpected eviction")
	}
	last := n.events[len(n.events)-1]
	if last.kind != "joined" || last.who != "b" || len(last.to) != 1 || last.to[0] != "a" {
		t.Fatalf("last event = %+v", last)
	}
}

func TestRegistryRejoinEvictsStaleSession(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Join("room-0001", member("a", "s1")); err != nil {
		t.Fatalf("join: %v", err)
	}
	res, err := reg.Join("room-0001", member("a", "s2"))
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if res.Evicted == nil || res.Evicted.Session != "s1" {
		t.Fatalf("evicted = %+v, want session s1", res.Evicted)
	}
	if reg.Release("room-0001", "a", "s1") {
		t.Fatalf("stale session released its successor")
	}
	if got := ids(reg.Members("room-0001")); len(got) != 1 || got[0] != "a" {
		t.Fatalf("members = %v", got)
	}
	if !reg.Release("room-0001", "a", "s2") {
		t.Fatalf("live session release failed")
	}
	if _, ok := reg.Room("room-0001"); ok {
		t.Fatalf("empty room was not deleted")
	}
}

func TestRegistryJoinOtherRoomVacatesPrevious(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	_, _ = reg.Join("room-0001", member("a", "s1"))
	_, _ = reg.Join("room-0001", member("b", "s2"))
	if _, err := reg.Join("room-0002", member("a", "s3")); err != nil {
		t.Fatalf("join room-0002: %v", err)
	}
	if got := ids(reg.Members("room-0001")); len(got) != 1 || got[0] != "b" {
		t.Fatalf("room-0001 members = %v, want [b]", got)
	}
	if roomID, _ := reg.RoomOf("a"); roomID != "room-0002" {
		t.Fatalf("RoomOf(a) = %q", roomID)
	}
	var sawLeft bool
	for _, e := range n.events {
		if e.kind == "left" && e.who == "a" && e.room == "room-0001" {
			sawLeft = true
		}
	}
	if !sawLeft {
		t.Fatalf("b was not told that a left")
	}
}

func TestRegistryUpdateStateRequiresOwningSession(t *testing.T) {
	reg := NewRegistry(nil)
	_, _ = reg.Join("room-0001", member("a", "s1"))
	if reg.UpdateState("room-0001", "a", "other", domain.StateDelta{IsHandRaised: domain.Bool(true)}) {
		t.Fatalf("foreign session updated state")
	}
	if !reg.UpdateState("room-0001", "a", "s1", domain.StateDelta{IsHandRaised: domain.Bool(true)}) {
		t.Fatalf("owner update failed")
	}
	if m := reg.Members("room-0001")[0]; !m.State.IsHandRaised {
		t.Fatalf("state not applied: %+v", m.State)
	}
}

// Membership must equal joined-minus-left under arbitrary concurrent churn.
func TestRegistryMembershipMatchesModel(t *testing.T) {
	reg := NewRegistry(nil)
	rooms := []domain.RoomID{"room-aaaa", "room-bbbb", "room-cccc"}
	const workers = 8

	var wg sync.WaitGroup
	final := make([]domain.RoomID, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			id := fmt.Sprintf("p%d", w)
			var cur domain.RoomID
			for i := 0; i < 300; i++ {
				if rng.Intn(3) == 0 && cur != "" {
					reg.Leave(cur, domain.ParticipantID(id))
					cur = ""
					continue
				}
				room := rooms[rng.Intn(len(rooms))]
				if _, err := reg.Join(room, member(id, fmt.Sprintf("%s-%d", id, i))); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				cur = room
			}
			final[w] = cur
		}(w)
	}
	wg.Wait()

	want := map[domain.RoomID]map[domain.ParticipantID]bool{}
	for w, room := range final {
		if room == "" {
			continue
		}
		if want[room] == nil {
			want[room] = map[domain.ParticipantID]bool{}
		}
		want[room][domain.ParticipantID(fmt.Sprintf("p%d", w))] = true
	}
	for _, room := range rooms {
		got := reg.Members(room)
		if len(got) != len(want[room]) {
			t.Fatalf("room %s: got %v want %v", room, ids(got), want[room])
		}
		for _, m := range got {
			if !want[room][m.ID] {
				t.Fatalf("room %s: unexpected member %s", room, m.ID)
			}
		}
		if len(want[room]) == 0 {
			if _, ok := reg.Room(room); ok {
				t.Fatalf("room %s should have been deleted", room)
			}
		}
	}
}

func TestSimplePolicyKicksAfterConsecutiveDrops(t *testing.T) {
	p := NewSimplePolicy(3)
	m := member("a", "s1")
	for i := 0; i < 2; i++ {
		if got := p.OnBackPressure(nil, m); got != DropFrame {
			t.Fatalf("drop %d: got %v", i, got)
		}
	}
	p.OnDelivered(m)
	if got := p.OnBackPressure(nil, m); got != DropFrame {
		t.Fatalf("after delivery: got %v", got)
	}
	_ = p.OnBackPressure(nil, m)
	if got := p.OnBackPressure(nil, m); got != KickMember {
		t.Fatalf("third consecutive drop: got %v", got)
	}
}
