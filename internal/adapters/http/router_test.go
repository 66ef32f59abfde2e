package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:             "test",
		ReadLimit:        65536,
		PingPeriod:       time.Minute,
		SendBuffer:       256,
		Secret:           "test-secret",
		JoinRateLimit:    100,
		JoinRateInterval: time.Minute,
		MessageRate:      10000,
		MessageBurst:     10000,
		MaxDrops:         16,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *signal.SignalWSController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := metrics.New()
	reg := app.NewRegistry(&signal.Announcer{Metrics: m})
	ctl := signal.NewSignalWSController(cfg, reg, app.NewSimplePolicy(cfg.MaxDrops), m)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, ctl))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, ctl
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, m protocol.Message) {
	t.Helper()
	if err := c.WriteJSON(m); err != nil {
		t.Fatalf("write %s: %v", m.Type, err)
	}
}

func recv(t *testing.T, c *websocket.Conn) protocol.Message {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m protocol.Message
	if err := c.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func expect(t *testing.T, c *websocket.Conn, typ string) protocol.Message {
	t.Helper()
	m := recv(t, c)
	if m.Type != typ {
		t.Fatalf("got %q (%+v), want %q", m.Type, m, typ)
	}
	return m
}

// expectQuiet proves nothing is queued for c by round-tripping a ping.
func expectQuiet(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, protocol.Message{Type: protocol.TypePing})
	expect(t, c, protocol.TypePong)
}

func join(t *testing.T, c *websocket.Conn, room, id string, host bool) protocol.Message {
	t.Helper()
	send(t, c, protocol.Message{
		Type:            protocol.TypeJoin,
		MeetingID:       room,
		ParticipantID:   domain.ParticipantID(id),
		ParticipantName: strings.ToUpper(id),
		IsHost:          host,
	})
	return expect(t, c, protocol.TypeJoined)
}

func TestRelayJoinAnnouncesMembers(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b := dial(t, srv), dial(t, srv)

	joinedA := join(t, a, "room-r1-0001", "a", true)
	if len(joinedA.Members) != 0 || joinedA.MeetingCode != "ROOMR100" {
		t.Fatalf("joined a = %+v", joinedA)
	}

	joinedB := join(t, b, "room-r1-0001", "b", false)
	if len(joinedB.Members) != 1 || joinedB.Members[0].ID != "a" || !joinedB.Members[0].State.IsHost {
		t.Fatalf("joined b members = %+v", joinedB.Members)
	}

	ev := expect(t, a, protocol.TypeMemberJoined)
	if ev.ParticipantID != "b" || ev.ParticipantName != "B" || ev.State == nil || ev.State.IsHost {
		t.Fatalf("member-joined = %+v", ev)
	}
	if !ev.State.IsAudioEnabled || !ev.State.IsVideoEnabled {
		t.Fatalf("default state not announced: %+v", ev.State)
	}
}

func TestRelayForwardsOnlyToRecipientWithServerSideFrom(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b, c := dial(t, srv), dial(t, srv), dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)
	join(t, b, "room-r1-0001", "b", false)
	expect(t, a, protocol.TypeMemberJoined)
	join(t, c, "room-r1-0001", "c", false)
	expect(t, a, protocol.TypeMemberJoined)
	expect(t, b, protocol.TypeMemberJoined)

	send(t, b, protocol.Message{Type: protocol.TypeOffer, To: "a", From: "mallory", SDP: "v=0"})
	got := expect(t, a, protocol.TypeOffer)
	if got.From != "b" || got.SDP != "v=0" {
		t.Fatalf("offer = %+v", got)
	}
	expectQuiet(t, c)
}

func TestRelayDropsMessagesForAbsentRecipient(t *testing.T) {
	srv, ctl := newTestServer(t, testConfig())
	a := dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)

	send(t, a, protocol.Message{Type: protocol.TypeAnswer, To: "ghost", SDP: "v=0"})
	expectQuiet(t, a)
	if got := ctl.Metrics.Get(metrics.DropNoRecipient); got != 1 {
		t.Fatalf("drop_no_recipient = %d, want 1", got)
	}
}

func TestRelayPreservesPerPairOrder(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b := dial(t, srv), dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)
	join(t, b, "room-r1-0001", "b", false)
	expect(t, a, protocol.TypeMemberJoined)

	const n = 50
	for i := 0; i < n; i++ {
		send(t, a, protocol.Message{
			Type:      protocol.TypeICECandidate,
			To:        "b",
			Candidate: &webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d", i)},
		})
	}
	for i := 0; i < n; i++ {
		m := expect(t, b, protocol.TypeICECandidate)
		if want := fmt.Sprintf("candidate:%d", i); m.Candidate.Candidate != want {
			t.Fatalf("candidate %d = %q", i, m.Candidate.Candidate)
		}
	}
}

func TestRelayAnnouncesLeaveOnTransportClose(t *testing.T) {
	srv, ctl := newTestServer(t, testConfig())
	a, b := dial(t, srv), dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)
	join(t, b, "room-r1-0001", "b", false)
	expect(t, a, protocol.TypeMemberJoined)

	_ = b.Close()
	left := expect(t, a, protocol.TypeMemberLeft)
	if left.ParticipantID != "b" {
		t.Fatalf("member-left = %+v", left)
	}
	if got := ctl.Registry.Members("room-r1-0001"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("members = %+v", got)
	}

	send(t, a, protocol.Message{Type: protocol.TypeLeave})
	expect(t, a, protocol.TypeLeft)
	if _, ok := ctl.Registry.Room("room-r1-0001"); ok {
		t.Fatalf("room survived its last member")
	}
}

func TestRelayRejoinEvictsStaleConnection(t *testing.T) {
	srv, ctl := newTestServer(t, testConfig())
	a1, b := dial(t, srv), dial(t, srv)
	join(t, a1, "room-r1-0001", "a", true)
	join(t, b, "room-r1-0001", "b", false)
	expect(t, a1, protocol.TypeMemberJoined)

	a2 := dial(t, srv)
	joined := join(t, a2, "room-r1-0001", "a", true)
	if len(joined.Members) != 1 || joined.Members[0].ID != "b" {
		t.Fatalf("rejoin members = %+v", joined.Members)
	}
	// b learns that a restarted, and is never told that a left.
	if ev := expect(t, b, protocol.TypeMemberJoined); ev.ParticipantID != "a" {
		t.Fatalf("b got %+v", ev)
	}
	_ = a1.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := a1.ReadMessage(); err == nil {
		t.Fatalf("stale connection still open")
	}
	expectQuiet(t, b)
	if got := ctl.Metrics.Get(metrics.Evictions); got != 1 {
		t.Fatalf("evictions = %d", got)
	}
}

func TestRelayMalformedMessageKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a := dial(t, srv)
	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := expect(t, a, protocol.TypeError); m.Error != "bad_payload" {
		t.Fatalf("error = %q", m.Error)
	}
	send(t, a, protocol.Message{Type: protocol.TypeOffer, To: "b", SDP: "v=0"})
	if m := expect(t, a, protocol.TypeError); m.Error != "not_joined" {
		t.Fatalf("error = %q", m.Error)
	}
	expectQuiet(t, a)
}

func TestRelayStateUpdateBroadcastAndCatchUp(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b := dial(t, srv), dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)
	join(t, b, "room-r1-0001", "b", false)
	expect(t, a, protocol.TypeMemberJoined)

	send(t, a, protocol.Message{
		Type:          protocol.TypeStateUpdate,
		ParticipantID: "spoofed",
		Updates:       &domain.StateDelta{IsAudioEnabled: domain.Bool(false)},
	})
	up := expect(t, b, protocol.TypeStateUpdate)
	if up.ParticipantID != "a" || up.Updates.IsAudioEnabled == nil || *up.Updates.IsAudioEnabled {
		t.Fatalf("state-update = %+v", up)
	}

	c := dial(t, srv)
	joined := join(t, c, "room-r1-0001", "c", false)
	for _, m := range joined.Members {
		if m.ID == "a" && m.State.IsAudioEnabled {
			t.Fatalf("late joiner saw stale state for a: %+v", m.State)
		}
	}
}

func TestRelayRequiresJoinTokenWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.JoinSecret = "s3cret"
	srv, ctl := newTestServer(t, cfg)
	a := dial(t, srv)

	send(t, a, protocol.Message{Type: protocol.TypeJoin, MeetingID: "room-r1-0001", ParticipantID: "a", ParticipantName: "A"})
	if m := expect(t, a, protocol.TypeError); m.Error != "unauthorized" {
		t.Fatalf("error = %q", m.Error)
	}
	send(t, a, protocol.Message{
		Type:            protocol.TypeJoin,
		MeetingID:       "room-r1-0001",
		ParticipantID:   "a",
		ParticipantName: "A",
		Token:           ctl.Tokens.Sign("room-r1-0001", "a"),
	})
	expect(t, a, protocol.TypeJoined)
}

func TestHealthAndRoomsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a := dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status       string `json:"status"`
		Rooms        int    `json:"rooms"`
		Participants int    `json:"participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Rooms != 1 || health.Participants != 1 || health.Status != "healthy" {
		t.Fatalf("health = %d %+v", resp.StatusCode, health)
	}

	resp2, err := http.Get(srv.URL + "/api/rooms/room-r1-0001")
	if err != nil {
		t.Fatalf("GET room: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("room status = %d", resp2.StatusCode)
	}
	resp3, err := http.Get(srv.URL + "/api/rooms/room-zz-9999")
	if err != nil {
		t.Fatalf("GET missing room: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room status = %d", resp3.StatusCode)
	}
}

func TestJoinRateLimitKeysCookielessClientsByIP(t *testing.T) {
	cfg := testConfig()
	cfg.JoinRateLimit = 1
	srv, _ := newTestServer(t, cfg)

	a, b := dial(t, srv), dial(t, srv)
	join(t, a, "room-r1-0001", "a", true)
	send(t, b, protocol.Message{Type: protocol.TypeJoin, MeetingID: "room-r1-0001", ParticipantID: "b", ParticipantName: "B"})
	if m := expect(t, b, protocol.TypeError); m.Error != "rate_limited" {
		t.Fatalf("error = %q", m.Error)
	}

	// A client that returns its session cookie is limited on its own token.
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	resp, err := (&http.Client{Jar: jar}).Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	dialer := websocket.Dialer{Jar: jar}
	c, _, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/signal", nil)
	if err != nil {
		t.Fatalf("dial with cookie: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	join(t, c, "room-r1-0001", "c", false)
}
