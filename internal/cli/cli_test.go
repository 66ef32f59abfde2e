package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Meet/internal/adapters/signal"
)

func TestAPIBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/api/ws/signal":    "http://localhost:8080",
		"wss://meet.example.com/api/ws/signal": "https://meet.example.com",
	}
	for in, want := range cases {
		got, err := apiBase(in)
		if err != nil || got != want {
			t.Errorf("apiBase(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestRoomsCommandRendersRelayRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[{"id":"standup-0001","code":"STANDUP0","member_count":3,"created_at":"2026-01-02T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"rooms", "--relay-url", "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"})
	if err := root.Execute(); err != nil {
		t.Fatalf("rooms: %v", err)
	}
	for _, want := range []string{"standup-0001", "STANDUP0", "3"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestTokenCommandMatchesRelay(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--secret", "s3cret", "--meeting", "standup-0001", "--id", "alice"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	tokens := signal.NewJoinTokens("s3cret")
	if err := tokens.Verify("standup-0001", "alice", strings.TrimSpace(out.String())); err != nil {
		t.Fatalf("relay rejects printed token: %v", err)
	}
}
