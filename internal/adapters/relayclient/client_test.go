package relayclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := Backoff(i+1, base, max); got != w*time.Second {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event")
	}
	return Event{}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			_ = ws.WriteJSON(protocol.Message{Type: protocol.TypePong})
			_ = ws.Close()
			return
		}
		// Echo everything back on the second connection.
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteMessage(mt, data)
		}
	}))
	defer srv.Close()

	c := New(Options{URL: wsURL(srv), Attempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if ev := next(t, c); ev.Kind != EventConnected {
		t.Fatalf("event = %v", ev.Kind)
	}
	if ev := next(t, c); ev.Kind != EventMessage || ev.Msg.Type != protocol.TypePong {
		t.Fatalf("event = %+v", ev)
	}
	if ev := next(t, c); ev.Kind != EventDisconnected || ev.Attempt != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if ev := next(t, c); ev.Kind != EventConnected {
		t.Fatalf("event = %v", ev.Kind)
	}
	if err := c.Send(protocol.Message{Type: protocol.TypePing}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ev := next(t, c); ev.Kind != EventMessage || ev.Msg.Type != protocol.TypePing {
		t.Fatalf("echo = %+v", ev)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
}

func TestClientGivesUpAfterCeiling(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := New(Options{URL: url, Attempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond})
	if err := c.Send(protocol.Message{Type: protocol.TypePing}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before connect = %v", err)
	}
	err := c.Run(context.Background())
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Run = %v, want ErrDisconnected", err)
	}

	var kinds []EventKind
	for len(c.Events()) > 0 {
		kinds = append(kinds, (<-c.Events()).Kind)
	}
	want := []EventKind{EventDisconnected, EventDisconnected, EventFatal}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}
