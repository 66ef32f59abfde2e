// Package relayclient is the participant side of the signaling relay: one
// WebSocket, reconnected with exponential backoff, surfaced as a single
// typed event channel.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrDisconnected = errors.New("disconnected from server")
	ErrNotConnected = errors.New("relay not connected")
	ErrBackpressure = errors.New("relay send queue full")
)

type EventKind int

const (
	// EventConnected fires on the first connect and on every reconnect.
	EventConnected EventKind = iota
	EventMessage
	// EventDisconnected means the connection dropped and a retry is pending.
	EventDisconnected
	// EventFatal means the attempt ceiling was reached; Run has returned.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventFatal:
		return "fatal"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Msg     protocol.Message
	Attempt int
	Err     error
}

type Options struct {
	URL        string
	Header     http.Header
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	SendBuffer int
}

type Client struct {
	opts   Options
	dialer *websocket.Dialer
	events chan Event

	mu  sync.Mutex
	out chan core.Frame
}

func New(opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		events: make(chan Event, 64),
	}
}

func (c *Client) Events() <-chan Event { return c.events }

// Send enqueues m on the live connection without blocking.
func (c *Client) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return ErrNotConnected
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Backoff is the delay before retry number attempt (1-based): base doubled
// per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run keeps the relay connection up until ctx ends or the reconnect ceiling
// is exhausted, in which case it returns ErrDisconnected.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err == nil {
			attempt = 0
			log.Info().Str("module", "relayclient").Str("url", c.opts.URL).Msg("connected")
			c.emit(ctx, Event{Kind: EventConnected})
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt > c.opts.Attempts {
			log.Error().Err(err).Str("module", "relayclient").Int("attempts", attempt-1).Msg("giving up")
			c.emit(ctx, Event{Kind: EventFatal, Attempt: attempt - 1, Err: ErrDisconnected})
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		delay := Backoff(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
		log.Warn().Err(err).Str("module", "relayclient").Int("attempt", attempt).Dur("delay", delay).Msg("relay lost, reconnecting")
		c.emit(ctx, Event{Kind: EventDisconnected, Attempt: attempt, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	out := make(chan core.Frame, c.opts.SendBuffer)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(conn, out, stop)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	err := c.readPump(ctx, conn)

	// Anything still queued belongs to the dead connection and is abandoned.
	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
	close(stop)
	_ = conn.Close()
	wg.Wait()
	return err
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "relayclient").Msg("dropping malformed message")
			continue
		}
		c.emit(ctx, Event{Kind: EventMessage, Msg: msg})
	}
}

func (c *Client) writePump(conn *websocket.Conn, out <-chan core.Frame, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
