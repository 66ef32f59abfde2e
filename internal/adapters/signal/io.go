package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (h *connHandler) writePump(ctx context.Context) {
	ticker := time.NewTicker(h.ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		h.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(h.sid)).Msg("writePump ctx done")
			return
		case data, ok := <-h.conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(h.sid)).Msg("writePump channel closed")
				return
			}
			if err := h.conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := h.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := h.conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Msg("ping failed")
				return
			}
		}
	}
}

func (h *connHandler) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(h.sid)).Msg("readPump closing")
		h.onClose()
		h.conn.Close()
	}()

	ws := h.conn.conn
	ws.SetReadLimit(h.ctl.Cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.ctl.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.ctl.pongWait()))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Msg("readPump read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.ctl.pongWait()))
		h.handleSignal(data)
	}
}

// handleSignal never fails the connection: a bad message is logged, answered
// with an error frame and dropped.
func (h *connHandler) handleSignal(data []byte) {
	if !h.limiter.Allow() {
		h.ctl.Metrics.Inc(metrics.DropRateLimited)
		h.sendError("rate_limited")
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		h.ctl.Metrics.Inc(metrics.MalformedMessages)
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Str("type", msg.Type).Msg("dropping message")
		if errors.Is(err, protocol.ErrUnknownType) {
			h.sendError("unknown_type")
		} else {
			h.sendError(protocol.ErrBadPayload.Error())
		}
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		h.handleJoin(msg)
	case protocol.TypeLeave:
		h.handleLeave()
	case protocol.TypeMembers:
		h.handleMembers()
	case protocol.TypePing:
		h.handlePing()
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		h.handleRelay(msg)
	case protocol.TypeStateUpdate:
		h.handleStateUpdate(msg)
	case protocol.TypeChat:
		h.handleChat(msg)
	default:
		h.ctl.Metrics.Inc(metrics.ProtocolViolations)
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("client sent server-only message")
		h.sendError("unexpected_type")
	}
}

func (h *connHandler) send(m protocol.Message) {
	f, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send encode")
		return
	}
	if err := h.conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Str("type", m.Type).Msg("reply dropped")
	}
}

func (h *connHandler) sendError(reason string) {
	h.send(protocol.ErrorMessage(reason))
}
