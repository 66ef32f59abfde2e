package signal

import (
	"errors"
	"sort"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"

	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer and ice-candidate to exactly one
// recipient. The sender id always comes from the session, never the payload.
func (h *connHandler) handleRelay(msg protocol.Message) {
	if !h.requireSession(msg.Type) {
		return
	}
	msg.From = h.sess.Participant
	h.forward(msg)
}

// handleStateUpdate records the sender's new state for late joiners, then
// forwards to `to` or, without one, to the whole room.
func (h *connHandler) handleStateUpdate(msg protocol.Message) {
	if !h.requireSession(msg.Type) {
		return
	}
	msg.ParticipantID = h.sess.Participant
	msg.From = h.sess.Participant
	if msg.Updates != nil {
		msg.Updates.IsAdmitted = nil
		h.ctl.Registry.UpdateState(h.sess.Room, h.sess.Participant, h.sid, *msg.Updates)
	}
	if msg.To != "" {
		h.forward(msg)
		return
	}
	h.broadcast(msg)
}

func (h *connHandler) handleChat(msg protocol.Message) {
	if !h.requireSession(msg.Type) {
		return
	}
	msg.From = h.sess.Participant
	msg.Chat.SenderID = h.sess.Participant
	msg.Chat.SenderName = h.sess.Name
	if msg.To != "" {
		h.forward(msg)
		return
	}
	h.broadcast(msg)
}

func (h *connHandler) forward(msg protocol.Message) {
	room, ok := h.ctl.Registry.Room(h.sess.Room)
	if !ok {
		h.ctl.Metrics.Inc(metrics.DropNoRecipient)
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("forward encode")
		return
	}
	member, err := room.SendTo(msg.To, frame)
	switch {
	case err == nil:
		h.ctl.Metrics.Inc(metrics.Relayed)
		h.ctl.Policy.OnDelivered(member)
	case errors.Is(err, core.ErrNoRecipient):
		h.ctl.Metrics.Inc(metrics.DropNoRecipient)
		log.Debug().Str("module", "signal").Str("type", msg.Type).Str("from", string(msg.From)).Str("to", string(msg.To)).Msg("recipient not connected, dropped")
	default:
		h.ctl.onSendFailure(room, member, err)
	}
}

func (h *connHandler) broadcast(msg protocol.Message) {
	room, ok := h.ctl.Registry.Room(h.sess.Room)
	if !ok {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast encode")
		return
	}
	res := room.Broadcast(h.sess.Participant, frame)
	for i := 0; i < res.SendTo; i++ {
		h.ctl.Metrics.Inc(metrics.Relayed)
	}
	for _, m := range res.Dropped {
		h.ctl.onSendFailure(room, m, ErrBackpressure)
	}
}

func (ctl *SignalWSController) onSendFailure(room core.RoomService, m *core.Member, err error) {
	if !errors.Is(err, ErrBackpressure) {
		ctl.Metrics.Inc(metrics.DropNoRecipient)
		return
	}
	ctl.Metrics.Inc(metrics.DropBackpressure)
	action := ctl.Policy.OnBackPressure(room, m)
	log.Warn().Str("module", "signal").Str("participant", string(m.ID)).Str("action", action.String()).Msg("backpressure")
	if action == app.KickMember {
		ctl.Metrics.Inc(metrics.Kicked)
		m.Signal.Close()
	}
}

func sortDTOs(ms []core.MemberDTO) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}

var _ core.Notifier = (*Announcer)(nil)
