package signal

import (
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (h *connHandler) handleJoin(msg protocol.Message) {
	roomID, err := domain.ValidateRoomID(msg.MeetingID)
	if err != nil {
		h.rejectJoin("invalid_meeting_id", err)
		return
	}
	pid, err := domain.ValidateParticipantID(string(msg.ParticipantID))
	if err != nil {
		h.rejectJoin("invalid_participant_id", err)
		return
	}
	name, err := domain.SanitizeName(msg.ParticipantName)
	if err != nil {
		h.rejectJoin("invalid_name", err)
		return
	}
	if err := h.ctl.Tokens.Verify(roomID, pid, msg.Token); err != nil {
		h.rejectJoin("unauthorized", err)
		return
	}
	if !h.ctl.Limiter.Allow(h.clientKey) {
		h.rejectJoin("rate_limited", errors.New("join rate exceeded"))
		return
	}

	// Switching identity or room on the same connection releases the old one.
	if h.sess.Joined() && (h.sess.Room != roomID || h.sess.Participant != pid) {
		h.ctl.Registry.Release(h.sess.Room, h.sess.Participant, h.sid)
	}

	sess := &core.Session{
		ID:          h.sid,
		Room:        roomID,
		Participant: pid,
		Name:        name,
		Role:        domain.RoleFor(msg.IsHost),
		JoinedAt:    time.Now(),
	}
	state := domain.DefaultState(sess.Role)
	if msg.State != nil {
		state = *msg.State
	}

	res, err := h.ctl.Registry.Join(roomID, core.NewMember(sess, state, h.conn))
	if err != nil {
		h.rejectJoin("join_failed", err)
		return
	}
	h.sess = sess
	h.ctl.Metrics.Inc(metrics.Joins)

	if res.Evicted != nil {
		h.ctl.Metrics.Inc(metrics.Evictions)
		log.Info().Str("module", "signal").Str("participant", string(pid)).Str("stale_sid", string(res.Evicted.Session)).Msg("evicting stale connection")
		res.Evicted.Signal.Close()
	}
	log.Info().Str("module", "signal").Str("sid", string(h.sid)).Str("room", string(roomID)).Str("participant", string(pid)).Int("members", len(res.Members)+1).Msg("join")
}

func (h *connHandler) rejectJoin(reason string, err error) {
	h.ctl.Metrics.Inc(metrics.JoinsRejected)
	log.Warn().Err(err).Str("module", "signal").Str("sid", string(h.sid)).Str("reason", reason).Msg("join rejected")
	h.sendError(reason)
}

// handleLeave leaves the current room; the connection itself stays open.
func (h *connHandler) handleLeave() {
	if h.sess.Joined() {
		log.Info().Str("module", "signal").Str("sid", string(h.sid)).Str("room", string(h.sess.Room)).Msg("leave")
		h.ctl.Registry.Release(h.sess.Room, h.sess.Participant, h.sid)
		h.sess = nil
	}
	h.send(protocol.Message{Type: protocol.TypeLeft})
}

func (h *connHandler) handleMembers() {
	if !h.requireSession(protocol.TypeMembers) {
		return
	}
	h.send(protocol.Message{
		Type:      protocol.TypeRoomState,
		MeetingID: string(h.sess.Room),
		Members:   h.ctl.Registry.Members(h.sess.Room),
	})
}

func (h *connHandler) onClose() {
	if !h.sess.Joined() {
		return
	}
	if h.ctl.Registry.Release(h.sess.Room, h.sess.Participant, h.sid) {
		log.Info().Str("module", "signal").Str("sid", string(h.sid)).Str("participant", string(h.sess.Participant)).Msg("released on close")
	}
	h.sess = nil
}

func (h *connHandler) requireSession(kind string) bool {
	if h.sess.Joined() {
		return true
	}
	h.ctl.Metrics.Inc(metrics.ProtocolViolations)
	log.Warn().Str("module", "signal").Str("sid", string(h.sid)).Str("type", kind).Msg("message before join")
	h.sendError("not_joined")
	return false
}

// Announcer turns registry membership changes into relay messages. It runs
// under the room lock, so it only enqueues.
type Announcer struct {
	Metrics *metrics.Metrics
}

func (a *Announcer) MemberJoined(room *domain.Room, joined *core.Member, others []*core.Member, evicted *core.Member) {
	members := make([]core.MemberDTO, 0, len(others))
	for _, o := range others {
		members = append(members, o.DTO())
	}
	sortDTOs(members)

	a.deliver(joined, protocol.Message{
		Type:            protocol.TypeJoined,
		MeetingID:       string(room.ID),
		MeetingCode:     room.MeetingCode(),
		ParticipantID:   joined.ID,
		ParticipantName: joined.Name,
		State:           &joined.State,
		Members:         members,
	})

	state := joined.State
	frame, err := protocol.Encode(protocol.Message{
		Type:            protocol.TypeMemberJoined,
		ParticipantID:   joined.ID,
		ParticipantName: joined.Name,
		State:           &state,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode member-joined")
		return
	}
	for _, o := range others {
		a.deliverFrame(o, frame)
	}
}

func (a *Announcer) MemberLeft(room *domain.Room, left *core.Member, rest []*core.Member) {
	frame, err := protocol.Encode(protocol.Message{Type: protocol.TypeMemberLeft, ParticipantID: left.ID})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode member-left")
		return
	}
	for _, o := range rest {
		a.deliverFrame(o, frame)
	}
}

func (a *Announcer) deliver(m *core.Member, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return
	}
	a.deliverFrame(m, frame)
}

func (a *Announcer) deliverFrame(m *core.Member, frame core.Frame) {
	err := m.Signal.TrySend(frame)
	if err == nil {
		return
	}
	a.Metrics.Inc(metrics.DropBackpressure)
	log.Warn().Err(err).Str("module", "signal").Str("participant", string(m.ID)).Msg("membership notice dropped")
	// A member that missed a membership change must resync through a fresh join.
	if errors.Is(err, ErrBackpressure) {
		a.Metrics.Inc(metrics.Kicked)
		m.Signal.Close()
	}
}
