package mesh

import (
	"fmt"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/statesync"
)

func (o *Orchestrator) onMessage(m protocol.Message) error {
	switch m.Type {
	case protocol.TypeJoined:
		o.joined = true
		o.code = m.MeetingCode
		o.log.Info().Str("code", m.MeetingCode).Int("members", len(m.Members)).Msg("joined")
		o.reconcile(m.Members, false)
		o.notifyParticipants()

	case protocol.TypeMemberJoined:
		if m.ParticipantID == o.self.ID {
			return nil
		}
		p := domain.Participant{ID: m.ParticipantID, Name: m.ParticipantName, State: domain.DefaultState(domain.RoleGuest)}
		if m.State != nil {
			p.State = *m.State
		}
		// A known id joining again is a restarted remote; its old link is useless.
		o.dropLink(p.ID)
		o.store.Reset(p)
		o.openLink(p)
		o.notifyParticipants()

	case protocol.TypeMemberLeft:
		o.dropLink(m.ParticipantID)
		if o.store.Remove(m.ParticipantID) {
			o.notifyParticipants()
		}

	case protocol.TypeOffer, protocol.TypeAnswer:
		o.onDescription(m)

	case protocol.TypeICECandidate:
		if l, ok := o.links[m.From]; ok && m.Candidate != nil {
			l.post(candidateMsg{c: *m.Candidate})
		}

	case protocol.TypeStateUpdate:
		from := m.ParticipantID
		if from == "" {
			from = m.From
		}
		changed := false
		if m.State != nil {
			changed = o.store.ApplySnapshot(from, m.Seq, *m.State)
		}
		if m.Updates != nil {
			changed = o.store.ApplyDelta(from, m.Seq, *m.Updates) || changed
		}
		if changed {
			o.notifyParticipants()
		}

	case protocol.TypeChat:
		if m.Chat != nil {
			o.observer.OnChatMessage(*m.Chat)
		}

	case protocol.TypeRoomState:
		o.reconcile(m.Members, true)
		o.notifyParticipants()

	case protocol.TypeError:
		if !o.joined {
			err := &Error{Kind: KindProtocol, Fatal: true, Err: fmt.Errorf("%w: %s", ErrJoinRejected, m.Error)}
			o.observer.OnError(err)
			return err
		}
		o.log.Warn().Str("reason", m.Error).Msg("relay error")
		o.observer.OnError(&Error{Kind: KindProtocol, Err: fmt.Errorf("relay: %s", m.Error)})
	}
	return nil
}

// onDescription hands an offer or answer to its link. The snapshot riding
// along is applied first so the remote is rendered with its current state.
func (o *Orchestrator) onDescription(m protocol.Message) {
	p, ok := o.store.Get(m.From)
	if !ok {
		o.log.Warn().Str("type", m.Type).Str("from", string(m.From)).Msg("description from unknown participant dropped")
		return
	}
	if m.State != nil && o.store.ApplySnapshot(m.From, m.Seq, *m.State) {
		o.notifyParticipants()
	}
	l, ok := o.links[m.From]
	if !ok {
		l = o.openLink(p)
	}
	if m.Type == protocol.TypeOffer {
		l.post(offerMsg{sdp: m.SessionDescription(), state: o.self.State, seq: o.seq})
		return
	}
	l.post(answerMsg{sdp: m.SessionDescription()})
}

// reconcile aligns links with an authoritative member list. With
// restartFailed, failed links we initiate to members that are still present
// get a fresh handshake; members that are gone are forgotten. A failed
// passive link stays put: the remote's next offer resets it, and replacing
// it here could discard an offer already queued on it.
func (o *Orchestrator) reconcile(members []core.MemberDTO, restartFailed bool) {
	present := make(map[domain.ParticipantID]bool, len(members))
	for _, dto := range members {
		if dto.ID == o.self.ID {
			continue
		}
		present[dto.ID] = true
		p := domain.Participant{ID: dto.ID, Name: dto.Name, State: dto.State}
		l, linked := o.links[dto.ID]
		if !linked {
			o.store.Reset(p)
			o.openLink(p)
			continue
		}
		if restartFailed && l.State() == LinkFailed && l.Initiator() {
			o.log.Info().Str("remote", string(dto.ID)).Msg("member still present, restarting link")
			o.dropLink(dto.ID)
			if cur, ok := o.store.Get(dto.ID); ok {
				p = cur
			} else {
				o.store.Reset(p)
			}
			o.openLink(p)
		}
	}
	for id := range o.links {
		if !present[id] {
			o.dropLink(id)
		}
	}
	for _, id := range o.store.IDs() {
		if !present[id] {
			o.store.Remove(id)
		}
	}
}

func (o *Orchestrator) onLinkEvent(ev linkEvent) {
	remote := ev.link.Remote()
	if o.links[remote] != ev.link {
		return
	}
	switch ev.kind {
	case linkStateChanged:
		switch ev.state {
		case LinkConnected:
			o.log.Info().Str("remote", string(remote)).Msg("link connected")
		case LinkFailed:
			o.observer.OnError(&Error{Kind: KindNegotiation, Participant: remote, Err: ev.err})
			// Presence is confirmed by the relay before any restart.
			if err := o.relay.Send(protocol.Message{Type: protocol.TypeMembers}); err != nil {
				o.log.Warn().Err(err).Msg("membership check")
			}
		}
	case linkChannelOpen:
		state := o.self.State
		data, err := statesync.Encode(statesync.KindSnapshot, o.seq, state)
		if err != nil {
			o.log.Error().Err(err).Msg("encode snapshot")
			return
		}
		ev.link.post(sendMsg{data: data, fallback: protocol.Message{
			Type:  protocol.TypeStateUpdate,
			To:    remote,
			State: &state,
			Seq:   o.seq,
		}})
	case linkData:
		o.onEnvelope(remote, ev.env)
	case linkTrack:
		if to, ok := o.observer.(TrackObserver); ok {
			to.OnRemoteTrack(remote, ev.track)
		}
	case linkQuality:
		o.observer.OnConnectionQualitySample(remote, ev.sample)
	case linkFallback:
		if err := o.relay.Send(ev.fallback); err != nil {
			o.log.Warn().Err(err).Str("remote", string(remote)).Msg("relay fallback")
		}
	case linkProtocolError:
		o.log.Warn().Err(ev.err).Str("remote", string(remote)).Msg("protocol error")
		o.observer.OnError(&Error{Kind: KindProtocol, Participant: remote, Err: ev.err})
	}
}

func (o *Orchestrator) onEnvelope(from domain.ParticipantID, env statesync.Envelope) {
	switch env.Kind {
	case statesync.KindDelta:
		var d domain.StateDelta
		if err := env.DecodePayload(&d); err != nil {
			o.log.Warn().Err(err).Msg("drop delta")
			return
		}
		if o.store.ApplyDelta(from, env.Seq, d) {
			o.notifyParticipants()
		}
	case statesync.KindSnapshot:
		var st domain.ParticipantState
		if err := env.DecodePayload(&st); err != nil {
			o.log.Warn().Err(err).Msg("drop snapshot")
			return
		}
		if o.store.ApplySnapshot(from, env.Seq, st) {
			o.notifyParticipants()
		}
	case statesync.KindChat:
		var c domain.ChatMessage
		if err := env.DecodePayload(&c); err != nil {
			o.log.Warn().Err(err).Msg("drop chat")
			return
		}
		c.SenderID = from
		if p, ok := o.store.Get(from); ok {
			c.SenderName = p.Name
		}
		o.observer.OnChatMessage(c)
	}
}
