package mesh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/statesync"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type LinkState int32

const (
	LinkIdle LinkState = iota
	LinkOffering
	LinkAnswering
	LinkConnecting
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAnswering:
		return "answering"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

//go:generate mockgen -source=link.go -destination=signaler_mock_test.go -package=mesh

// Signaler is the outbound half of the relay connection.
type Signaler interface {
	Send(protocol.Message) error
}

// Inputs of a link. The orchestrator attaches a copy of the local state to
// everything that ends up in an offer or answer.
type (
	startMsg struct {
		state domain.ParticipantState
		seq   uint64
	}
	offerMsg struct {
		sdp   webrtc.SessionDescription
		state domain.ParticipantState
		seq   uint64
	}
	answerMsg    struct{ sdp webrtc.SessionDescription }
	candidateMsg struct{ c webrtc.ICECandidateInit }
	mediaMsg     struct {
		ev  core.MediaEvent
		gen int
	}
	videoMsg struct{ track webrtc.TrackLocal }
	sendMsg  struct {
		data     []byte
		fallback protocol.Message
	}
	sampleMsg struct{}
)

type linkEventKind int

const (
	linkStateChanged linkEventKind = iota
	linkChannelOpen
	linkData
	linkTrack
	linkQuality
	linkFallback
	linkProtocolError
)

// linkEvent is what a link reports back to the orchestrator.
type linkEvent struct {
	link     *PeerLink
	kind     linkEventKind
	state    LinkState
	err      error
	env      statesync.Envelope
	track    *webrtc.TrackRemote
	sample   QualitySample
	fallback protocol.Message
}

type linkConfig struct {
	local          domain.ParticipantID
	remote         domain.ParticipantID
	initiator      bool
	signaler       Signaler
	factory        core.MediaConnectionFactory
	tracks         core.LocalTracks
	connectTimeout time.Duration
	emit           func(linkEvent)
}

// PeerLink drives the handshake with one remote participant. Everything
// below the atomics is owned by the link goroutine.
type PeerLink struct {
	cfg    linkConfig
	inbox  *mailbox[any]
	cancel context.CancelFunc
	done   chan struct{}
	log    zerolog.Logger

	state       atomic.Int32
	channelOpen atomic.Bool

	conn      core.MediaConnection
	gen       int
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	desired   webrtc.TrackLocal
	applied   webrtc.TrackLocal
	timer     *time.Timer
	prevStats core.TransportStats
}

func startPeerLink(ctx context.Context, cfg linkConfig) *PeerLink {
	ctx, cancel := context.WithCancel(ctx)
	l := &PeerLink{
		cfg:     cfg,
		inbox:   newMailbox[any](),
		cancel:  cancel,
		done:    make(chan struct{}),
		desired: cfg.tracks.Video,
		log: log.With().
			Str("module", "mesh").
			Str("remote", string(cfg.remote)).
			Bool("initiator", cfg.initiator).
			Logger(),
	}
	go l.run(ctx)
	return l
}

func (l *PeerLink) Remote() domain.ParticipantID { return l.cfg.remote }
func (l *PeerLink) Initiator() bool              { return l.cfg.initiator }
func (l *PeerLink) State() LinkState             { return LinkState(l.state.Load()) }

// ChannelReady reports whether state can go over the data channel.
func (l *PeerLink) ChannelReady() bool {
	return l.State() == LinkConnected && l.channelOpen.Load()
}

func (l *PeerLink) post(m any) { l.inbox.push(m) }

// Close stops the link and waits for its transport to be released.
func (l *PeerLink) Close() {
	l.cancel()
	<-l.done
}

func (l *PeerLink) run(ctx context.Context) {
	defer close(l.done)
	defer l.teardown()

	if err := l.reset(); err != nil {
		l.fail(err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.timerC():
			l.timer = nil
			if s := l.State(); s != LinkConnected && s != LinkFailed {
				l.fail(fmt.Errorf("%w in %s", ErrConnectTimeout, s))
			}
		case <-l.inbox.ready():
			for _, m := range l.inbox.drain() {
				if ctx.Err() != nil {
					return
				}
				l.handle(ctx, m)
			}
		}
	}
}

func (l *PeerLink) handle(ctx context.Context, m any) {
	switch m := m.(type) {
	case startMsg:
		l.onStart(ctx, m)
	case offerMsg:
		l.onOffer(ctx, m)
	case answerMsg:
		l.onAnswer(m)
	case candidateMsg:
		l.onCandidate(m.c)
	case mediaMsg:
		if m.gen == l.gen {
			l.onMedia(m.ev)
		}
	case videoMsg:
		l.desired = m.track
		l.applyVideo()
	case sendMsg:
		l.onSend(m)
	case sampleMsg:
		l.onSample()
	}
}

func (l *PeerLink) onStart(ctx context.Context, m startMsg) {
	if !l.cfg.initiator || l.State() != LinkIdle || l.conn == nil {
		return
	}
	offer, err := l.conn.CreateOffer(ctx)
	if err != nil {
		l.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	state := m.state
	if err := l.cfg.signaler.Send(protocol.Message{
		Type:  protocol.TypeOffer,
		To:    l.cfg.remote,
		SDP:   offer.SDP,
		State: &state,
		Seq:   m.seq,
	}); err != nil {
		l.fail(fmt.Errorf("send offer: %w", err))
		return
	}
	l.setState(LinkOffering)
	l.armTimer()
}

// onOffer answers a remote offer. An offer on a link that already left Idle
// means the remote restarted its side, so ours starts over too.
func (l *PeerLink) onOffer(ctx context.Context, m offerMsg) {
	if l.cfg.initiator {
		l.emit(linkEvent{kind: linkProtocolError, err: fmt.Errorf("%w: offer to initiating side", ErrUnexpected)})
		return
	}
	if l.State() != LinkIdle || l.conn == nil {
		l.log.Info().Str("state", l.State().String()).Msg("remote restarted handshake")
		if err := l.reset(); err != nil {
			l.fail(err)
			return
		}
		l.setState(LinkIdle)
	}
	l.setState(LinkAnswering)
	l.armTimer()

	answer, err := l.conn.AcceptOffer(ctx, m.sdp)
	if err != nil {
		l.fail(fmt.Errorf("accept offer: %w", err))
		return
	}
	l.remoteSet = true
	state := m.state
	if err := l.cfg.signaler.Send(protocol.Message{
		Type:  protocol.TypeAnswer,
		To:    l.cfg.remote,
		SDP:   answer.SDP,
		State: &state,
		Seq:   m.seq,
	}); err != nil {
		l.fail(fmt.Errorf("send answer: %w", err))
		return
	}
	if l.State() == LinkAnswering {
		l.setState(LinkConnecting)
	}
	l.flushCandidates()
}

func (l *PeerLink) onAnswer(m answerMsg) {
	if !l.cfg.initiator || l.State() != LinkOffering {
		l.emit(linkEvent{kind: linkProtocolError, err: fmt.Errorf("%w: answer in %s", ErrUnexpected, l.State())})
		return
	}
	if err := l.conn.ApplyAnswer(m.sdp); err != nil {
		l.fail(fmt.Errorf("apply answer: %w", err))
		return
	}
	l.remoteSet = true
	l.setState(LinkConnecting)
	l.flushCandidates()
}

func (l *PeerLink) onCandidate(c webrtc.ICECandidateInit) {
	switch l.State() {
	case LinkFailed, LinkClosed:
		return
	}
	if l.conn == nil || !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		l.fail(fmt.Errorf("add candidate: %w", err))
	}
}

func (l *PeerLink) flushCandidates() {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if l.State() == LinkFailed {
			return
		}
		if err := l.conn.AddICECandidate(c); err != nil {
			l.fail(fmt.Errorf("add buffered candidate: %w", err))
			return
		}
	}
}

func (l *PeerLink) onMedia(ev core.MediaEvent) {
	if l.State() == LinkFailed {
		return
	}
	switch ev.Kind {
	case core.MediaCandidate:
		c := ev.Candidate
		if err := l.cfg.signaler.Send(protocol.Message{
			Type:      protocol.TypeICECandidate,
			To:        l.cfg.remote,
			Candidate: &c,
		}); err != nil {
			l.log.Warn().Err(err).Msg("send candidate")
		}
	case core.MediaConnected:
		switch l.State() {
		case LinkConnecting, LinkAnswering, LinkOffering:
			l.stopTimer()
			l.setState(LinkConnected)
			l.applyVideo()
		}
	case core.MediaFailed:
		l.fail(fmt.Errorf("transport failed"))
	case core.MediaClosed:
		if l.State() == LinkConnected {
			l.fail(fmt.Errorf("transport closed"))
		}
	case core.MediaChannelOpen:
		l.channelOpen.Store(true)
		l.emit(linkEvent{kind: linkChannelOpen})
	case core.MediaChannelClosed:
		l.channelOpen.Store(false)
	case core.MediaChannelMessage:
		env, err := statesync.Decode(ev.Data)
		if err != nil {
			l.emit(linkEvent{kind: linkProtocolError, err: err})
			return
		}
		l.emit(linkEvent{kind: linkData, env: env})
	case core.MediaTrack:
		l.emit(linkEvent{kind: linkTrack, track: ev.Track})
	}
}

// applyVideo puts the desired outbound video on the sender. It only acts
// while connected; otherwise the track stays queued until Connected.
func (l *PeerLink) applyVideo() {
	if l.desired == l.applied || l.State() != LinkConnected || l.conn == nil {
		return
	}
	if err := l.conn.ReplaceVideoTrack(l.desired); err != nil {
		l.log.Warn().Err(err).Msg("replace video track")
		return
	}
	l.applied = l.desired
}

func (l *PeerLink) onSend(m sendMsg) {
	if l.ChannelReady() {
		if err := l.conn.SendState(m.data); err == nil {
			return
		}
		l.channelOpen.Store(false)
	}
	l.emit(linkEvent{kind: linkFallback, fallback: m.fallback})
}

func (l *PeerLink) onSample() {
	if l.State() != LinkConnected {
		return
	}
	cur, err := l.conn.Stats()
	if err != nil {
		l.log.Debug().Err(err).Msg("stats")
		return
	}
	sample := Sample(l.prevStats, cur)
	l.prevStats = cur
	l.emit(linkEvent{kind: linkQuality, sample: sample})
}

// reset replaces the transport. Events of the previous one are ignored
// from here on.
func (l *PeerLink) reset() error {
	l.closeConn()
	l.gen++
	gen := l.gen
	l.remoteSet = false
	l.pending = nil
	l.prevStats = core.TransportStats{}
	tracks := core.LocalTracks{Audio: l.cfg.tracks.Audio, Video: l.desired}
	conn, err := l.cfg.factory.NewMediaConnection(l.cfg.remote, l.cfg.initiator, tracks, func(ev core.MediaEvent) {
		l.post(mediaMsg{ev: ev, gen: gen})
	})
	if err != nil {
		return fmt.Errorf("new media connection: %w", err)
	}
	l.conn = conn
	l.applied = l.desired
	return nil
}

func (l *PeerLink) closeConn() {
	l.stopTimer()
	l.channelOpen.Store(false)
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.log.Debug().Err(err).Msg("close transport")
	}
	l.conn = nil
}

func (l *PeerLink) fail(err error) {
	if s := l.State(); s == LinkFailed || s == LinkClosed {
		return
	}
	l.log.Warn().Err(err).Msg("link failed")
	l.gen++
	l.closeConn()
	l.pending = nil
	l.setState(LinkFailed)
	l.emit(linkEvent{kind: linkStateChanged, state: LinkFailed, err: err})
}

func (l *PeerLink) teardown() {
	l.closeConn()
	l.state.Store(int32(LinkClosed))
}

func (l *PeerLink) setState(s LinkState) {
	prev := LinkState(l.state.Swap(int32(s)))
	if prev == s {
		return
	}
	l.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("link state")
	if s != LinkFailed {
		l.emit(linkEvent{kind: linkStateChanged, state: s})
	}
}

func (l *PeerLink) emit(ev linkEvent) {
	ev.link = l
	if l.cfg.emit != nil {
		l.cfg.emit(ev)
	}
}

func (l *PeerLink) armTimer() {
	l.stopTimer()
	if l.cfg.connectTimeout > 0 {
		l.timer = time.NewTimer(l.cfg.connectTimeout)
	}
}

func (l *PeerLink) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *PeerLink) timerC() <-chan time.Time {
	if l.timer == nil {
		return nil
	}
	return l.timer.C
}
