// Package mesh is the participant side of a full-mesh call: one PeerLink per
// remote participant, driven by relay membership events and kept in sync
// through the state channel.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Meet/internal/adapters/relayclient"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/media"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/statesync"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Config struct {
	ConnectTimeout  time.Duration
	QualityInterval time.Duration
}

// Relay is the participant's connection to the signaling relay.
type Relay interface {
	Signaler
	Events() <-chan relayclient.Event
}

type JoinRequest struct {
	MeetingID string
	ID        domain.ParticipantID
	Name      string
	IsHost    bool
	Token     string
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	MeetingCode  string
	Joined       bool
	Self         domain.Participant
	Participants map[domain.ParticipantID]domain.Participant
	Links        map[domain.ParticipantID]LinkState
}

// Orchestrator owns every PeerLink of the local participant. All of its
// state is confined to the Run goroutine; the exported methods post
// commands to it.
type Orchestrator struct {
	cfg      Config
	relay    Relay
	factory  core.MediaConnectionFactory
	source   media.Source
	observer Observer
	log      zerolog.Logger

	inbox   *mailbox[any]
	running atomic.Bool
	sharing atomic.Bool
	shareMu sync.Mutex
	done    chan struct{}

	ctx    context.Context
	req    JoinRequest
	self   domain.Participant
	code   string
	joined bool
	seq    uint64
	links  map[domain.ParticipantID]*PeerLink
	store  *statesync.Store
	camera core.LocalTracks
	video  webrtc.TrackLocal
	screen webrtc.TrackLocal
}

func New(cfg Config, relay Relay, factory core.MediaConnectionFactory, source media.Source, observer Observer) *Orchestrator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		cfg:      cfg,
		relay:    relay,
		factory:  factory,
		source:   source,
		observer: observer,
		log:      log.With().Str("module", "mesh").Logger(),
		inbox:    newMailbox[any](),
		done:     make(chan struct{}),
		links:    make(map[domain.ParticipantID]*PeerLink),
		store:    statesync.NewStore(),
	}
}

// Run joins the meeting and serves it until ctx is cancelled, Leave is
// called, the join is rejected, or the relay gives up reconnecting. It may
// be called once.
func (o *Orchestrator) Run(ctx context.Context, req JoinRequest) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator already started")
	}
	defer close(o.done)
	if _, err := domain.ValidateRoomID(req.MeetingID); err != nil {
		return err
	}
	if _, err := domain.ValidateParticipantID(string(req.ID)); err != nil {
		return err
	}
	name, err := domain.SanitizeName(req.Name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.ctx = ctx
	o.req = req
	o.self = domain.Participant{ID: req.ID, Name: name, State: domain.DefaultState(domain.RoleFor(req.IsHost))}
	o.log = o.log.With().Str("participant", string(req.ID)).Str("meeting", req.MeetingID).Logger()
	o.acquireMedia(ctx)
	o.notifyParticipants()

	var tick <-chan time.Time
	if o.cfg.QualityInterval > 0 {
		t := time.NewTicker(o.cfg.QualityInterval)
		defer t.Stop()
		tick = t.C
	}
	defer o.closeAll()

	for {
		select {
		case <-ctx.Done():
			o.sendLeave()
			return nil
		case ev := <-o.relay.Events():
			if err := o.onRelayEvent(ev); err != nil {
				return err
			}
		case <-o.inbox.ready():
			for _, m := range o.inbox.drain() {
				if o.handle(m) {
					return nil
				}
			}
		case <-tick:
			for _, l := range o.links {
				if l.State() == LinkConnected {
					l.post(sampleMsg{})
				}
			}
		}
	}
}

// acquireMedia falls back to joining without camera and microphone.
func (o *Orchestrator) acquireMedia(ctx context.Context) {
	if o.source == nil {
		o.self.State.IsAudioEnabled = false
		o.self.State.IsVideoEnabled = false
		return
	}
	tracks, err := o.source.LocalMediaStream(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("local media unavailable, joining without it")
		o.observer.OnError(&Error{Kind: KindMedia, Err: err})
		o.self.State.IsAudioEnabled = false
		o.self.State.IsVideoEnabled = false
		return
	}
	o.camera = tracks
	o.video = tracks.Video
}

func (o *Orchestrator) onRelayEvent(ev relayclient.Event) error {
	switch ev.Kind {
	case relayclient.EventConnected:
		o.sendJoin()
	case relayclient.EventDisconnected:
		o.joined = false
		o.closeAll()
		o.observer.OnError(&Error{Kind: KindTransport, Err: fmt.Errorf("reconnecting (attempt %d): %w", ev.Attempt, ev.Err)})
	case relayclient.EventFatal:
		o.joined = false
		o.closeAll()
		err := &Error{Kind: KindTransport, Fatal: true, Err: relayclient.ErrDisconnected}
		o.observer.OnError(err)
		return err
	case relayclient.EventMessage:
		return o.onMessage(ev.Msg)
	}
	return nil
}

func (o *Orchestrator) sendJoin() {
	state := o.self.State
	err := o.relay.Send(protocol.Message{
		Type:            protocol.TypeJoin,
		MeetingID:       o.req.MeetingID,
		ParticipantID:   o.self.ID,
		ParticipantName: o.self.Name,
		IsHost:          o.req.IsHost,
		Token:           o.req.Token,
		State:           &state,
	})
	if err != nil {
		o.log.Warn().Err(err).Msg("send join")
	}
}

func (o *Orchestrator) sendLeave() {
	if !o.joined {
		return
	}
	if err := o.relay.Send(protocol.Message{Type: protocol.TypeLeave}); err != nil {
		o.log.Debug().Err(err).Msg("send leave")
	}
	o.joined = false
}

// openLink starts a fresh link to p. The initiating side offers right away.
func (o *Orchestrator) openLink(p domain.Participant) *PeerLink {
	l := startPeerLink(o.ctx, linkConfig{
		local:          o.self.ID,
		remote:         p.ID,
		initiator:      ShouldInitiate(o.self, p),
		signaler:       o.relay,
		factory:        o.factory,
		tracks:         core.LocalTracks{Audio: o.camera.Audio, Video: o.video},
		connectTimeout: o.cfg.ConnectTimeout,
		emit:           func(ev linkEvent) { o.inbox.push(ev) },
	})
	o.links[p.ID] = l
	if l.Initiator() {
		l.post(startMsg{state: o.self.State, seq: o.seq})
	}
	return l
}

func (o *Orchestrator) dropLink(id domain.ParticipantID) {
	l, ok := o.links[id]
	if !ok {
		return
	}
	delete(o.links, id)
	l.Close()
}

func (o *Orchestrator) closeAll() {
	var wg conc.WaitGroup
	for id, l := range o.links {
		delete(o.links, id)
		wg.Go(l.Close)
	}
	wg.Wait()
}

func (o *Orchestrator) notifyParticipants() {
	ps := o.store.Snapshot()
	ps[o.self.ID] = o.self
	o.observer.OnParticipantsChanged(ps)
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		MeetingCode:  o.code,
		Joined:       o.joined,
		Self:         o.self,
		Participants: o.store.Snapshot(),
		Links:        make(map[domain.ParticipantID]LinkState, len(o.links)),
	}
	for id, l := range o.links {
		s.Links[id] = l.State()
	}
	return s
}
