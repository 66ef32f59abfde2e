package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const StateChannelLabel = "state"

var (
	ErrChannelNotOpen = errors.New("state channel not open")
	ErrNoVideoSender  = errors.New("no video sender")
	ErrClosed         = errors.New("media connection closed")
)

type Options struct {
	ICEServers       []webrtc.ICEServer
	GatheringTimeout time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates; used for same-host peers.
	IncludeLoopback bool
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Factory builds pion-backed media connections sharing one API instance.
type Factory struct {
	api              *webrtc.API
	cfg              webrtc.Configuration
	gatheringTimeout time.Duration
}

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	cfg := DefaultWebRTCConfig()
	if opts.ICEServers != nil {
		cfg.ICEServers = opts.ICEServers
	}
	timeout := opts.GatheringTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Factory{
		api:              webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(se)),
		cfg:              cfg,
		gatheringTimeout: timeout,
	}, nil
}

func (f *Factory) NewMediaConnection(remote domain.ParticipantID, initiator bool, tracks core.LocalTracks, sink func(core.MediaEvent)) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{
		pc:               pc,
		remote:           remote,
		sink:             sink,
		gatheringTimeout: f.gatheringTimeout,
	}
	if err := c.start(initiator, tracks); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

// WebRTCConnection is one PeerLink's transport: a pion PeerConnection with
// an audio sender, a replaceable video sender and the state data channel.
type WebRTCConnection struct {
	pc               *webrtc.PeerConnection
	remote           domain.ParticipantID
	sink             func(core.MediaEvent)
	gatheringTimeout time.Duration

	videoSender *webrtc.RTPSender
	channel     atomic.Pointer[webrtc.DataChannel]
	closeOnce   sync.Once
	closed      atomic.Bool
}

func (c *WebRTCConnection) start(initiator bool, tracks core.LocalTracks) error {
	if tracks.Audio != nil {
		sender, err := c.pc.AddTrack(tracks.Audio)
		if err != nil {
			return fmt.Errorf("add audio: %w", err)
		}
		go drainRTCP(sender)
	} else if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	// Video is always sendrecv so the outbound source can be swapped later.
	if tracks.Video != nil {
		sender, err := c.pc.AddTrack(tracks.Video)
		if err != nil {
			return fmt.Errorf("add video: %w", err)
		}
		c.videoSender = sender
	} else {
		tr, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
		if err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
		c.videoSender = tr.Sender()
	}
	go drainRTCP(c.videoSender)

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.emit(core.MediaEvent{Kind: core.MediaConnected})
		case webrtc.PeerConnectionStateFailed:
			c.emit(core.MediaEvent{Kind: core.MediaFailed})
		case webrtc.PeerConnectionStateClosed:
			c.emit(core.MediaEvent{Kind: core.MediaClosed})
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			c.emit(core.MediaEvent{Kind: core.MediaCandidate, Candidate: cand.ToJSON()})
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		c.emit(core.MediaEvent{Kind: core.MediaTrack, Track: track})
	})

	if initiator {
		ordered := true
		dc, err := c.pc.CreateDataChannel(StateChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("create state channel: %w", err)
		}
		c.bindChannel(dc)
	} else {
		c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != StateChannelLabel {
				log.Warn().Str("module", "webrtc").Str("label", dc.Label()).Msg("unexpected data channel")
				return
			}
			c.bindChannel(dc)
		})
	}
	return nil
}

func (c *WebRTCConnection) bindChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		c.channel.Store(dc)
		c.emit(core.MediaEvent{Kind: core.MediaChannelOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		c.emit(core.MediaEvent{Kind: core.MediaChannelMessage, Data: data})
	})
	dc.OnClose(func() {
		c.channel.CompareAndSwap(dc, nil)
		c.emit(core.MediaEvent{Kind: core.MediaChannelClosed})
	})
}

func (c *WebRTCConnection) emit(ev core.MediaEvent) {
	if c.sink != nil {
		c.sink(ev)
	}
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	gather := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	if err := c.awaitGathering(ctx, gather); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gather := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	if err := c.awaitGathering(ctx, gather); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

// awaitGathering gives up after the gathering timeout and proceeds with the
// candidates found so far; the rest trickle through OnICECandidate.
func (c *WebRTCConnection) awaitGathering(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(c.gatheringTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		log.Warn().Str("module", "webrtc").Str("remote", string(c.remote)).Dur("timeout", c.gatheringTimeout).Msg("ICE gathering timed out, proceeding")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if c.videoSender == nil {
		return ErrNoVideoSender
	}
	return c.videoSender.ReplaceTrack(track)
}

// VideoTrack reports the track currently attached to the video sender.
func (c *WebRTCConnection) VideoTrack() webrtc.TrackLocal {
	if c.videoSender == nil {
		return nil
	}
	return c.videoSender.Track()
}

func (c *WebRTCConnection) SendState(data []byte) error {
	dc := c.channel.Load()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		} else {
			log.Debug().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
		}
	})
	return err
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
