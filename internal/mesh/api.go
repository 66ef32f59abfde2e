package mesh

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/statesync"
	"github.com/pion/webrtc/v4"
)

type (
	publishCmd struct {
		delta domain.StateDelta
		reply chan<- error
	}
	chatCmd struct {
		text  string
		reply chan<- chatResult
	}
	chatResult struct {
		msg domain.ChatMessage
		err error
	}
	videoCmd struct {
		track webrtc.TrackLocal
		reply chan<- error
	}
	screenCmd struct {
		track webrtc.TrackLocal
		on    bool
		reply chan<- error
	}
	snapshotCmd struct{ reply chan<- Snapshot }
	leaveCmd    struct{ reply chan<- struct{} }
)

// handle runs one command or link event on the loop. It reports true when
// the session is over.
func (o *Orchestrator) handle(m any) bool {
	switch m := m.(type) {
	case linkEvent:
		o.onLinkEvent(m)
	case publishCmd:
		m.reply <- o.publish(m.delta)
	case chatCmd:
		msg, err := o.chat(m.text)
		m.reply <- chatResult{msg: msg, err: err}
	case videoCmd:
		o.setVideo(m.track)
		m.reply <- nil
	case screenCmd:
		m.reply <- o.setScreen(m.on, m.track)
	case snapshotCmd:
		m.reply <- o.snapshot()
	case leaveCmd:
		o.sendLeave()
		m.reply <- struct{}{}
		return true
	}
	return false
}

func ask[T any](o *Orchestrator, build func(chan<- T) any) (T, error) {
	var zero T
	if !o.running.Load() {
		return zero, ErrNotRunning
	}
	reply := make(chan T, 1)
	select {
	case <-o.done:
		return zero, ErrNotRunning
	default:
	}
	o.inbox.push(build(reply))
	select {
	case v := <-reply:
		return v, nil
	case <-o.done:
		return zero, ErrNotRunning
	}
}

// Publish applies delta to the local state and sends it to every remote.
func (o *Orchestrator) Publish(delta domain.StateDelta) error {
	err, askErr := ask(o, func(r chan<- error) any { return publishCmd{delta: delta, reply: r} })
	if askErr != nil {
		return askErr
	}
	return err
}

func (o *Orchestrator) SetAudioEnabled(on bool) error {
	return o.Publish(domain.StateDelta{IsAudioEnabled: domain.Bool(on)})
}

func (o *Orchestrator) SetVideoEnabled(on bool) error {
	return o.Publish(domain.StateDelta{IsVideoEnabled: domain.Bool(on)})
}

func (o *Orchestrator) SetHandRaised(on bool) error {
	return o.Publish(domain.StateDelta{IsHandRaised: domain.Bool(on)})
}

// SendChat delivers text to everybody and echoes it to the local observer.
func (o *Orchestrator) SendChat(text string) (domain.ChatMessage, error) {
	res, err := ask(o, func(r chan<- chatResult) any { return chatCmd{text: text, reply: r} })
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return res.msg, res.err
}

// SetOutboundVideoSource swaps the video every link sends. Setting the
// current track again is a no-op.
func (o *Orchestrator) SetOutboundVideoSource(track webrtc.TrackLocal) error {
	err, askErr := ask(o, func(r chan<- error) any { return videoCmd{track: track, reply: r} })
	if askErr != nil {
		return askErr
	}
	return err
}

// StartScreenShare replaces the camera with a display capture on every link
// and announces it. Calling it while sharing does nothing.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	// Held across capture so concurrent callers never acquire two displays.
	o.shareMu.Lock()
	defer o.shareMu.Unlock()
	if o.sharing.Load() {
		return nil
	}
	if o.source == nil {
		return &Error{Kind: KindMedia, Err: fmt.Errorf("no media source")}
	}
	track, err := o.source.DisplayCaptureStream(ctx)
	if err != nil {
		merr := &Error{Kind: KindMedia, Err: err}
		o.observer.OnError(merr)
		return merr
	}
	return o.screenShare(true, track)
}

func (o *Orchestrator) StopScreenShare() error {
	o.shareMu.Lock()
	defer o.shareMu.Unlock()
	return o.screenShare(false, nil)
}

func (o *Orchestrator) screenShare(on bool, track webrtc.TrackLocal) error {
	err, askErr := ask(o, func(r chan<- error) any { return screenCmd{on: on, track: track, reply: r} })
	if askErr != nil {
		return askErr
	}
	return err
}

func (o *Orchestrator) Snapshot() (Snapshot, error) {
	return ask(o, func(r chan<- Snapshot) any { return snapshotCmd{reply: r} })
}

// Leave announces departure and ends Run. Handshakes in flight are
// abandoned.
func (o *Orchestrator) Leave() {
	_, _ = ask(o, func(r chan<- struct{}) any { return leaveCmd{reply: r} })
	<-o.waitDone()
}

func (o *Orchestrator) waitDone() <-chan struct{} {
	if !o.running.Load() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

func (o *Orchestrator) publish(delta domain.StateDelta) error {
	delta.IsAdmitted = nil
	before := o.self.State
	o.self.State.Apply(delta)
	if o.self.State == before {
		return nil
	}
	o.seq++
	data, err := statesync.Encode(statesync.KindDelta, o.seq, delta)
	if err != nil {
		return err
	}
	for _, id := range o.store.IDs() {
		// A failed link is caught up by the snapshot of its next handshake.
		if l, ok := o.links[id]; ok && l.State() == LinkFailed {
			continue
		}
		d := delta
		o.deliver(id, data, protocol.Message{
			Type:    protocol.TypeStateUpdate,
			To:      id,
			Updates: &d,
			Seq:     o.seq,
		})
	}
	o.notifyParticipants()
	return nil
}

func (o *Orchestrator) chat(text string) (domain.ChatMessage, error) {
	if !o.joined {
		return domain.ChatMessage{}, ErrNotJoined
	}
	msg, err := domain.NewChatMessage(o.self, text)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	data, err := statesync.Encode(statesync.KindChat, 0, msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	for _, id := range o.store.IDs() {
		c := msg
		o.deliver(id, data, protocol.Message{Type: protocol.TypeChat, To: id, Chat: &c})
	}
	o.observer.OnChatMessage(msg)
	return msg, nil
}

// deliver prefers the peer's state channel and falls back to the relay.
func (o *Orchestrator) deliver(id domain.ParticipantID, data []byte, fallback protocol.Message) {
	if l, ok := o.links[id]; ok && l.ChannelReady() {
		l.post(sendMsg{data: data, fallback: fallback})
		return
	}
	if err := o.relay.Send(fallback); err != nil {
		o.log.Debug().Err(err).Str("remote", string(id)).Str("type", fallback.Type).Msg("relay send")
	}
}

func (o *Orchestrator) setVideo(track webrtc.TrackLocal) {
	if track == o.video {
		return
	}
	o.video = track
	for _, l := range o.links {
		l.post(videoMsg{track: track})
	}
}

func (o *Orchestrator) setScreen(on bool, track webrtc.TrackLocal) error {
	if on == (o.screen != nil) {
		return nil
	}
	if on {
		o.screen = track
		o.setVideo(track)
	} else {
		o.screen = nil
		o.setVideo(o.camera.Video)
	}
	o.sharing.Store(on)
	return o.publish(domain.StateDelta{IsScreenSharing: domain.Bool(on)})
}
