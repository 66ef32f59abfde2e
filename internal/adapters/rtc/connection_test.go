package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/webrtc/v4"
)

type eventLog struct {
	ch chan core.MediaEvent
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan core.MediaEvent, 256)} }

func (l *eventLog) sink(ev core.MediaEvent) {
	select {
	case l.ch <- ev:
	default:
	}
}

func (l *eventLog) wait(t *testing.T, kind core.MediaEventKind) core.MediaEvent {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func videoTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

func TestConnectionHandshakeChannelAndTrackSwap(t *testing.T) {
	f, err := NewFactory(Options{ICEServers: []webrtc.ICEServer{}, GatheringTimeout: 5 * time.Second, IncludeLoopback: true})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	camera := videoTrack(t, "camera")
	screen := videoTrack(t, "screen")

	offLog, ansLog := newEventLog(), newEventLog()
	offerer, err := f.NewMediaConnection("bob", true, core.LocalTracks{Video: camera}, offLog.sink)
	if err != nil {
		t.Fatalf("offerer: %v", err)
	}
	defer offerer.Close()
	answerer, err := f.NewMediaConnection("alice", false, core.LocalTracks{Video: camera}, ansLog.sink)
	if err != nil {
		t.Fatalf("answerer: %v", err)
	}
	defer answerer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := answerer.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := offerer.ApplyAnswer(answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	offLog.wait(t, core.MediaConnected)
	ansLog.wait(t, core.MediaConnected)
	offLog.wait(t, core.MediaChannelOpen)
	ansLog.wait(t, core.MediaChannelOpen)

	if err := offerer.SendState([]byte("hello")); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	if got := ansLog.wait(t, core.MediaChannelMessage); string(got.Data) != "hello" {
		t.Fatalf("message = %q", got.Data)
	}

	if err := offerer.ReplaceVideoTrack(screen); err != nil {
		t.Fatalf("ReplaceVideoTrack: %v", err)
	}
	if got := offerer.(*WebRTCConnection).VideoTrack(); got != screen {
		t.Fatalf("video sender track = %v, want screen", got)
	}

	if _, err := offerer.Stats(); err != nil {
		t.Fatalf("Stats: %v", err)
	}
}

func TestSendStateBeforeOpen(t *testing.T) {
	f, err := NewFactory(Options{ICEServers: []webrtc.ICEServer{}})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	c, err := f.NewMediaConnection("bob", true, core.LocalTracks{}, nil)
	if err != nil {
		t.Fatalf("NewMediaConnection: %v", err)
	}
	defer c.Close()
	if err := c.SendState([]byte("x")); err != ErrChannelNotOpen {
		t.Fatalf("err = %v, want ErrChannelNotOpen", err)
	}
}
