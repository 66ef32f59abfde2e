// Package media is the boundary to camera, microphone and display capture.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrUnavailable      = errors.New("media device unavailable")
)

// Source acquires local tracks. Implementations return errors wrapping
// ErrPermissionDenied or ErrUnavailable.
type Source interface {
	LocalMediaStream(ctx context.Context) (core.LocalTracks, error)
	DisplayCaptureStream(ctx context.Context) (webrtc.TrackLocal, error)
}

// Synthetic hands out Opus/VP8 sample tracks that callers may feed; it is
// what headless participants use.
type Synthetic struct {
	StreamID  string
	NoCamera  bool
	NoDisplay bool
}

func (s Synthetic) LocalMediaStream(ctx context.Context) (core.LocalTracks, error) {
	if s.NoCamera {
		return core.LocalTracks{}, fmt.Errorf("camera: %w", ErrUnavailable)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.streamID())
	if err != nil {
		return core.LocalTracks{}, fmt.Errorf("audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", s.streamID())
	if err != nil {
		return core.LocalTracks{}, fmt.Errorf("camera track: %w", err)
	}
	return core.LocalTracks{Audio: audio, Video: video}, nil
}

func (s Synthetic) DisplayCaptureStream(ctx context.Context) (webrtc.TrackLocal, error) {
	if s.NoDisplay {
		return nil, fmt.Errorf("display: %w", ErrPermissionDenied)
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", s.streamID())
}

func (s Synthetic) streamID() string {
	if s.StreamID == "" {
		return "local"
	}
	return s.StreamID
}
