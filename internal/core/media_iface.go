package core

import (
	"context"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MediaEventKind int

const (
	MediaCandidate MediaEventKind = iota
	MediaConnected
	MediaFailed
	MediaClosed
	MediaChannelOpen
	MediaChannelMessage
	MediaChannelClosed
	MediaTrack
)

func (k MediaEventKind) String() string {
	switch k {
	case MediaCandidate:
		return "candidate"
	case MediaConnected:
		return "connected"
	case MediaFailed:
		return "failed"
	case MediaClosed:
		return "closed"
	case MediaChannelOpen:
		return "channel-open"
	case MediaChannelMessage:
		return "channel-message"
	case MediaChannelClosed:
		return "channel-closed"
	case MediaTrack:
		return "track"
	}
	return "unknown"
}

// MediaEvent is everything the underlying transport reports back to the
// link that owns it.
type MediaEvent struct {
	Kind      MediaEventKind
	Candidate webrtc.ICECandidateInit
	Data      []byte
	Track     *webrtc.TrackRemote
}

// LocalTracks is the local camera/mic set. Track instances are shared
// read-only between links; every link attaches them to its own senders.
type LocalTracks struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

type TransportStats struct {
	At              time.Time
	RoundTripTime   time.Duration
	Jitter          time.Duration
	PacketsReceived uint64
	PacketsLost     int64
	BytesReceived   uint64
	BytesSent       uint64
}

type MediaConnection interface {
	// CreateOffer generates and applies the local offer. ICE gathering is
	// awaited up to the configured gathering timeout.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the applied answer.
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// ReplaceVideoTrack swaps the outbound video in place, without renegotiation.
	ReplaceVideoTrack(webrtc.TrackLocal) error
	// SendState writes to the auxiliary state channel.
	SendState([]byte) error
	Stats() (TransportStats, error)
	Close() error
}

// MediaConnectionFactory builds one MediaConnection per link. Events are
// pushed to sink from transport goroutines.
type MediaConnectionFactory interface {
	NewMediaConnection(remote domain.ParticipantID, initiator bool, tracks LocalTracks, sink func(MediaEvent)) (MediaConnection, error)
}
