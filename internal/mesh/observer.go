package mesh

import (
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Observer receives everything the UI layer renders. Callbacks run on the
// orchestrator goroutine and should return quickly.
type Observer interface {
	// OnParticipantsChanged gets a fresh copy that includes the local participant.
	OnParticipantsChanged(map[domain.ParticipantID]domain.Participant)
	OnError(error)
	OnChatMessage(domain.ChatMessage)
	OnConnectionQualitySample(domain.ParticipantID, QualitySample)
}

// TrackObserver is optionally implemented by observers that render media.
type TrackObserver interface {
	OnRemoteTrack(domain.ParticipantID, *webrtc.TrackRemote)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnParticipantsChanged(map[domain.ParticipantID]domain.Participant) {}
func (NopObserver) OnError(error)                                                     {}
func (NopObserver) OnChatMessage(domain.ChatMessage)                                  {}
func (NopObserver) OnConnectionQualitySample(domain.ParticipantID, QualitySample)     {}
