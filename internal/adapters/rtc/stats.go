package rtc

import (
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/webrtc/v4"
)

// Stats folds pion's report into totals for all inbound and outbound RTP
// streams plus the round trip of the nominated candidate pair.
func (c *WebRTCConnection) Stats() (core.TransportStats, error) {
	out := core.TransportStats{At: time.Now()}
	if c.closed.Load() {
		return out, ErrClosed
	}
	for _, s := range c.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			out.PacketsReceived += uint64(st.PacketsReceived)
			out.PacketsLost += int64(st.PacketsLost)
			out.BytesReceived += uint64(st.BytesReceived)
			if j := secondsToDuration(st.Jitter); j > out.Jitter {
				out.Jitter = j
			}
		case webrtc.OutboundRTPStreamStats:
			out.BytesSent += uint64(st.BytesSent)
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.CurrentRoundTripTime > 0 {
				out.RoundTripTime = secondsToDuration(st.CurrentRoundTripTime)
			}
		}
	}
	return out, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
