package mesh

import (
	"time"

	"github.com/dkeye/Meet/internal/core"
)

type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityVeryPoor  QualityLevel = "very-poor"
)

// QualitySample is one periodic reading of a link. PacketLoss is a
// percentage over the sampling window.
type QualitySample struct {
	At            time.Time
	RoundTrip     time.Duration
	Jitter        time.Duration
	PacketLoss    float64
	BandwidthKbps float64
	Score         int
	Level         QualityLevel
}

// Sample turns two cumulative stat readings into a windowed sample. prev
// may be zero for the first reading.
func Sample(prev, cur core.TransportStats) QualitySample {
	s := QualitySample{
		At:        cur.At,
		RoundTrip: cur.RoundTripTime,
		Jitter:    cur.Jitter,
	}
	recv := int64(cur.PacketsReceived) - int64(prev.PacketsReceived)
	lost := cur.PacketsLost - prev.PacketsLost
	if recv < 0 || lost < 0 {
		recv, lost = int64(cur.PacketsReceived), cur.PacketsLost
	}
	if total := recv + lost; total > 0 && lost > 0 {
		s.PacketLoss = float64(lost) / float64(total) * 100
	}
	if !prev.At.IsZero() {
		if secs := cur.At.Sub(prev.At).Seconds(); secs > 0 && cur.BytesReceived >= prev.BytesReceived {
			s.BandwidthKbps = float64(cur.BytesReceived-prev.BytesReceived) * 8 / secs / 1000
		}
	}
	s.Score = Score(s)
	s.Level = LevelFor(s.Score)
	return s
}

// Score rates a sample 0..100: latency and loss weigh 30 each, jitter and
// bandwidth 20 each.
func Score(s QualitySample) int {
	score := 0
	switch rtt := s.RoundTrip; {
	case rtt <= 150*time.Millisecond:
		score += 30
	case rtt <= 200*time.Millisecond:
		score += 20
	case rtt <= 300*time.Millisecond:
		score += 10
	}
	switch {
	case s.PacketLoss <= 2:
		score += 30
	case s.PacketLoss <= 5:
		score += 20
	case s.PacketLoss <= 10:
		score += 10
	}
	switch {
	case s.Jitter <= 30*time.Millisecond:
		score += 20
	case s.Jitter <= 50*time.Millisecond:
		score += 10
	}
	switch {
	case s.BandwidthKbps >= 1000:
		score += 20
	case s.BandwidthKbps >= 500:
		score += 10
	}
	return score
}

func LevelFor(score int) QualityLevel {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityFair
	case score >= 20:
		return QualityPoor
	}
	return QualityVeryPoor
}
