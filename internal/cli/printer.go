package cli

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/mesh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
)

// printer renders orchestrator callbacks on the terminal.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	self    domain.ParticipantID
	quality map[domain.ParticipantID]mesh.QualitySample
}

var _ mesh.Observer = (*printer)(nil)

func newPrinter(w io.Writer, self domain.ParticipantID) *printer {
	return &printer{w: w, self: self, quality: make(map[domain.ParticipantID]mesh.QualitySample)}
}

func (p *printer) OnParticipantsChanged(ps map[domain.ParticipantID]domain.Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants(ps, nil)
}

func (p *printer) OnError(err error) {
	log.Warn().Err(err).Str("module", "cli").Msg("session")
}

func (p *printer) OnChatMessage(m domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
	fmt.Fprintf(p.w, "%s %s: %s\n", text.FgHiBlack.Sprint(ts), text.Bold.Sprint(m.SenderName), m.Content)
}

func (p *printer) OnConnectionQualitySample(id domain.ParticipantID, s mesh.QualitySample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, seen := p.quality[id]
	p.quality[id] = s
	if !seen || prev.Level != s.Level {
		log.Info().Str("module", "cli").Str("remote", string(id)).Str("level", string(s.Level)).Int("score", s.Score).Msg("connection quality")
	}
}

func (p *printer) errorf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, text.FgRed.Sprintf(format, args...))
}

func (p *printer) session(s mesh.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "meeting code %s\n", s.MeetingCode)
	ps := make(map[domain.ParticipantID]domain.Participant, len(s.Participants)+1)
	for id, pp := range s.Participants {
		ps[id] = pp
	}
	ps[s.Self.ID] = s.Self
	p.participants(ps, s.Links)
}

func (p *printer) participants(ps map[domain.ParticipantID]domain.Participant, links map[domain.ParticipantID]mesh.LinkState) {
	ids := make([]domain.ParticipantID, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	t := table.NewWriter()
	t.SetOutputMirror(p.w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Role", "Audio", "Video", "Screen", "Hand", "Link", "Quality"})
	for _, id := range ids {
		pp := ps[id]
		link, quality := "-", "-"
		if id == p.self {
			link = "you"
		} else if links != nil {
			link = links[id].String()
		}
		if q, ok := p.quality[id]; ok {
			quality = string(q.Level)
		}
		t.AppendRow(table.Row{pp.Name, pp.Role(), onOff(pp.State.IsAudioEnabled), onOff(pp.State.IsVideoEnabled),
			onOff(pp.State.IsScreenSharing), onOff(pp.State.IsHandRaised), link, quality})
	}
	t.Render()
}

func onOff(b bool) string {
	if b {
		return text.FgGreen.Sprint("on")
	}
	return text.FgHiBlack.Sprint("off")
}
