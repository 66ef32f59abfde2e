package app

import (
	"sync"

	"github.com/dkeye/Meet/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "kick"
	}
	return "none"
}

type Policy interface {
	OnBackPressure(room core.RoomService, member *core.Member) BackpressureAction
	OnDelivered(member *core.Member)
}

// SimplePolicy drops frames for a slow member and kicks it after MaxDrops
// consecutive drops. A kicked member reconnects and is caught up by join.
type SimplePolicy struct {
	MaxDrops int

	mu    sync.Mutex
	drops map[core.SessionID]int
}

func NewSimplePolicy(maxDrops int) *SimplePolicy {
	return &SimplePolicy{MaxDrops: maxDrops, drops: make(map[core.SessionID]int)}
}

func (p *SimplePolicy) OnBackPressure(room core.RoomService, member *core.Member) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops[member.Session]++
	if p.MaxDrops > 0 && p.drops[member.Session] >= p.MaxDrops {
		delete(p.drops, member.Session)
		return KickMember
	}
	return DropFrame
}

func (p *SimplePolicy) OnDelivered(member *core.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.drops, member.Session)
}
