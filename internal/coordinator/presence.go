package coordinator

import (
	"sort"
	"sync"
	"time"
)

// Presence tracks which identities are currently online. Going offline is
// delayed by a grace period so a refresh or a brief network blip does not
// flap presence.
type Presence struct {
	mu     sync.Mutex
	online map[string]struct{}
	timers map[string]*time.Timer
}

// NewPresence creates an empty presence tracker.
func NewPresence() *Presence {
	return &Presence{
		online: make(map[string]struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// MarkOnline adds the identity to the presence set and cancels any pending
// offline check. Returns whether this is a fresh online transition (false on
// a rapid reconnect of an identity that never went offline).
func (p *Presence) MarkOnline(identityID string) (fresh bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[identityID]; ok {
		t.Stop()
		delete(p.timers, identityID)
	}
	_, already := p.online[identityID]
	p.online[identityID] = struct{}{}
	return !already
}

// MarkOffline removes the identity from the presence set. Returns whether it
// was online.
func (p *Presence) MarkOffline(identityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[identityID]; ok {
		t.Stop()
		delete(p.timers, identityID)
	}
	_, was := p.online[identityID]
	delete(p.online, identityID)
	return was
}

// IsOnline reports whether the identity is in the presence set.
func (p *Presence) IsOnline(identityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[identityID]
	return ok
}

// Online returns a sorted snapshot of the online identity ids.
func (p *Presence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ScheduleOfflineCheck arms a delayed check for the identity, replacing any
// previously armed one. check runs after the grace period and must itself
// re-validate that the identity has not rebound in the interim; the timer
// only decides when to look, never what is true.
func (p *Presence) ScheduleOfflineCheck(identityID string, grace time.Duration, check func(identityID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[identityID]; ok {
		t.Stop()
	}
	p.timers[identityID] = time.AfterFunc(grace, func() {
		p.mu.Lock()
		delete(p.timers, identityID)
		p.mu.Unlock()
		check(identityID)
	})
}

// Stop cancels all pending offline checks.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}
