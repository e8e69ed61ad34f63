package peer

import (
	"time"
)

// Event classifies observed peer behaviour for reputation scoring.
type Event int

const (
	EventValidRelay        Event = iota // A valid block or transaction relayed.
	EventInvalidPayload                 // A payload that failed validation.
	EventMalformedEnvelope              // A signed envelope that failed authentication.
	EventProtocolViolation              // A protocol-level violation.
)

// BanThreshold is the score at or below which a peer is banned.
const BanThreshold = -100

// baseBanDuration is the first ban length; it doubles on every re-ban.
const baseBanDuration = time.Hour

// delta returns the score adjustment for an event.
func (e Event) delta() int {
	switch e {
	case EventValidRelay:
		return 1
	case EventInvalidPayload:
		return -5
	case EventMalformedEnvelope:
		return -20
	case EventProtocolViolation:
		return -50
	}
	return 0
}

// RecordEvent adjusts a peer's reputation and reports whether the event
// tripped a ban. Crossing the threshold bans the peer for a duration that
// doubles on every re-ban and resets the score.
func (p *Peer) RecordEvent(e Event, now time.Time) (banned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rec.ReputationScore += e.delta()
	if p.rec.ReputationScore > BanThreshold {
		return false
	}

	duration := baseBanDuration << uint(p.rec.BanCount)
	p.rec.BanCount++
	p.rec.BannedUntil = now.UTC().Add(duration).Unix()
	p.rec.ReputationScore = 0

	return true
}

// IsBanned reports whether the peer's ban is still in force.
func (p *Peer) IsBanned(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rec.BannedUntil > now.UTC().Unix()
}

// RecordEvent scores an event against a peer by id and persists the result.
func (r *Registry) RecordEvent(nodeID string, e Event) {
	p, found := r.Get(nodeID)
	if !found {
		return
	}

	now := time.Now()
	p.RecordEvent(e, now)
	r.persist(p.Snapshot())
}

// IsBanned reports whether a peer by id is currently banned.
func (r *Registry) IsBanned(nodeID string) bool {
	p, found := r.Get(nodeID)
	if !found {
		return false
	}

	return p.IsBanned(time.Now())
}
