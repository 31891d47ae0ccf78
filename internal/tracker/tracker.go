// Package tracker implements the session-tracker state machine: the
// process-local, in-memory record of every endpoint a peer has been
// observed connecting from, the eviction policy that decides which of
// those endpoints remain allowed, and the TTL/grace window logic that
// governs both.
package tracker

import (
	"strings"
	"sync"
	"time"

	"github.com/anvil-lab/wg-limiterd/internal/settings"
)

// Key identifies one peer on one WireGuard interface.
type Key struct {
	Interface string
	PeerID    string
}

// Session is one observed endpoint for one peer on one interface.
type Session struct {
	Endpoint      string
	FirstSeen     time.Time
	LastSeen      time.Time
	LastHandshake *time.Time
	RxBytes       uint64
	TxBytes       uint64
	RxDelta       uint64
	TxDelta       uint64
}

// peerState is an insertion-ordered map from endpoint to *Session, mirroring
// the Python original's reliance on dict insertion order for snapshot
// determinism.
type peerState struct {
	order []string
	byEP  map[string]*Session
}

func newPeerState() *peerState {
	return &peerState{byEP: make(map[string]*Session)}
}

func (p *peerState) get(endpoint string) (*Session, bool) {
	s, ok := p.byEP[endpoint]
	return s, ok
}

func (p *peerState) put(s *Session) {
	if _, exists := p.byEP[s.Endpoint]; !exists {
		p.order = append(p.order, s.Endpoint)
	}
	p.byEP[s.Endpoint] = s
}

func (p *peerState) delete(endpoint string) {
	if _, ok := p.byEP[endpoint]; !ok {
		return
	}
	delete(p.byEP, endpoint)
	for i, ep := range p.order {
		if ep == endpoint {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *peerState) snapshot() []Session {
	out := make([]Session, 0, len(p.order))
	for _, ep := range p.order {
		out = append(out, *p.byEP[ep])
	}
	return out
}

func (p *peerState) empty() bool {
	return len(p.byEP) == 0
}

// Tracker owns the process-wide session map. Safe for concurrent use,
// though the daemon loop is single-threaded and never calls it that way.
type Tracker struct {
	mu    sync.Mutex
	state map[Key]*peerState
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{state: make(map[Key]*peerState)}
}

// Observe records one (interface, peer, endpoint) observation: it expires
// stale sessions for the key first, then creates or updates the session for
// the observed endpoint, and returns a snapshot of every session currently
// tracked for the key (including ones not just observed).
//
// A handshakeUnix of 0 means "no handshake reported"; rx/tx are cumulative
// byte counters as reported by the data plane.
func (t *Tracker) Observe(
	key Key,
	endpoint string,
	handshakeUnix int64,
	rx, tx uint64,
	cfg settings.PeerLimitSettings,
	now time.Time,
) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps := t.expireLocked(key, cfg.TTLSeconds, now)

	ep := strings.TrimSpace(endpoint)
	if ep == "" || strings.EqualFold(ep, "(none)") {
		return ps.snapshot()
	}

	var handshake *time.Time
	if handshakeUnix > 0 {
		h := time.Unix(handshakeUnix, 0).UTC()
		handshake = &h
	}

	if existing, ok := ps.get(ep); ok {
		rxDelta := clampNonNegative(rx, existing.RxBytes)
		txDelta := clampNonNegative(tx, existing.TxBytes)

		lastSeen := existing.LastSeen
		if rxDelta != 0 || txDelta != 0 {
			lastSeen = now
		}

		existing.RxBytes = rx
		existing.TxBytes = tx
		existing.RxDelta = rxDelta
		existing.TxDelta = txDelta
		existing.LastSeen = lastSeen

		if handshake != nil && (existing.LastHandshake == nil || handshake.After(*existing.LastHandshake)) {
			existing.LastHandshake = handshake
		}
	} else {
		ps.put(&Session{
			Endpoint:      ep,
			FirstSeen:     now,
			LastSeen:      now,
			LastHandshake: handshake,
			RxBytes:       rx,
			TxBytes:       tx,
		})
	}

	return ps.snapshot()
}

// clampNonNegative computes max(0, current - previous) guarding against
// counter resets/restarts in the data plane.
func clampNonNegative(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}

// expireLocked drops every session under key whose LastSeen is older than
// now - ttlSeconds, and returns the (possibly newly created) peerState for
// the key. Caller must hold t.mu.
func (t *Tracker) expireLocked(key Key, ttlSeconds int, now time.Time) *peerState {
	ps, ok := t.state[key]
	if !ok {
		ps = newPeerState()
		t.state[key] = ps
		return ps
	}

	expiry := now.Add(-ttlWindow(ttlSeconds))
	for _, ep := range append([]string(nil), ps.order...) {
		s := ps.byEP[ep]
		if s.LastSeen.Before(expiry) {
			ps.delete(ep)
		}
	}
	if ps.empty() {
		delete(t.state, key)
		ps = newPeerState()
		t.state[key] = ps
	}
	return ps
}

func ttlWindow(ttlSeconds int) time.Duration {
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	return time.Duration(ttlSeconds) * time.Second
}

// ActiveSessions returns the sessions for key whose LastSeen is within the
// TTL window, sorted by LastSeen descending. Does not mutate state.
func (t *Tracker) ActiveSessions(key Key, cfg settings.PeerLimitSettings, now time.Time) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.state[key]
	if !ok {
		return nil
	}

	expiry := now.Add(-ttlWindow(cfg.TTLSeconds))
	active := make([]Session, 0, len(ps.order))
	for _, ep := range ps.order {
		s := ps.byEP[ep]
		if !s.LastSeen.Before(expiry) {
			active = append(active, *s)
		}
	}
	sortByLastSeenDesc(active)
	return active
}

// AllowedSessions implements the eviction policy: grace-window sessions are
// always allowed; beyond that, at most MaxConcurrent stable sessions are
// admitted, ordered by policy.
func (t *Tracker) AllowedSessions(key Key, cfg settings.PeerLimitSettings, now time.Time) []Session {
	active := t.ActiveSessions(key, cfg, now)

	if cfg.MaxConcurrent == nil || *cfg.MaxConcurrent == 0 {
		return active
	}
	maxConcurrent := *cfg.MaxConcurrent

	graceExpiry := now.Add(-time.Duration(maxInt(cfg.GraceSeconds, 0)) * time.Second)

	var grace, stable []Session
	for _, s := range active {
		if !s.FirstSeen.Before(graceExpiry) {
			grace = append(grace, s)
		} else {
			stable = append(stable, s)
		}
	}

	allowed := make([]Session, 0, len(active))
	seen := make(map[string]bool, len(active))
	appendUnique := func(items []Session) {
		for _, s := range items {
			if !seen[s.Endpoint] {
				seen[s.Endpoint] = true
				allowed = append(allowed, s)
			}
		}
	}

	appendUnique(grace)

	// stable_already_allowed is always 0 here: allowed currently holds only
	// grace sessions, so remaining is effectively maxConcurrent itself —
	// grace sessions never count against the cap (see spec §4.4).
	remaining := maxConcurrent
	if remaining <= 0 {
		return allowed
	}

	ordered := stable
	if cfg.Policy == settings.PolicyOldWins {
		ordered = append([]Session(nil), stable...)
		sortByFirstSeenAsc(ordered)
	}
	if remaining > len(ordered) {
		remaining = len(ordered)
	}
	appendUnique(ordered[:remaining])

	return allowed
}

// PrunePeer forgets all state for a key, e.g. when a peer is removed from
// configuration.
func (t *Tracker) PrunePeer(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, key)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func sortByLastSeenDesc(s []Session) {
	// insertion sort: session counts per peer are small and this keeps
	// ties in observation order, matching the Python original's stable sort.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].LastSeen.After(s[j-1].LastSeen); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func sortByFirstSeenAsc(s []Session) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].FirstSeen.Before(s[j-1].FirstSeen); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
