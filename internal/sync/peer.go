package sync

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PeerStatus tracks a remote replica's trust lifecycle, trimmed to what
// an event-replica peer actually needs.
type PeerStatus string

const (
	StatusActive      PeerStatus = "active"
	StatusSuspicious  PeerStatus = "suspicious"
	StatusQuarantined PeerStatus = "quarantined"
)

// Peer tracks one remote replica's identity and sync health.
type Peer struct {
	ID         uuid.UUID
	Address    string
	Status     PeerStatus
	TrustScore float64
	LastSynced time.Time
}

// NewPeer registers a peer at a neutral starting trust of 0.5.
func NewPeer(address string) *Peer {
	return &Peer{
		ID:         uuid.New(),
		Address:    address,
		Status:     StatusActive,
		TrustScore: 0.5,
	}
}

// Registry tracks every known peer for a replica, ordering anti-entropy
// sweeps by trust.
type Registry struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]*Peer
}

// NewRegistry constructs an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[uuid.UUID]*Peer)}
}

// Add registers a peer.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

// RecordSuccess raises trust via an exponential moving average with a
// 0.95/0.05 weighting.
func (r *Registry) RecordSuccess(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.TrustScore = 0.95*p.TrustScore + 0.05*1.0
	if p.TrustScore > 1.0 {
		p.TrustScore = 1.0
	}
	p.LastSynced = time.Now()
	p.Status = StatusActive
}

// RecordFailure lowers trust and demotes status below the 0.3/0.1
// thresholds.
func (r *Registry) RecordFailure(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.TrustScore = 0.95 * p.TrustScore
	switch {
	case p.TrustScore < 0.1:
		p.Status = StatusQuarantined
	case p.TrustScore < 0.3:
		p.Status = StatusSuspicious
	}
}

// SelectPeers returns up to n non-quarantined peers (active or
// suspicious) ordered by descending trust,
// for an anti-entropy sweep that can't afford to contact every replica.
func (r *Registry) SelectPeers(n int) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Status != StatusQuarantined {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].TrustScore > active[j].TrustScore })
	if n >= 0 && n < len(active) {
		active = active[:n]
	}
	out := make([]*Peer, len(active))
	for i, p := range active {
		cp := *p
		out[i] = &cp
	}
	return out
}
