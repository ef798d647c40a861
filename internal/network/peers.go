package network

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/peer"
)

// PeerStat describes traffic from one remote address.
type PeerStat struct {
	Address   peer.Address `json:"address"`
	FirstSeen time.Time    `json:"first_seen"`
	LastSeen  time.Time    `json:"last_seen"`
	Packets   uint64       `json:"packets"`
	Rejected  uint64       `json:"rejected"`
}

// PeerTable tracks when each remote address was last heard from. It is
// written by the receive goroutine and read by the API and health checks.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[peer.Address]*PeerStat
}

// NewPeerTable creates an empty PeerTable.
func NewPeerTable() *PeerTable {
	return &PeerTable{
		peers: make(map[peer.Address]*PeerStat),
	}
}

// Touch records a packet from addr. Rejected packets count separately.
func (t *PeerTable) Touch(addr peer.Address, at time.Time, rejected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.peers[addr]
	if !ok {
		st = &PeerStat{Address: addr, FirstSeen: at}
		t.peers[addr] = st
		log.Debug().Str("peer", addr.String()).Msg("first packet from peer")
	}
	st.LastSeen = at
	if rejected {
		st.Rejected++
	} else {
		st.Packets++
	}
}

// Get returns the stats for one address.
func (t *PeerTable) Get(addr peer.Address) (PeerStat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.peers[addr]
	if !ok {
		return PeerStat{}, false
	}
	return *st, true
}

// All returns every known peer ordered by address.
func (t *PeerTable) All() []PeerStat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]PeerStat, 0, len(t.peers))
	for _, st := range t.peers {
		result = append(result, *st)
	}
	sortStats(result)
	return result
}

// Count returns the number of known peers.
func (t *PeerTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Silent returns peers not heard from since now-after. Entries are kept;
// the roster has no expiry either.
func (t *PeerTable) Silent(now time.Time, after time.Duration) []PeerStat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-after)
	var result []PeerStat
	for _, st := range t.peers {
		if st.LastSeen.Before(cutoff) {
			result = append(result, *st)
		}
	}
	sortStats(result)
	return result
}

func sortStats(stats []PeerStat) {
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Address.Hex() < stats[j].Address.Hex()
	})
}
