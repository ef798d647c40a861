package network

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/guildhall-project/guildhall/internal/peer"
)

// DefaultDedupeSize is the number of (sender, sequence) pairs remembered.
const DefaultDedupeSize = 1024

type dedupeKey struct {
	from peer.Address
	seq  uint32
}

// Dedupe remembers recently processed reliable packets so that a
// retransmission whose ack was lost is acknowledged again but not
// handled twice.
type Dedupe struct {
	seen *lru.Cache[dedupeKey, struct{}]
}

// NewDedupe creates a Dedupe holding up to size entries.
func NewDedupe(size int) (*Dedupe, error) {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[dedupeKey, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Dedupe{seen: cache}, nil
}

// Seen records (from, seq) and reports whether it was already present.
func (d *Dedupe) Seen(from peer.Address, seq uint32) bool {
	found, _ := d.seen.ContainsOrAdd(dedupeKey{from: from, seq: seq}, struct{}{})
	return found
}

// Len returns the number of remembered packets.
func (d *Dedupe) Len() int {
	return d.seen.Len()
}
