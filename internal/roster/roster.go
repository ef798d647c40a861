package roster

import (
	"errors"

	"github.com/guildhall-project/guildhall/internal/peer"
)

// Capacity is the number of roster slots.
const Capacity = 256

// ErrFull is returned when a new name is seen and every slot is taken.
var ErrFull = errors.New("roster is full")

// Roster is a fixed-capacity table of PlayerRecords resolved by name or
// by group. Slots are never compacted; iteration skips empty slots.
//
// Roster is not safe for concurrent use. It is owned by the client's
// update loop.
type Roster struct {
	slots [Capacity]PlayerRecord
}

// New returns an empty roster.
func New() *Roster {
	return &Roster{}
}

// Reset clears every slot.
func (r *Roster) Reset() {
	r.slots = [Capacity]PlayerRecord{}
}

// Find returns the record with the given name, or nil.
func (r *Roster) Find(name string) *PlayerRecord {
	if name == "" {
		return nil
	}
	for i := range r.slots {
		if r.slots[i].Name == name {
			return &r.slots[i]
		}
	}
	return nil
}

// FindOrCreate returns the record for name, allocating the first empty
// slot on first sighting. A new record starts at LocationNowhere with
// ActivityNone so that the caller's diff sees the newcomer arrive.
func (r *Roster) FindOrCreate(name string) (rec *PlayerRecord, created bool, err error) {
	if rec := r.Find(name); rec != nil {
		return rec, false, nil
	}
	if name == "" {
		return nil, false, errors.New("empty player name")
	}
	for i := range r.slots {
		if !r.slots[i].Present() {
			r.slots[i] = PlayerRecord{
				Name:     name,
				Location: LocationNowhere,
				Activity: ActivityNone,
			}
			return &r.slots[i], true, nil
		}
	}
	return nil, false, ErrFull
}

// Each calls fn for every present record in slot order until fn returns false.
func (r *Roster) Each(fn func(rec *PlayerRecord) bool) {
	for i := range r.slots {
		if !r.slots[i].Present() {
			continue
		}
		if !fn(&r.slots[i]) {
			return
		}
	}
}

// Members returns the addresses of present records whose group matches,
// in slot order, capped at max.
func (r *Roster) Members(groupID peer.Address, max int) []peer.Address {
	members := make([]peer.Address, 0, max)
	r.Each(func(rec *PlayerRecord) bool {
		if len(members) >= max {
			return false
		}
		if rec.InGroup(groupID) {
			members = append(members, rec.Address)
		}
		return true
	})
	return members
}

// FindByAddress returns the first present record carrying addr.
func (r *Roster) FindByAddress(addr peer.Address) *PlayerRecord {
	var found *PlayerRecord
	r.Each(func(rec *PlayerRecord) bool {
		if peer.Equal(rec.Address, addr) {
			found = rec
			return false
		}
		return true
	})
	return found
}

// Snapshot returns a copy of every present record in slot order.
func (r *Roster) Snapshot() []PlayerRecord {
	out := make([]PlayerRecord, 0)
	r.Each(func(rec *PlayerRecord) bool {
		out = append(out, *rec)
		return true
	})
	return out
}

// Len returns the number of present records.
func (r *Roster) Len() int {
	n := 0
	r.Each(func(*PlayerRecord) bool {
		n++
		return true
	})
	return n
}
