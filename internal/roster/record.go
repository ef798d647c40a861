// Package roster holds the client-local table of everything known about
// every player this client has heard from.
package roster

import (
	"github.com/guildhall-project/guildhall/internal/peer"
)

// MaxNameLen is the longest player name carried in an announcement.
const MaxNameLen = 30

// Location is where a player currently is.
type Location uint8

const (
	LocationNowhere Location = iota
	LocationTown
	LocationGuildHall
	LocationInGame
)

var locationStrings = map[Location]string{
	LocationNowhere:   "nowhere",
	LocationTown:      "town",
	LocationGuildHall: "guild_hall",
	LocationInGame:    "in_game",
}

// String returns the string representation of Location.
func (l Location) String() string {
	if s, ok := locationStrings[l]; ok {
		return s
	}
	return "nowhere"
}

// Valid reports whether l is a known location.
func (l Location) Valid() bool {
	_, ok := locationStrings[l]
	return ok
}

// MarshalJSON serializes Location as a JSON string (e.g. "guild_hall").
func (l Location) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Activity is a player's negotiation state.
type Activity uint8

const (
	ActivityNone Activity = iota
	ActivityCreatingGame
	ActivityJoiningGame
)

var activityStrings = map[Activity]string{
	ActivityNone:         "none",
	ActivityCreatingGame: "creating_game",
	ActivityJoiningGame:  "joining_game",
}

// String returns the string representation of Activity.
func (a Activity) String() string {
	if s, ok := activityStrings[a]; ok {
		return s
	}
	return "none"
}

// Valid reports whether a is a known activity.
func (a Activity) Valid() bool {
	_, ok := activityStrings[a]
	return ok
}

// MarshalJSON serializes Activity as a JSON string (e.g. "creating_game").
func (a Activity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// PlayerRecord is one roster slot. An empty Name marks an unused slot.
type PlayerRecord struct {
	Name        string       `json:"name"`
	Address     peer.Address `json:"address"`
	Location    Location     `json:"location"`
	Activity    Activity     `json:"activity"`
	GroupID     peer.Address `json:"group_id"`
	AdventureID uint16       `json:"adventure_id"`
	QuestID     uint16       `json:"quest_id"`
}

// Present reports whether the slot is in use.
func (r *PlayerRecord) Present() bool {
	return r.Name != ""
}

// InGroup reports whether the record is associated with the given session.
func (r *PlayerRecord) InGroup(groupID peer.Address) bool {
	return peer.Equal(r.GroupID, groupID)
}
