// Package events defines event types and enumerations for the Guild Hall event system.
package events

import (
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Inbound protocol events
	EventAnnounce     EventType = "announce"
	EventJoinRequest  EventType = "join_request"
	EventJoinResponse EventType = "join_response"
	EventGameStatus   EventType = "game_status"
	EventAck          EventType = "ack"

	// UI hook events
	EventGameListed        EventType = "game_listed"
	EventGameUnlisted      EventType = "game_unlisted"
	EventPlayerEnteredRoom EventType = "player_entered_room"
	EventPlayerLeftRoom    EventType = "player_left_room"
	EventPartyMemberAdded  EventType = "party_member_added"
	EventPartyCleared      EventType = "party_cleared"
	EventJoinConfirmed     EventType = "join_confirmed"
	EventJoinCanceled      EventType = "join_canceled"
	EventCreateConfirmed   EventType = "create_confirmed"
	EventConsoleMessage    EventType = "console_message"

	// Adventure lifecycle events
	EventAdventureLaunched  EventType = "adventure_launched"
	EventAdventureConcluded EventType = "adventure_concluded"
	EventLaunchReport       EventType = "launch_report"

	// System events
	EventHealthWarning EventType = "health_warning"
	EventShutdown      EventType = "shutdown"
)

// UIEventTypes lists every event a UI collaborator may want to mirror.
var UIEventTypes = []EventType{
	EventGameListed,
	EventGameUnlisted,
	EventPlayerEnteredRoom,
	EventPlayerLeftRoom,
	EventPartyMemberAdded,
	EventPartyCleared,
	EventJoinConfirmed,
	EventJoinCanceled,
	EventCreateConfirmed,
	EventConsoleMessage,
	EventAdventureLaunched,
	EventAdventureConcluded,
	EventLaunchReport,
}

// Verdict is the host's answer to a join request.
type Verdict uint8

const (
	VerdictOk Verdict = iota
	VerdictFull
	VerdictCanceled
)

var verdictStrings = map[Verdict]string{
	VerdictOk:       "ok",
	VerdictFull:     "full",
	VerdictCanceled: "canceled",
}

// String returns the string representation of Verdict.
func (v Verdict) String() string {
	if s, ok := verdictStrings[v]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	_, ok := verdictStrings[v]
	return ok
}

// MarshalJSON serializes Verdict as a JSON string (e.g. "full").
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// AdventureStatus is the status bit field carried by launch/outcome packets.
type AdventureStatus uint8

const (
	StatusStarted  AdventureStatus = 1 << 0
	StatusComplete AdventureStatus = 1 << 1
	StatusSuccess  AdventureStatus = 1 << 2
)

// Has reports whether every bit in flag is set.
func (s AdventureStatus) Has(flag AdventureStatus) bool {
	return s&flag == flag
}

// String returns a compact description of the status bits.
func (s AdventureStatus) String() string {
	switch {
	case s.Has(StatusComplete | StatusSuccess):
		return "success"
	case s.Has(StatusComplete):
		return "failure"
	case s.Has(StatusStarted):
		return "started"
	default:
		return "none"
	}
}

// MarshalJSON serializes AdventureStatus as a JSON string (e.g. "started").
func (s AdventureStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// AnnouncePayload carries a peer's self-announcement.
type AnnouncePayload struct {
	Record roster.PlayerRecord
}

// JoinRequestPayload asks a host to admit the requester to its session.
type JoinRequestPayload struct {
	Requester   peer.Address
	GroupID     peer.Address
	AdventureID uint16
}

// JoinResponsePayload is the host's verdict on a join request.
type JoinResponsePayload struct {
	Target      peer.Address
	GroupID     peer.Address
	AdventureID uint16
	Verdict     Verdict
}

// GameStatusPayload announces a launch or an outcome to the party.
type GameStatusPayload struct {
	GroupID       peer.Address    `json:"group_id"`
	AdventureID   uint16          `json:"adventure_id"`
	QuestID       uint16          `json:"quest_id"`
	Members       []peer.Address  `json:"members"`
	StartingLevel uint16          `json:"starting_level"`
	Status        AdventureStatus `json:"status"`
}

// GameListingPayload describes an open game in the hall.
type GameListingPayload struct {
	Host        string       `json:"host"`
	AdventureID uint16       `json:"adventure_id"`
	GroupID     peer.Address `json:"group_id"`
	QuestID     uint16       `json:"quest_id"`
}

// GroupPayload identifies the session a join or create notification is about.
type GroupPayload struct {
	GroupID peer.Address `json:"group_id"`
}

// PlayerPayload names a player for room and party updates.
type PlayerPayload struct {
	Name string `json:"name"`
}

// ConsoleMessagePayload is a short user-visible message.
type ConsoleMessagePayload struct {
	Text string `json:"text"`
}

// LaunchReportPayload summarizes delivery of a groupcast start/outcome packet.
type LaunchReportPayload struct {
	GroupID   peer.Address    `json:"group_id"`
	Status    AdventureStatus `json:"status"`
	Delivered []peer.Address  `json:"delivered"`
	Failed    []peer.Address  `json:"failed"`
}

// HealthWarningPayload is emitted by periodic health checks.
type HealthWarningPayload struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}
