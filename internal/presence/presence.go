// Package presence implements the Guild Hall presence protocol: the
// reconciliation of peer announcements into the roster, the local
// create/join negotiation state machine, the periodic self-announcement
// and the reliable groupcast used to start and conclude an adventure.
//
// A Service is owned by a single update loop. None of its methods block
// and none are safe for concurrent use.
package presence

import (
	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// MaxPlayersPerGame bounds both the host's pending join list and the
// membership resolved at launch.
const MaxPlayersPerGame = 4

// DefaultHeartbeatTicks is 2 seconds at the default 50ms tick.
const DefaultHeartbeatTicks = 40

// DefaultRetryTicks is the resend interval handed to the reliable sender.
const DefaultRetryTicks = 10

// Options configures a Service.
type Options struct {
	Name           string
	Self           peer.Address
	Transport      Transport
	Hooks          Hooks
	Console        Console
	Logger         zerolog.Logger
	HeartbeatTicks uint64
	RetryTicks     int
}

// LocalState is a snapshot of this client's own presence.
type LocalState struct {
	Name        string                    `json:"name"`
	Address     peer.Address              `json:"address"`
	Screen      Screen                    `json:"screen"`
	Location    roster.Location           `json:"location"`
	Activity    roster.Activity           `json:"activity"`
	GroupID     peer.Address              `json:"group_id"`
	AdventureID uint16                    `json:"adventure_id"`
	QuestID     uint16                    `json:"quest_id"`
	Pending     []peer.Address            `json:"pending_joiners"`
	Launched    *events.GameStatusPayload `json:"launched,omitempty"`
}

// Service holds the roster and the local presence state.
type Service struct {
	name      string
	self      peer.Address
	roster    *roster.Roster
	transport Transport
	hooks     Hooks
	console   Console
	logger    zerolog.Logger

	screen      Screen
	activity    roster.Activity
	adventureID uint16
	questID     uint16
	groupID     peer.Address

	// joiners accepted while hosting; launch membership comes from the roster
	pending  []peer.Address
	launched *events.GameStatusPayload

	heartbeatTicks uint64
	retryTicks     int
	now            uint64
	lastHeartbeat  uint64
}

// New creates a Service with an empty roster.
func New(opts Options) (*Service, error) {
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Self.IsBlank() {
		return nil, ErrNoAddress
	}
	if opts.Transport == nil {
		opts.Transport = nopTransport{}
	}
	if opts.Hooks == nil {
		opts.Hooks = NopHooks{}
	}
	if opts.Console == nil {
		opts.Console = nopConsole{}
	}
	if opts.HeartbeatTicks == 0 {
		opts.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if opts.RetryTicks <= 0 {
		opts.RetryTicks = DefaultRetryTicks
	}

	return &Service{
		name:           opts.Name,
		self:           opts.Self,
		roster:         roster.New(),
		transport:      opts.Transport,
		hooks:          opts.Hooks,
		console:        opts.Console,
		logger:         opts.Logger.With().Str("component", "presence").Logger(),
		heartbeatTicks: opts.HeartbeatTicks,
		retryTicks:     opts.RetryTicks,
	}, nil
}

// ValidateName checks that a player name fits the announcement field.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > roster.MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

// Reset clears the guild-hall view: the roster and the host's pending list.
func (s *Service) Reset() {
	s.roster.Reset()
	s.pending = nil
	s.logger.Debug().Msg("roster reset")
}

// Self returns this client's own address.
func (s *Service) Self() peer.Address {
	return s.self
}

// Name returns this client's player name.
func (s *Service) Name() string {
	return s.name
}

// Roster exposes the underlying table for read-only scans.
func (s *Service) Roster() *roster.Roster {
	return s.roster
}

// Location derives where this client currently is from the active screen.
func (s *Service) Location() roster.Location {
	return LocationFor(s.screen)
}

// Local returns a snapshot of the local presence state.
func (s *Service) Local() LocalState {
	st := LocalState{
		Name:        s.name,
		Address:     s.self,
		Screen:      s.screen,
		Location:    s.Location(),
		Activity:    s.activity,
		GroupID:     s.groupID,
		AdventureID: s.adventureID,
		QuestID:     s.questID,
		Pending:     append([]peer.Address(nil), s.pending...),
	}
	if s.launched != nil {
		launched := *s.launched
		launched.Members = append([]peer.Address(nil), s.launched.Members...)
		st.Launched = &launched
	}
	return st
}

// negotiating reports whether a create or join is in progress.
func (s *Service) negotiating() bool {
	return s.activity == roster.ActivityCreatingGame || s.activity == roster.ActivityJoiningGame
}

// selfRecord packages the local presence state as an announcement record.
func (s *Service) selfRecord() roster.PlayerRecord {
	return roster.PlayerRecord{
		Name:        s.name,
		Address:     s.self,
		Location:    s.Location(),
		Activity:    s.activity,
		GroupID:     s.groupID,
		AdventureID: s.adventureID,
		QuestID:     s.questID,
	}
}

// setIdle returns to ActivityNone and leaves any group.
func (s *Service) setIdle() {
	s.activity = roster.ActivityNone
	s.groupID = peer.Blank
	s.pending = nil
}
