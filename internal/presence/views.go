package presence

import (
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// OpenGames lists the games currently being created in the guild hall,
// excluding our own.
func (s *Service) OpenGames() []events.GameListingPayload {
	var games []events.GameListingPayload
	s.roster.Each(func(rec *roster.PlayerRecord) bool {
		if rec.Activity == roster.ActivityCreatingGame &&
			rec.Location == roster.LocationGuildHall &&
			rec.Address != s.self {
			games = append(games, listing(*rec))
		}
		return true
	})
	return games
}

// Party returns the roster records associated with a group in slot order.
func (s *Service) Party(groupID peer.Address) []roster.PlayerRecord {
	if groupID.IsBlank() {
		return nil
	}
	var party []roster.PlayerRecord
	s.roster.Each(func(rec *roster.PlayerRecord) bool {
		if rec.InGroup(groupID) {
			party = append(party, *rec)
		}
		return true
	})
	return party
}

// Room returns the players sharing our current location.
func (s *Service) Room() []roster.PlayerRecord {
	loc := s.Location()
	var room []roster.PlayerRecord
	s.roster.Each(func(rec *roster.PlayerRecord) bool {
		if rec.Location == loc {
			room = append(room, *rec)
		}
		return true
	})
	return room
}
