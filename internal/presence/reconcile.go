package presence

import (
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// Reconcile merges an announced record into the roster. Transitions are
// detected against the stored record before it is overwritten, so
// applying the same announcement twice raises no further notifications.
// A local state change caused by the record is announced only after the
// overwrite.
func (s *Service) Reconcile(incoming roster.PlayerRecord) {
	isSelf := peer.Equal(incoming.Address, s.self)

	rec, created, err := s.roster.FindOrCreate(incoming.Name)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("player", incoming.Name).
			Str("address", incoming.Address.String()).
			Msg("announcement dropped")
		return
	}
	old := *rec
	ours := s.Location()

	if created {
		s.logger.Debug().
			Str("player", incoming.Name).
			Str("address", incoming.Address.String()).
			Msg("new player")
		if !isSelf && ours != roster.LocationNowhere {
			s.introduce(incoming.Address)
		}
	}

	// Room membership.
	if old.Location != incoming.Location {
		if incoming.Location == ours {
			s.enteredRoom(ours, incoming.Name)
		} else if old.Location == ours {
			s.leftRoom(ours, incoming.Name)
		}
	}

	// Game listings and host cancellation.
	var refresh []peer.Address
	announce := false
	if old.Activity != incoming.Activity && ours == roster.LocationGuildHall && !isSelf {
		if !s.negotiating() {
			if incoming.Activity == roster.ActivityCreatingGame {
				s.hooks.OnGameListed(listing(incoming))
				refresh = append(refresh, incoming.GroupID)
			} else if old.Activity == roster.ActivityCreatingGame {
				s.hooks.OnGameUnlisted(listing(old))
				s.hooks.ClearPartyMemberList()
			}
		} else if s.activity == roster.ActivityJoiningGame &&
			old.Activity == roster.ActivityCreatingGame &&
			peer.Equal(old.GroupID, s.groupID) &&
			!launched(incoming, s.groupID) {
			s.hostCanceled(old.Name)
			announce = true
		}
	}

	// The host launched and has since moved on without our start packet.
	if s.activity == roster.ActivityJoiningGame && !isSelf &&
		peer.Equal(incoming.Address, s.groupID) &&
		launched(old, s.groupID) && !launched(incoming, s.groupID) {
		s.missedLaunch(old.Name)
		announce = true
	}

	// A joiner that drifted away from our game frees its pending slot.
	if s.activity == roster.ActivityCreatingGame && !isSelf &&
		peer.Equal(old.GroupID, s.self) && !peer.Equal(incoming.GroupID, s.self) {
		s.dropPending(old.Address)
	}

	// Member preview for our own session.
	if ours == roster.LocationGuildHall && !s.groupID.IsBlank() &&
		(peer.Equal(old.GroupID, s.groupID) || peer.Equal(incoming.GroupID, s.groupID)) &&
		(created || recordChanged(old, incoming)) {
		refresh = append(refresh, s.groupID)
	}

	*rec = incoming

	for i, group := range refresh {
		if i > 0 && peer.Equal(group, refresh[i-1]) {
			continue
		}
		s.refreshPreview(group)
	}

	if announce {
		s.Announce()
	}
}

// launched reports whether rec is in game with group. A host seen this
// way stopped creating because it launched, and a joiner's start packet
// may still be in flight.
func launched(rec roster.PlayerRecord, group peer.Address) bool {
	return rec.Location == roster.LocationInGame && peer.Equal(rec.GroupID, group)
}

func recordChanged(old, incoming roster.PlayerRecord) bool {
	return old.Location != incoming.Location ||
		old.Activity != incoming.Activity ||
		!peer.Equal(old.GroupID, incoming.GroupID) ||
		!peer.Equal(old.Address, incoming.Address)
}

func listing(rec roster.PlayerRecord) events.GameListingPayload {
	return events.GameListingPayload{
		Host:        rec.Name,
		AdventureID: rec.AdventureID,
		GroupID:     rec.GroupID,
		QuestID:     rec.QuestID,
	}
}

// Only the town keeps a visible room list; the hall shows games instead.
func (s *Service) enteredRoom(loc roster.Location, name string) {
	if loc == roster.LocationTown {
		s.hooks.OnPlayerEnteredRoom(name)
	}
}

func (s *Service) leftRoom(loc roster.Location, name string) {
	if loc == roster.LocationTown {
		s.hooks.OnPlayerLeftRoom(name)
	}
}

func (s *Service) hostCanceled(host string) {
	group := s.groupID
	s.setIdle()
	s.logger.Info().
		Str("host", host).
		Str("group", group.String()).
		Msg("host canceled the game we were joining")
	s.hooks.OnJoinCanceled(group)
	s.console.Message(host + " canceled the game")
}

func (s *Service) missedLaunch(host string) {
	group := s.groupID
	s.setIdle()
	s.logger.Warn().
		Str("host", host).
		Str("group", group.String()).
		Msg("adventure started without us")
	s.hooks.OnJoinCanceled(group)
	s.console.Message(host + "'s adventure started without you")
}

// refreshPreview rebuilds the party-member preview for a group by
// scanning the roster.
func (s *Service) refreshPreview(group peer.Address) {
	if group.IsBlank() {
		return
	}
	s.hooks.ClearPartyMemberList()
	s.roster.Each(func(rec *roster.PlayerRecord) bool {
		if rec.InGroup(group) {
			s.hooks.OnPartyMemberAdded(rec.Name)
		}
		return true
	})
}

// introduce unicasts our own record to a newly seen peer so it does not
// wait a full heartbeat to learn about us.
func (s *Service) introduce(to peer.Address) {
	if to.IsBlank() {
		return
	}
	pkt := protocol.BuildAnnounce(s.selfRecord())
	if err := s.transport.SendUnicast(to, pkt); err != nil {
		s.logger.Debug().Err(err).Str("to", to.String()).Msg("introduction failed")
	}
}
