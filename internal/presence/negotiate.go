package presence

import (
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// CreateGame opens a new game hosted by this client. The group is
// identified by our own address.
func (s *Service) CreateGame(adventureID, questID uint16) error {
	if s.Location() != roster.LocationGuildHall {
		return ErrNotInGuildHall
	}
	if s.negotiating() {
		return ErrBusy
	}

	s.activity = roster.ActivityCreatingGame
	s.groupID = s.self
	s.adventureID = adventureID
	s.questID = questID
	s.pending = nil

	s.logger.Info().
		Uint16("adventure", adventureID).
		Uint16("quest", questID).
		Msg("game created")
	s.hooks.OnCreateConfirmed(s.groupID)
	s.Announce()
	return nil
}

// CancelCreate withdraws the game we are hosting.
func (s *Service) CancelCreate() error {
	if s.activity != roster.ActivityCreatingGame {
		return ErrNotHosting
	}
	s.setIdle()
	s.logger.Info().Msg("game canceled")
	s.hooks.ClearPartyMemberList()
	s.Announce()
	return nil
}

// JoinGame asks the host of a listed game to accept us. The session
// identity is adopted optimistically; the host's verdict confirms or
// reverts it.
func (s *Service) JoinGame(groupID peer.Address) error {
	if s.Location() != roster.LocationGuildHall {
		return ErrNotInGuildHall
	}
	if s.negotiating() {
		return ErrBusy
	}
	host := s.openGame(groupID)
	if host == nil {
		return ErrUnknownGame
	}

	s.activity = roster.ActivityJoiningGame
	s.groupID = host.GroupID
	s.adventureID = host.AdventureID
	s.questID = host.QuestID

	s.logger.Info().
		Str("host", host.Name).
		Str("group", groupID.String()).
		Uint16("adventure", host.AdventureID).
		Msg("requesting to join")

	pkt := protocol.BuildJoinRequest(s.self, s.groupID, s.adventureID)
	s.transport.SendReliable(pkt, host.Address, s.retryTicks, nil, func(res SendResult) {
		if res.Delivered {
			return
		}
		if s.activity != roster.ActivityJoiningGame || !peer.Equal(s.groupID, groupID) {
			return
		}
		s.logger.Warn().Str("group", groupID.String()).Msg("host did not answer join request")
		s.setIdle()
		s.hooks.OnJoinCanceled(groupID)
		s.console.Message("the host did not respond")
		s.Announce()
	})
	return nil
}

// CancelJoin abandons the game we are joining. The host notices through
// our next announcement.
func (s *Service) CancelJoin() error {
	if s.activity != roster.ActivityJoiningGame {
		return ErrNotJoining
	}
	group := s.groupID
	s.setIdle()
	s.logger.Info().Str("group", group.String()).Msg("join canceled")
	s.hooks.OnJoinCanceled(group)
	s.Announce()
	return nil
}

// openGame finds the host record of a listed game in the hall.
func (s *Service) openGame(groupID peer.Address) *roster.PlayerRecord {
	if groupID.IsBlank() {
		return nil
	}
	var found *roster.PlayerRecord
	s.roster.Each(func(rec *roster.PlayerRecord) bool {
		if rec.Activity == roster.ActivityCreatingGame &&
			rec.Location == roster.LocationGuildHall &&
			rec.InGroup(groupID) &&
			rec.Address != s.self {
			found = rec
			return false
		}
		return true
	})
	return found
}

// HandleJoinRequest decides a join request addressed to our game and
// unicasts the verdict. Requests for another group are ignored and
// reported as handled=false.
func (s *Service) HandleJoinRequest(req events.JoinRequestPayload) (verdict events.Verdict, handled bool) {
	if req.Requester.IsBlank() || !peer.Equal(req.GroupID, s.self) {
		return 0, false
	}

	switch {
	case s.activity != roster.ActivityCreatingGame ||
		s.Location() != roster.LocationGuildHall ||
		req.AdventureID != s.adventureID:
		verdict = events.VerdictCanceled
	case s.isPending(req.Requester):
		verdict = events.VerdictOk
	case len(s.pending) < MaxPlayersPerGame:
		s.pending = append(s.pending, req.Requester)
		verdict = events.VerdictOk
	default:
		verdict = events.VerdictFull
	}

	s.logger.Info().
		Str("requester", req.Requester.String()).
		Uint16("adventure", req.AdventureID).
		Str("verdict", verdict.String()).
		Int("pending", len(s.pending)).
		Msg("join request")

	pkt := protocol.BuildJoinResponse(req.Requester, req.GroupID, req.AdventureID, verdict)
	s.transport.SendReliable(pkt, req.Requester, s.retryTicks, verdict, func(res SendResult) {
		if !res.Delivered {
			s.logger.Warn().
				Str("requester", res.To.String()).
				Int("attempts", res.Attempts).
				Msg("join response not acknowledged")
		}
	})
	return verdict, true
}

func (s *Service) isPending(addr peer.Address) bool {
	for _, p := range s.pending {
		if p == addr {
			return true
		}
	}
	return false
}

func (s *Service) dropPending(addr peer.Address) {
	for i, p := range s.pending {
		if p == addr {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.logger.Debug().Str("joiner", addr.String()).Msg("joiner left pending list")
			return
		}
	}
}

// HandleJoinResponse applies the host's verdict to a join we requested.
// Responses for another client or a stale session are ignored.
func (s *Service) HandleJoinResponse(resp events.JoinResponsePayload) {
	if !peer.Equal(resp.Target, s.self) {
		return
	}
	if s.activity != roster.ActivityJoiningGame || !peer.Equal(resp.GroupID, s.groupID) {
		s.logger.Debug().
			Str("group", resp.GroupID.String()).
			Str("verdict", resp.Verdict.String()).
			Msg("stale join response")
		return
	}

	switch resp.Verdict {
	case events.VerdictOk:
		s.adventureID = resp.AdventureID
		s.logger.Info().Str("group", resp.GroupID.String()).Msg("join accepted")
		s.hooks.OnJoinConfirmed(resp.GroupID)
		s.Announce()
		s.refreshPreview(resp.GroupID)
	default:
		s.setIdle()
		s.logger.Info().
			Str("group", resp.GroupID.String()).
			Str("verdict", resp.Verdict.String()).
			Msg("join refused")
		s.hooks.OnJoinCanceled(resp.GroupID)
		if resp.Verdict == events.VerdictFull {
			s.console.Message("that game is full")
		} else {
			s.console.Message("that game was canceled")
		}
		s.Announce()
	}
}
