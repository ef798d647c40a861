package presence

import (
	"fmt"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// SetupMembership resolves a group's members by scanning the roster in
// slot order. The local player is included when it belongs to the group.
func (s *Service) SetupMembership(groupID peer.Address) []peer.Address {
	if groupID.IsBlank() {
		return nil
	}
	return s.roster.Members(groupID, MaxPlayersPerGame)
}

// SendToGroup reliably sends pkt to every member of a group except
// ourselves. onDone runs once per member. It returns the number of sends.
func (s *Service) SendToGroup(groupID peer.Address, pkt []byte, retryTicks int, extra interface{}, onDone func(SendResult)) int {
	return s.sendToMembers(s.SetupMembership(groupID), pkt, retryTicks, extra, onDone)
}

func (s *Service) sendToMembers(members []peer.Address, pkt []byte, retryTicks int, extra interface{}, onDone func(SendResult)) int {
	targets := s.others(members)
	for _, addr := range targets {
		s.transport.SendReliable(pkt, addr, retryTicks, extra, onDone)
	}
	return len(targets)
}

// others filters ourselves and blank slots out of a member list.
func (s *Service) others(members []peer.Address) []peer.Address {
	out := make([]peer.Address, 0, len(members))
	for _, addr := range members {
		if addr == s.self || addr.IsBlank() {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// LaunchGame starts the adventure we are hosting. Membership is taken
// from the roster at this instant and every member receives the start
// packet reliably.
func (s *Service) LaunchGame(startingLevel uint16) error {
	if s.activity != roster.ActivityCreatingGame {
		return ErrNotHosting
	}
	if !Screen(startingLevel).IsLevel() {
		return ErrInvalidLevel
	}

	status := events.GameStatusPayload{
		GroupID:       s.self,
		AdventureID:   s.adventureID,
		QuestID:       s.questID,
		Members:       s.SetupMembership(s.self),
		StartingLevel: startingLevel,
		Status:        events.StatusStarted,
	}
	if len(status.Members) == 0 {
		status.Members = []peer.Address{s.self}
	}
	for _, joiner := range s.pending {
		if containsAddress(status.Members, joiner) {
			continue
		}
		name := joiner.String()
		if rec := s.roster.FindByAddress(joiner); rec != nil {
			name = rec.Name
		}
		s.logger.Warn().
			Str("player", name).
			Str("address", joiner.String()).
			Msg("accepted joiner left out of the launched party")
		s.console.Message(name + " did not fit in the party and was left behind")
		pkt := protocol.BuildJoinResponse(joiner, s.self, s.adventureID, events.VerdictFull)
		s.transport.SendReliable(pkt, joiner, s.retryTicks, events.VerdictFull, nil)
	}

	s.logger.Info().
		Uint16("adventure", status.AdventureID).
		Uint16("level", startingLevel).
		Int("members", len(status.Members)).
		Msg("launching adventure")

	s.groupcastWithReport(status)
	s.enterAdventure(status)
	return nil
}

// ReportOutcome tells the launched party how the adventure ended.
func (s *Service) ReportOutcome(success bool) error {
	if s.launched == nil {
		return ErrNotLaunched
	}
	if s.launched.GroupID != s.self {
		return ErrNotHosting
	}

	status := *s.launched
	status.Status = events.StatusStarted | events.StatusComplete
	if success {
		status.Status |= events.StatusSuccess
	}

	s.logger.Info().
		Uint16("adventure", status.AdventureID).
		Bool("success", success).
		Msg("reporting adventure outcome")

	s.groupcastWithReport(status)
	s.concludeAdventure(status)
	return nil
}

// HandleGameStatus applies a start or outcome packet from our host.
// Packets for a group we do not belong to are ignored.
func (s *Service) HandleGameStatus(status events.GameStatusPayload) {
	if !containsAddress(status.Members, s.self) {
		s.logger.Debug().Str("group", status.GroupID.String()).Msg("game status for another party")
		return
	}

	if status.Status.Has(events.StatusComplete) {
		if s.launched == nil || s.launched.GroupID != status.GroupID {
			return
		}
		s.logger.Info().
			Str("group", status.GroupID.String()).
			Str("outcome", status.Status.String()).
			Msg("adventure concluded")
		s.concludeAdventure(status)
		return
	}

	if !status.Status.Has(events.StatusStarted) {
		return
	}
	if s.launched != nil && s.launched.GroupID == status.GroupID {
		return
	}
	if !peer.Equal(s.groupID, status.GroupID) && !s.mayRejoin(status.GroupID) {
		s.logger.Info().Str("group", status.GroupID.String()).Msg("ignoring start for a game we left")
		return
	}

	s.logger.Info().
		Str("group", status.GroupID.String()).
		Uint16("level", status.StartingLevel).
		Msg("adventure started by host")
	s.enterAdventure(status)
}

// mayRejoin reports whether a start for group can still be honored after
// we dropped back to idle: we are free in the guild hall and the host is
// still associated with the group.
func (s *Service) mayRejoin(group peer.Address) bool {
	if s.negotiating() || s.Location() != roster.LocationGuildHall {
		return false
	}
	host := s.roster.FindByAddress(group)
	return host != nil && host.InGroup(group)
}

// enterAdventure ends negotiation and moves to the starting level.
func (s *Service) enterAdventure(status events.GameStatusPayload) {
	launched := status
	launched.Members = append([]peer.Address(nil), status.Members...)
	s.launched = &launched

	s.activity = roster.ActivityNone
	s.groupID = status.GroupID
	s.adventureID = status.AdventureID
	s.questID = status.QuestID
	s.pending = nil

	s.hooks.OnAdventureLaunched(launched)
	s.SetScreen(Screen(status.StartingLevel))
}

// concludeAdventure leaves the party and returns to the guild hall.
func (s *Service) concludeAdventure(status events.GameStatusPayload) {
	s.launched = nil
	s.setIdle()
	s.hooks.OnAdventureConcluded(status)
	s.console.Message("adventure " + status.Status.String())
	s.SetScreen(ScreenGuildHall)
}

// groupcastWithReport sends status to the party and raises a single
// OnLaunchReport once every member has acknowledged or timed out.
func (s *Service) groupcastWithReport(status events.GameStatusPayload) {
	report := events.LaunchReportPayload{GroupID: status.GroupID, Status: status.Status}
	pkt := protocol.BuildGameStatus(status)

	finish := func() {
		s.hooks.OnLaunchReport(report)
		if len(report.Failed) > 0 {
			s.console.Message(fmt.Sprintf("%d of %d party members did not answer",
				len(report.Failed), len(report.Failed)+len(report.Delivered)))
		}
	}

	targets := s.others(status.Members)
	outstanding := len(targets)
	if outstanding == 0 {
		finish()
		return
	}
	for _, addr := range targets {
		s.transport.SendReliable(pkt, addr, s.retryTicks, status.Status, func(res SendResult) {
			if res.Delivered {
				report.Delivered = append(report.Delivered, res.To)
			} else {
				report.Failed = append(report.Failed, res.To)
			}
			outstanding--
			if outstanding == 0 {
				finish()
			}
		})
	}
}

func containsAddress(list []peer.Address, addr peer.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
