package presence

import (
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// Tick advances the service clock and emits the periodic announcement
// once the heartbeat interval has elapsed.
func (s *Service) Tick(now uint64) {
	s.now = now
	if now-s.lastHeartbeat >= s.heartbeatTicks {
		s.Announce()
	}
}

// Announce broadcasts the local presence state and reconciles it into
// our own roster, which is how the local player appears in room lists
// and group membership.
func (s *Service) Announce() {
	rec := s.selfRecord()
	s.lastHeartbeat = s.now

	if err := s.transport.Broadcast(protocol.BuildAnnounce(rec)); err != nil {
		s.logger.Warn().Err(err).Msg("announcement broadcast failed")
	}
	s.Reconcile(rec)
}

// HandleAnnounce reconciles a record received from the network. Echoes
// of our own broadcasts are dropped; the local copy is already applied.
func (s *Service) HandleAnnounce(rec roster.PlayerRecord) {
	if rec.Address.IsBlank() || rec.Address == s.self {
		return
	}
	s.Reconcile(rec)
}
