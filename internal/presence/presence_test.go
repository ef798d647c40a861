package presence

import (
	"testing"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

func TestLocationFor(t *testing.T) {
	tests := []struct {
		screen Screen
		want   roster.Location
	}{
		{ScreenNone, roster.LocationNowhere},
		{ScreenTown, roster.LocationTown},
		{ScreenGuildHall, roster.LocationGuildHall},
		{Screen(100), roster.LocationInGame},
	}
	for _, tt := range tests {
		if got := LocationFor(tt.screen); got != tt.want {
			t.Errorf("LocationFor(%s) = %s, want %s", tt.screen, got, tt.want)
		}
	}
}

func TestNewValidatesName(t *testing.T) {
	if _, err := New(Options{Name: "", Self: addr(t, 1)}); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	long := "abcdefghijklmnopqrstuvwxyz01234"
	if _, err := New(Options{Name: long, Self: addr(t, 1)}); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
	if _, err := New(Options{Name: "alice"}); err != ErrNoAddress {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	h.hooks.reset()

	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1))
	h.svc.HandleAnnounce(host)
	first := len(h.hooks.log)
	if !h.hooks.has("listed alice 7") {
		t.Fatalf("expected listing, got %v", h.hooks.log)
	}

	h.svc.HandleAnnounce(host)
	if len(h.hooks.log) != first {
		t.Fatalf("second application raised %v", h.hooks.log[first:])
	}
}

func TestReconcileUnlistsGame(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)

	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1))
	h.svc.HandleAnnounce(host)
	if len(h.svc.OpenGames()) != 1 {
		t.Fatalf("expected one open game, got %v", h.svc.OpenGames())
	}

	h.hooks.reset()
	host.Activity = roster.ActivityNone
	host.GroupID = peer.Blank
	h.svc.HandleAnnounce(host)
	if !h.hooks.has("unlisted alice 7") {
		t.Fatalf("expected unlisting, got %v", h.hooks.log)
	}
	if len(h.svc.OpenGames()) != 0 {
		t.Fatalf("expected no open games, got %v", h.svc.OpenGames())
	}
}

func TestReconcileTownRoomHooks(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenTown)
	h.hooks.reset()

	carol := record(t, "carol", 0xC1, roster.LocationTown, roster.ActivityNone, peer.Blank)
	h.svc.HandleAnnounce(carol)
	if !h.hooks.has("entered carol") {
		t.Fatalf("expected entered hook, got %v", h.hooks.log)
	}

	carol.Location = roster.LocationGuildHall
	h.svc.HandleAnnounce(carol)
	if !h.hooks.has("left carol") {
		t.Fatalf("expected left hook, got %v", h.hooks.log)
	}
}

func TestReconcileSkipsListingWhileNegotiating(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(1, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.hooks.reset()

	h.svc.HandleAnnounce(record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1)))
	if h.hooks.has("listed alice 7") {
		t.Fatal("listing raised while hosting")
	}
}

func TestHostCancelCancelsJoin(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)

	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1))
	h.svc.HandleAnnounce(host)
	if err := h.svc.JoinGame(host.GroupID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if h.svc.Local().Activity != roster.ActivityJoiningGame {
		t.Fatalf("expected joining, got %s", h.svc.Local().Activity)
	}

	host.Activity = roster.ActivityNone
	host.GroupID = peer.Blank
	h.svc.HandleAnnounce(host)

	local := h.svc.Local()
	if local.Activity != roster.ActivityNone {
		t.Fatalf("expected none after host cancel, got %s", local.Activity)
	}
	if !local.GroupID.IsBlank() {
		t.Fatalf("expected blank group, got %s", local.GroupID)
	}
	if !h.hooks.has("join canceled " + addr(t, 0xA1).String()) {
		t.Fatalf("expected join canceled hook, got %v", h.hooks.log)
	}
	if len(h.console.lines) == 0 {
		t.Fatal("expected console message")
	}
}

func TestHostCancelAnnouncesAfterMerge(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)

	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1))
	h.svc.HandleAnnounce(host)
	if err := h.svc.JoinGame(host.GroupID); err != nil {
		t.Fatalf("join: %v", err)
	}

	var seen []roster.Activity
	h.transport.onBroadcast = func() {
		if rec := h.svc.Roster().Find("alice"); rec != nil {
			seen = append(seen, rec.Activity)
		}
	}
	host.Activity = roster.ActivityNone
	host.GroupID = peer.Blank
	h.svc.HandleAnnounce(host)

	if len(seen) != 1 {
		t.Fatalf("expected one announcement, got %d", len(seen))
	}
	if seen[0] != roster.ActivityNone {
		t.Fatalf("announced before the host record was merged: host still %s", seen[0])
	}
}

func TestHostInGameIsNotACancel(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	group := addr(t, 0xA1)

	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, group)
	h.svc.HandleAnnounce(host)
	if err := h.svc.JoinGame(group); err != nil {
		t.Fatalf("join: %v", err)
	}

	host.Location = roster.LocationInGame
	host.Activity = roster.ActivityNone
	h.svc.HandleAnnounce(host)

	if local := h.svc.Local(); local.Activity != roster.ActivityJoiningGame || local.GroupID != group {
		t.Fatalf("expected to keep joining, got %s group %s", local.Activity, local.GroupID)
	}
	if h.hooks.has("join canceled " + group.String()) {
		t.Fatalf("unexpected cancel: %v", h.hooks.log)
	}

	// The host finished and came back without our start packet arriving.
	host.Location = roster.LocationGuildHall
	host.GroupID = peer.Blank
	h.svc.HandleAnnounce(host)

	if h.svc.Local().Activity != roster.ActivityNone {
		t.Fatalf("expected none, got %s", h.svc.Local().Activity)
	}
	if !h.hooks.has("join canceled " + group.String()) {
		t.Fatalf("expected join canceled hook, got %v", h.hooks.log)
	}
	if len(h.console.lines) != 1 || h.console.lines[0] != "alice's adventure started without you" {
		t.Fatalf("unexpected console output %v", h.console.lines)
	}
}

func TestStartAcceptedAfterFallingBackToIdle(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	group := addr(t, 0xA1)

	h.svc.HandleAnnounce(record(t, "alice", 0xA1, roster.LocationInGame, roster.ActivityNone, group))
	start := events.GameStatusPayload{
		GroupID:       group,
		AdventureID:   7,
		QuestID:       3,
		Members:       []peer.Address{group, h.svc.Self()},
		StartingLevel: 100,
		Status:        events.StatusStarted,
	}
	h.svc.HandleGameStatus(start)

	if !h.hooks.has("launched 100") {
		t.Fatalf("start ignored: %v", h.hooks.log)
	}
	if h.svc.Location() != roster.LocationInGame {
		t.Fatalf("expected in game, got %s", h.svc.Location())
	}
}

func TestStartIgnoredWhenHostMovedOn(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	group := addr(t, 0xA1)

	h.svc.HandleAnnounce(record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityNone, peer.Blank))
	h.svc.HandleGameStatus(events.GameStatusPayload{
		GroupID:       group,
		AdventureID:   7,
		Members:       []peer.Address{group, h.svc.Self()},
		StartingLevel: 100,
		Status:        events.StatusStarted,
	})

	if h.hooks.has("launched 100") {
		t.Fatal("launched into a game the host already left")
	}
	if h.svc.Location() != roster.LocationGuildHall {
		t.Fatalf("expected guild hall, got %s", h.svc.Location())
	}
}

func TestCreateRequiresGuildHall(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenTown)
	if err := h.svc.CreateGame(1, 1); err != ErrNotInGuildHall {
		t.Fatalf("expected ErrNotInGuildHall, got %v", err)
	}
	if err := h.svc.JoinGame(addr(t, 0xB1)); err != ErrNotInGuildHall {
		t.Fatalf("expected ErrNotInGuildHall, got %v", err)
	}
}

func TestCreateWhileBusy(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(1, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.CreateGame(2, 2); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := h.svc.CancelJoin(); err != ErrNotJoining {
		t.Fatalf("expected ErrNotJoining, got %v", err)
	}
	if err := h.svc.CancelCreate(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.svc.CancelCreate(); err != ErrNotHosting {
		t.Fatalf("expected ErrNotHosting, got %v", err)
	}
}

func TestJoinUnknownGame(t *testing.T) {
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.JoinGame(addr(t, 0xA1)); err != ErrUnknownGame {
		t.Fatalf("expected ErrUnknownGame, got %v", err)
	}
}

func TestJoinRequestCapacity(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	self := h.svc.Self()

	for i := 0; i < MaxPlayersPerGame; i++ {
		req := events.JoinRequestPayload{Requester: addr(t, byte(0x10+i)), GroupID: self, AdventureID: 7}
		verdict, handled := h.svc.HandleJoinRequest(req)
		if !handled || verdict != events.VerdictOk {
			t.Fatalf("request %d: got %s handled=%v", i, verdict, handled)
		}
	}

	// Repeats are idempotent and do not consume capacity.
	repeat := events.JoinRequestPayload{Requester: addr(t, 0x10), GroupID: self, AdventureID: 7}
	if verdict, _ := h.svc.HandleJoinRequest(repeat); verdict != events.VerdictOk {
		t.Fatalf("repeat: got %s", verdict)
	}

	fifth := events.JoinRequestPayload{Requester: addr(t, 0x20), GroupID: self, AdventureID: 7}
	if verdict, _ := h.svc.HandleJoinRequest(fifth); verdict != events.VerdictFull {
		t.Fatalf("fifth: got %s", verdict)
	}
	if got := len(h.svc.Local().Pending); got != MaxPlayersPerGame {
		t.Fatalf("pending list has %d entries", got)
	}

	frame := h.transport.lastReliable(t)
	resp := frame.Event.Payload.(events.JoinResponsePayload)
	if resp.Verdict != events.VerdictFull || resp.Target != fifth.Requester {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestJoinRequestWhenNotHosting(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)

	req := events.JoinRequestPayload{Requester: addr(t, 0xB1), GroupID: h.svc.Self(), AdventureID: 7}
	verdict, handled := h.svc.HandleJoinRequest(req)
	if !handled || verdict != events.VerdictCanceled {
		t.Fatalf("got %s handled=%v", verdict, handled)
	}

	other := events.JoinRequestPayload{Requester: addr(t, 0xB1), GroupID: addr(t, 0xC1), AdventureID: 7}
	if _, handled := h.svc.HandleJoinRequest(other); handled {
		t.Fatal("request for another group was handled")
	}
}

func TestJoinRequestWrongAdventure(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := events.JoinRequestPayload{Requester: addr(t, 0xB1), GroupID: h.svc.Self(), AdventureID: 8}
	if verdict, _ := h.svc.HandleJoinRequest(req); verdict != events.VerdictCanceled {
		t.Fatalf("got %s", verdict)
	}
}

func joiningHarness(t *testing.T) (*harness, peer.Address) {
	t.Helper()
	h := newHarness(t, "bob", 0xB1)
	h.svc.SetScreen(ScreenGuildHall)
	host := record(t, "alice", 0xA1, roster.LocationGuildHall, roster.ActivityCreatingGame, addr(t, 0xA1))
	h.svc.HandleAnnounce(host)
	if err := h.svc.JoinGame(host.GroupID); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.hooks.reset()
	return h, host.GroupID
}

func TestJoinResponseOk(t *testing.T) {
	h, group := joiningHarness(t)
	h.svc.HandleJoinResponse(events.JoinResponsePayload{
		Target: h.svc.Self(), GroupID: group, AdventureID: 7, Verdict: events.VerdictOk,
	})

	local := h.svc.Local()
	if local.Activity != roster.ActivityJoiningGame || local.GroupID != group {
		t.Fatalf("unexpected local state %+v", local)
	}
	if !h.hooks.has("join confirmed " + group.String()) {
		t.Fatalf("expected confirmation, got %v", h.hooks.log)
	}
	if !h.hooks.has("member alice") || !h.hooks.has("member bob") {
		t.Fatalf("expected party preview, got %v", h.hooks.log)
	}
}

func TestJoinResponseFull(t *testing.T) {
	h, group := joiningHarness(t)
	h.svc.HandleJoinResponse(events.JoinResponsePayload{
		Target: h.svc.Self(), GroupID: group, AdventureID: 7, Verdict: events.VerdictFull,
	})
	if h.svc.Local().Activity != roster.ActivityNone {
		t.Fatalf("expected none, got %s", h.svc.Local().Activity)
	}
	if !h.hooks.has("join canceled " + group.String()) {
		t.Fatalf("expected cancel hook, got %v", h.hooks.log)
	}
}

func TestJoinResponseForAnotherTarget(t *testing.T) {
	h, group := joiningHarness(t)
	h.svc.HandleJoinResponse(events.JoinResponsePayload{
		Target: addr(t, 0xC1), GroupID: group, AdventureID: 7, Verdict: events.VerdictFull,
	})
	if h.svc.Local().Activity != roster.ActivityJoiningGame {
		t.Fatal("overheard response changed our state")
	}
}

func TestJoinRequestUndeliveredReverts(t *testing.T) {
	h, group := joiningHarness(t)
	h.transport.complete(false)
	if h.svc.Local().Activity != roster.ActivityNone {
		t.Fatalf("expected none, got %s", h.svc.Local().Activity)
	}
	if !h.hooks.has("join canceled " + group.String()) {
		t.Fatalf("expected cancel hook, got %v", h.hooks.log)
	}
}

func TestPendingDropsDepartedJoiner(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	self := h.svc.Self()
	h.svc.HandleJoinRequest(events.JoinRequestPayload{Requester: addr(t, 0xB1), GroupID: self, AdventureID: 7})

	bob := record(t, "bob", 0xB1, roster.LocationGuildHall, roster.ActivityJoiningGame, self)
	h.svc.HandleAnnounce(bob)
	bob.Activity = roster.ActivityNone
	bob.GroupID = peer.Blank
	h.svc.HandleAnnounce(bob)

	if got := len(h.svc.Local().Pending); got != 0 {
		t.Fatalf("expected empty pending list, got %d", got)
	}
}

func TestSetupMembershipDeterministic(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	self := h.svc.Self()
	for i, name := range []string{"bob", "carol", "dave", "erin"} {
		h.svc.HandleAnnounce(record(t, name, byte(0xB1+i), roster.LocationGuildHall, roster.ActivityJoiningGame, self))
	}

	first := h.svc.SetupMembership(self)
	second := h.svc.SetupMembership(self)
	if len(first) != MaxPlayersPerGame {
		t.Fatalf("expected %d members, got %d", MaxPlayersPerGame, len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("membership differs at %d", i)
		}
	}
	if first[0] != self {
		t.Fatalf("expected host in first slot, got %s", first[0])
	}
}

func TestSendToGroupSkipsSelf(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	self := h.svc.Self()
	h.svc.HandleAnnounce(record(t, "bob", 0xB1, roster.LocationGuildHall, roster.ActivityJoiningGame, self))

	n := h.svc.SendToGroup(self, protocol.BuildAck(1), 5, nil, nil)
	if n != 1 {
		t.Fatalf("expected one send, got %d", n)
	}
	if h.transport.reliable[len(h.transport.reliable)-1].to != addr(t, 0xB1) {
		t.Fatal("expected send to bob")
	}
}

func TestLaunchRequiresHosting(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.LaunchGame(100); err != ErrNotHosting {
		t.Fatalf("expected ErrNotHosting, got %v", err)
	}
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.LaunchGame(uint16(ScreenGuildHall)); err != ErrInvalidLevel {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	if err := h.svc.ReportOutcome(true); err != ErrNotLaunched {
		t.Fatalf("expected ErrNotLaunched, got %v", err)
	}
}

func TestSoloLaunchReportsImmediately(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.LaunchGame(100); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if len(h.hooks.reports) != 1 {
		t.Fatalf("expected one report, got %d", len(h.hooks.reports))
	}
	if h.svc.Location() != roster.LocationInGame {
		t.Fatalf("expected in game, got %s", h.svc.Location())
	}
}

func TestLeavingHallCancelsCreate(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenGuildHall)
	if err := h.svc.CreateGame(7, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.transport.broadcasts = nil

	h.svc.SetScreen(ScreenTown)
	if h.svc.Local().Activity != roster.ActivityNone {
		t.Fatalf("expected none, got %s", h.svc.Local().Activity)
	}
	if len(h.transport.broadcasts) < 2 {
		t.Fatalf("expected cancel and location announcements, got %d", len(h.transport.broadcasts))
	}
	frame, err := protocol.NewParser().Parse(h.transport.broadcasts[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec := frame.Event.Payload.(events.AnnouncePayload).Record
	if rec.Location != roster.LocationGuildHall || rec.Activity != roster.ActivityNone {
		t.Fatalf("cancel must be announced from the hall, got %s/%s", rec.Location, rec.Activity)
	}
}

func TestHeartbeatInterval(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenTown)
	h.transport.broadcasts = nil

	for tick := uint64(1); tick < DefaultHeartbeatTicks; tick++ {
		h.svc.Tick(tick)
	}
	if len(h.transport.broadcasts) != 0 {
		t.Fatalf("announced early: %d", len(h.transport.broadcasts))
	}
	h.svc.Tick(DefaultHeartbeatTicks)
	if len(h.transport.broadcasts) != 1 {
		t.Fatalf("expected one heartbeat, got %d", len(h.transport.broadcasts))
	}
	h.svc.Tick(DefaultHeartbeatTicks + 1)
	if len(h.transport.broadcasts) != 1 {
		t.Fatal("heartbeat repeated before interval")
	}
}

func TestNewcomerIsIntroduced(t *testing.T) {
	h := newHarness(t, "alice", 0xA1)
	h.svc.SetScreen(ScreenTown)
	h.svc.HandleAnnounce(record(t, "bob", 0xB1, roster.LocationTown, roster.ActivityNone, peer.Blank))
	h.svc.HandleAnnounce(record(t, "bob", 0xB1, roster.LocationTown, roster.ActivityNone, peer.Blank))
	if len(h.transport.unicasts) != 1 || h.transport.unicasts[0].to != addr(t, 0xB1) {
		t.Fatalf("expected one introduction to bob, got %d", len(h.transport.unicasts))
	}
}

func TestParseScreen(t *testing.T) {
	tests := []struct {
		in   string
		want Screen
	}{
		{"none", ScreenNone},
		{"town", ScreenTown},
		{"guild_hall", ScreenGuildHall},
		{"level_100", Screen(100)},
		{"42", Screen(42)},
	}
	for _, tt := range tests {
		got, err := ParseScreen(tt.in)
		if err != nil {
			t.Fatalf("ParseScreen(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseScreen(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseScreen("dungeon"); err == nil {
		t.Fatal("expected error for unknown screen")
	}
}
