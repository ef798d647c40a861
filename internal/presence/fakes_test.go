package presence

import (
	"fmt"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/roster"
)

func addr(t *testing.T, last byte) peer.Address {
	t.Helper()
	a, err := peer.New(net.IPv4(10, 0, 0, last), 27900)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return a
}

type reliableSend struct {
	pkt    []byte
	to     peer.Address
	extra  interface{}
	onDone func(SendResult)
}

// fakeTransport records outbound traffic. Reliable sends stay pending
// until the test completes them.
type fakeTransport struct {
	broadcasts  [][]byte
	unicasts    []reliableSend
	reliable    []reliableSend
	onBroadcast func()
}

func (f *fakeTransport) Broadcast(pkt []byte) error {
	f.broadcasts = append(f.broadcasts, pkt)
	if f.onBroadcast != nil {
		f.onBroadcast()
	}
	return nil
}

func (f *fakeTransport) SendUnicast(to peer.Address, pkt []byte) error {
	f.unicasts = append(f.unicasts, reliableSend{pkt: pkt, to: to})
	return nil
}

func (f *fakeTransport) SendReliable(pkt []byte, to peer.Address, _ int, extra interface{}, onDone func(SendResult)) {
	f.reliable = append(f.reliable, reliableSend{pkt: pkt, to: to, extra: extra, onDone: onDone})
}

// complete resolves every pending reliable send.
func (f *fakeTransport) complete(delivered bool) {
	pending := f.reliable
	f.reliable = nil
	for _, r := range pending {
		if r.onDone != nil {
			r.onDone(SendResult{To: r.to, Delivered: delivered, Attempts: 1, Extra: r.extra})
		}
	}
}

func (f *fakeTransport) lastReliable(t *testing.T) *protocol.Frame {
	t.Helper()
	if len(f.reliable) == 0 {
		t.Fatal("expected a reliable send")
	}
	frame, err := protocol.NewParser().Parse(f.reliable[len(f.reliable)-1].pkt)
	if err != nil {
		t.Fatalf("parse reliable send: %v", err)
	}
	return frame
}

// recordingHooks logs every notification as a short string.
type recordingHooks struct {
	log     []string
	reports []events.LaunchReportPayload
}

func (h *recordingHooks) add(format string, args ...interface{}) {
	h.log = append(h.log, fmt.Sprintf(format, args...))
}

func (h *recordingHooks) OnGameListed(g events.GameListingPayload) {
	h.add("listed %s %d", g.Host, g.AdventureID)
}
func (h *recordingHooks) OnGameUnlisted(g events.GameListingPayload) {
	h.add("unlisted %s %d", g.Host, g.AdventureID)
}
func (h *recordingHooks) OnPlayerEnteredRoom(name string) { h.add("entered %s", name) }
func (h *recordingHooks) OnPlayerLeftRoom(name string)    { h.add("left %s", name) }
func (h *recordingHooks) OnPartyMemberAdded(name string)  { h.add("member %s", name) }
func (h *recordingHooks) ClearPartyMemberList()           { h.add("clear party") }
func (h *recordingHooks) OnJoinConfirmed(g peer.Address)  { h.add("join confirmed %s", g) }
func (h *recordingHooks) OnJoinCanceled(g peer.Address)   { h.add("join canceled %s", g) }
func (h *recordingHooks) OnCreateConfirmed(g peer.Address) {
	h.add("create confirmed %s", g)
}
func (h *recordingHooks) OnAdventureLaunched(s events.GameStatusPayload) {
	h.add("launched %d", s.StartingLevel)
}
func (h *recordingHooks) OnAdventureConcluded(s events.GameStatusPayload) {
	h.add("concluded %s", s.Status)
}
func (h *recordingHooks) OnLaunchReport(r events.LaunchReportPayload) {
	h.reports = append(h.reports, r)
}

func (h *recordingHooks) reset() {
	h.log = nil
	h.reports = nil
}

func (h *recordingHooks) has(entry string) bool {
	for _, e := range h.log {
		if e == entry {
			return true
		}
	}
	return false
}

type recordingConsole struct {
	lines []string
}

func (c *recordingConsole) Message(text string) {
	c.lines = append(c.lines, text)
}

type harness struct {
	svc       *Service
	transport *fakeTransport
	hooks     *recordingHooks
	console   *recordingConsole
}

func newHarness(t *testing.T, name string, last byte) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		hooks:     &recordingHooks{},
		console:   &recordingConsole{},
	}
	svc, err := New(Options{
		Name:      name,
		Self:      addr(t, last),
		Transport: h.transport,
		Hooks:     h.hooks,
		Console:   h.console,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func record(t *testing.T, name string, last byte, loc roster.Location, act roster.Activity, group peer.Address) roster.PlayerRecord {
	t.Helper()
	return roster.PlayerRecord{
		Name:        name,
		Address:     addr(t, last),
		Location:    loc,
		Activity:    act,
		GroupID:     group,
		AdventureID: 7,
		QuestID:     3,
	}
}
