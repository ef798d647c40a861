package protocol

import (
	"net"
	"testing"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

func testAddr(t *testing.T, last byte) peer.Address {
	t.Helper()
	a, err := peer.New(net.IPv4(192, 168, 0, last), 27900)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return a
}

func TestAnnounceLayout(t *testing.T) {
	rec := roster.PlayerRecord{
		Name:        "Hildegard",
		Address:     testAddr(t, 0xA1),
		Location:    roster.LocationGuildHall,
		Activity:    roster.ActivityCreatingGame,
		GroupID:     testAddr(t, 0xA1),
		AdventureID: 7,
		QuestID:     3,
	}
	data := BuildAnnounce(rec)
	if len(data) != HeaderSize+announceBodySize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+announceBodySize, len(data))
	}
	if data[0] != Magic || data[1] != PktAnnounce {
		t.Fatalf("unexpected header % x", data[:2])
	}

	frame, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Reliable() {
		t.Fatal("announce must not be reliable")
	}
	got := frame.Event.Payload.(events.AnnouncePayload).Record
	if got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
}

func TestAnnounceTruncatesLongName(t *testing.T) {
	rec := roster.PlayerRecord{Name: "abcdefghijklmnopqrstuvwxyz0123456789"}
	frame, err := NewParser().Parse(BuildAnnounce(rec))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	name := frame.Event.Payload.(events.AnnouncePayload).Record.Name
	if len(name) != NameFieldSize {
		t.Fatalf("expected %d byte name, got %q", NameFieldSize, name)
	}
}

func TestJoinResponseCarriesVerdict(t *testing.T) {
	data := BuildJoinResponse(testAddr(t, 0xB1), testAddr(t, 0xA1), 7, events.VerdictFull)
	data = StampSequence(data, 42)

	frame, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Seq != 42 || !frame.Reliable() {
		t.Fatalf("expected reliable seq 42, got %d", frame.Seq)
	}
	resp := frame.Event.Payload.(events.JoinResponsePayload)
	if resp.Verdict != events.VerdictFull || resp.AdventureID != 7 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Target != testAddr(t, 0xB1) {
		t.Fatalf("expected target %s, got %s", testAddr(t, 0xB1), resp.Target)
	}
}

func TestJoinResponseRejectsUnknownVerdict(t *testing.T) {
	data := BuildJoinResponse(testAddr(t, 1), testAddr(t, 2), 1, events.Verdict(9))
	if _, err := NewParser().Parse(data); err == nil {
		t.Fatal("expected error for unknown verdict")
	}
}

func TestGameStatusMembers(t *testing.T) {
	payload := events.GameStatusPayload{
		GroupID:       testAddr(t, 0xA1),
		AdventureID:   7,
		QuestID:       2,
		Members:       []peer.Address{testAddr(t, 0xA1), testAddr(t, 0xB1)},
		StartingLevel: 12,
		Status:        events.StatusStarted,
	}
	frame, err := NewParser().Parse(BuildGameStatus(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := frame.Event.Payload.(events.GameStatusPayload)
	if len(got.Members) != 2 || got.Members[1] != testAddr(t, 0xB1) {
		t.Fatalf("unexpected members %v", got.Members)
	}
	if got.StartingLevel != 12 || !got.Status.Has(events.StatusStarted) {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestGameStatusRejectsOversizedCount(t *testing.T) {
	data := BuildGameStatus(events.GameStatusPayload{})
	data[HeaderSize+6+2+2] = MaxPartyMembers + 1
	if _, err := NewParser().Parse(data); err == nil {
		t.Fatal("expected error for member count")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	p := NewParser()
	cases := map[string][]byte{
		"short":     {Magic, PktAck},
		"magic":     {0x00, PktAck, 0, 0, 0, 0},
		"unknown":   {Magic, 0x7E, 0, 0, 0, 0},
		"truncated": BuildJoinRequest(testAddr(t, 1), testAddr(t, 2), 3)[:HeaderSize+4],
	}
	for name, data := range cases {
		if _, err := p.Parse(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAckEchoesSequence(t *testing.T) {
	frame, err := NewParser().Parse(BuildAck(99))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Command != PktAck || frame.Seq != 99 {
		t.Fatalf("expected ack 99, got cmd 0x%02X seq %d", frame.Command, frame.Seq)
	}
	if frame.Reliable() {
		t.Fatal("ack must not itself be acknowledged")
	}
}
