package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/peer"
)

type fakeTarget struct {
	running bool
	peers   *network.PeerTable
}

func (f *fakeTarget) Running() bool                    { return f.running }
func (f *fakeTarget) Transport() *network.UDPTransport { return nil }
func (f *fakeTarget) Peers() *network.PeerTable        { return f.peers }

func TestSnapshotReportsStoppedLoop(t *testing.T) {
	m := NewManager(config.DefaultConfig(), nil, &fakeTarget{running: false, peers: network.NewPeerTable()})

	status := m.Snapshot()
	if status.LoopRunning {
		t.Fatal("expected loop not running")
	}
	if len(status.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", status.Warnings)
	}
	if status.SilentPeers == nil {
		t.Fatal("expected empty silent peer list, got nil")
	}
}

func TestSilentPeerReportedOnce(t *testing.T) {
	cfg := config.DefaultConfig()
	peers := network.NewPeerTable()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	quiet, err := peer.New(net.IPv4(10, 0, 0, 2), 27900)
	if err != nil {
		t.Fatalf("failed to build address: %v", err)
	}
	chatty, err := peer.New(net.IPv4(10, 0, 0, 3), 27900)
	if err != nil {
		t.Fatalf("failed to build address: %v", err)
	}
	peers.Touch(quiet, now.Add(-time.Minute), false)
	peers.Touch(chatty, now, false)

	bus := events.NewEventBus()
	defer bus.Stop()
	warned := make(chan events.HealthWarningPayload, 4)
	bus.Subscribe(events.EventHealthWarning, "test", func(_ context.Context, ev events.Event) error {
		warned <- ev.Payload.(events.HealthWarningPayload)
		return nil
	})

	m := NewManager(cfg, bus, &fakeTarget{running: true, peers: peers})
	m.now = func() time.Time { return now }

	status := m.Check(context.Background())
	if len(status.SilentPeers) != 1 || !peer.Equal(status.SilentPeers[0].Address, quiet) {
		t.Fatalf("expected only %s silent, got %+v", quiet, status.SilentPeers)
	}

	select {
	case w := <-warned:
		if w.Check != "silent_peer" {
			t.Fatalf("expected silent_peer check, got %q", w.Check)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a health warning event")
	}

	m.Check(context.Background())
	select {
	case w := <-warned:
		t.Fatalf("expected no repeated warning, got %+v", w)
	case <-time.After(50 * time.Millisecond):
	}
}
