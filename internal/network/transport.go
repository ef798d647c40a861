// Package network implements the UDP transport between Guild Hall peers:
// broadcast and unicast datagrams, the reliable retransmission queue,
// duplicate suppression and per-peer traffic bookkeeping.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/util"
)

// InboundBuffer is the capacity of the receive channel.
const InboundBuffer = 256

// ErrClosed is returned when writing to a transport that is not open.
var ErrClosed = errors.New("transport is closed")

// Datagram is one received packet with its source.
type Datagram struct {
	From peer.Address
	Data []byte
	At   time.Time
}

// UDPTransport sends and receives Guild Hall datagrams on a single UDP
// socket. Broadcast and unicast writes are safe from any goroutine;
// SendReliable belongs to the update loop that polls the queue.
type UDPTransport struct {
	cfg       *config.Config
	mu        sync.RWMutex
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	queue     *ReliableQueue
	peers     *PeerTable
	inbound   chan Datagram
	dropped   atomic.Uint64
	logger    zerolog.Logger
}

// NewUDPTransport creates a transport for the configured port and
// broadcast address. Call Open before sending.
func NewUDPTransport(cfg *config.Config) (*UDPTransport, error) {
	player := cfg.GetPlayerData()
	host := player.BroadcastAddress
	if host == config.BroadcastSubnet {
		lan, err := util.FindLAN()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve subnet broadcast: %w", err)
		}
		host = lan.Broadcast.String()
	}
	bcast, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(player.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast address %q: %w", player.BroadcastAddress, err)
	}

	t := &UDPTransport{
		cfg:       cfg,
		broadcast: bcast,
		peers:     NewPeerTable(),
		inbound:   make(chan Datagram, InboundBuffer),
		logger:    util.ComponentLogger("udp"),
	}
	t.queue = NewReliableQueue(t, cfg.GetApplicationData().Timers.MaxSendAttempts)
	return t, nil
}

// Open binds the listening socket.
func (t *UDPTransport) Open(ctx context.Context) error {
	port := t.cfg.GetPlayerData().ListenPort
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return fmt.Errorf("failed to start UDP listener on port %d: %w", port, err)
	}

	t.mu.Lock()
	t.conn = pc.(*net.UDPConn)
	t.mu.Unlock()

	t.logger.Info().
		Str("local", pc.LocalAddr().String()).
		Str("broadcast", t.broadcast.String()).
		Msg("UDP transport listening")
	return nil
}

// Run reads datagrams until Close is called. Canceling ctx leaves the
// socket open; the owner closes it once its last packet is sent. Packets with a bad header are counted against the sender and dropped.
func (t *UDPTransport) Run(ctx context.Context) error {
	conn := t.socket()
	if conn == nil {
		return ErrClosed
	}

	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				t.logger.Info().Msg("UDP transport stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		from, err := peer.FromUDPAddr(remote)
		if err != nil {
			continue
		}
		now := time.Now()

		if _, err := protocol.ReadHeader(buf[:n]); err != nil {
			t.peers.Touch(from, now, true)
			t.logger.Trace().Err(err).Str("remote", remote.String()).Msg("dropped datagram")
			continue
		}
		t.peers.Touch(from, now, false)

		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.inbound <- Datagram{From: from, Data: data, At: now}:
		default:
			t.dropped.Add(1)
			t.logger.Warn().Str("remote", remote.String()).Msg("inbound queue full, datagram dropped")
		}
	}
}

// Inbound delivers received datagrams to the update loop.
func (t *UDPTransport) Inbound() <-chan Datagram {
	return t.inbound
}

// Broadcast sends pkt to every peer on the segment.
func (t *UDPTransport) Broadcast(pkt []byte) error {
	return t.write(pkt, t.broadcast)
}

// SendUnicast sends pkt once to a single peer.
func (t *UDPTransport) SendUnicast(to peer.Address, pkt []byte) error {
	return t.Send(to, pkt)
}

// Send implements Sender for the reliable queue.
func (t *UDPTransport) Send(to peer.Address, pkt []byte) error {
	if to.IsBlank() {
		return fmt.Errorf("send to blank address")
	}
	return t.write(pkt, to.UDPAddr())
}

// SendReliable queues pkt for acknowledged delivery.
func (t *UDPTransport) SendReliable(pkt []byte, to peer.Address, retryTicks int, extra interface{}, onDone func(presence.SendResult)) {
	t.queue.Send(pkt, to, retryTicks, extra, onDone)
}

func (t *UDPTransport) write(pkt []byte, addr *net.UDPAddr) error {
	conn := t.socket()
	if conn == nil {
		return ErrClosed
	}
	if _, err := conn.WriteToUDP(pkt, addr); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

func (t *UDPTransport) socket() *net.UDPConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// Queue returns the reliable retransmission queue.
func (t *UDPTransport) Queue() *ReliableQueue {
	return t.queue
}

// Peers returns the per-peer traffic table.
func (t *UDPTransport) Peers() *PeerTable {
	return t.peers
}

// Dropped returns the number of datagrams discarded because the update
// loop fell behind.
func (t *UDPTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// LocalAddr returns the bound socket address, or nil when closed.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	conn := t.socket()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr().(*net.UDPAddr)
}

// IsOpen reports whether the socket is bound.
func (t *UDPTransport) IsOpen() bool {
	return t.socket() != nil
}

// Close closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
