// Package client runs the Guild Hall update loop. The loop is the only
// goroutine that touches the presence service and the reliable queue;
// everything else reaches them through Do.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/protocol"
	"github.com/guildhall-project/guildhall/internal/util"
)

// ErrNotRunning is returned by Do when the loop has stopped.
var ErrNotRunning = errors.New("client loop is not running")

// Link is the transport surface the loop depends on.
type Link interface {
	presence.Transport
	Inbound() <-chan network.Datagram
	Queue() *network.ReliableQueue
	Peers() *network.PeerTable
}

// socket is the part of the UDP transport whose lifetime Start manages.
type socket interface {
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

type command struct {
	fn   func(*presence.Service) error
	done chan error
}

// Client owns the presence service and drives it from a single loop.
type Client struct {
	cfg     *config.Config
	bus     *events.EventBus
	link    Link
	udp     *network.UDPTransport
	sock    socket
	parser  *protocol.Parser
	dedupe  *network.Dedupe
	svc     *presence.Service
	cmds    chan command
	stopped chan struct{}
	tick    atomic.Uint64
	started atomic.Bool
	running atomic.Bool
	logger  zerolog.Logger

	tickInterval time.Duration
}

// New creates a client bound to the configured UDP port.
func New(ctx context.Context, cfg *config.Config, bus *events.EventBus) (*Client, error) {
	udp, err := network.NewUDPTransport(cfg)
	if err != nil {
		return nil, err
	}
	self, err := resolveSelf(cfg.GetPlayerData())
	if err != nil {
		return nil, err
	}
	c, err := NewWithLink(ctx, cfg, bus, udp, self)
	if err != nil {
		return nil, err
	}
	c.udp, c.sock = udp, udp
	return c, nil
}

// NewWithLink creates a client over an arbitrary link with a known own
// address.
func NewWithLink(ctx context.Context, cfg *config.Config, bus *events.EventBus, link Link, self peer.Address) (*Client, error) {
	player := cfg.GetPlayerData()
	timers := cfg.GetApplicationData().Timers

	dedupe, err := network.NewDedupe(network.DefaultDedupeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	hooks := NewBusHooks(ctx, bus)
	svc, err := presence.New(presence.Options{
		Name:           player.PlayerName,
		Self:           self,
		Transport:      link,
		Hooks:          hooks,
		Console:        NewBusConsole(hooks),
		Logger:         log.Logger,
		HeartbeatTicks: timers.HeartbeatTicks(),
		RetryTicks:     timers.RetryIntervalTicks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create presence service: %w", err)
	}

	return &Client{
		cfg:          cfg,
		bus:          bus,
		link:         link,
		parser:       protocol.NewParser(),
		dedupe:       dedupe,
		svc:          svc,
		cmds:         make(chan command),
		stopped:      make(chan struct{}),
		tickInterval: timers.TickInterval(),
		logger:       log.With().Str("component", "client").Str("player", player.PlayerName).Logger(),
	}, nil
}

// resolveSelf builds our own address from the advertised or detected IP.
func resolveSelf(player config.PlayerData) (peer.Address, error) {
	ip := player.AdvertiseIP
	if ip == "" {
		detected, err := util.GetLocalIP()
		if err != nil {
			return peer.Blank, fmt.Errorf("failed to detect local IP: %w", err)
		}
		ip = detected
	}
	addr, err := peer.New(net.ParseIP(ip), uint16(player.ListenPort))
	if err != nil {
		return peer.Blank, fmt.Errorf("invalid advertise address %q: %w", ip, err)
	}
	return addr, nil
}

// Start opens the UDP socket and runs the receive goroutine and the
// update loop until ctx is canceled. The socket is closed only after the
// loop has sent its final announcement.
func (c *Client) Start(ctx context.Context) error {
	if c.sock != nil {
		if err := c.sock.Open(ctx); err != nil {
			return err
		}
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			if err := c.sock.Run(ctx); err != nil {
				c.logger.Error().Err(err).Msg("UDP transport stopped")
			}
		}()
		defer func() {
			if err := c.sock.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("failed to close UDP transport")
			}
			<-readerDone
		}()
	}
	return c.Run(ctx, presence.ScreenTown)
}

// Run is the update loop and may be called once. It enters the initial screen, then ticks,
// dispatches inbound datagrams and executes queued commands until ctx is
// canceled. On exit it announces that we left and fails pending sends.
func (c *Client) Run(ctx context.Context, initial presence.Screen) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("client loop already started")
	}
	c.running.Store(true)
	defer close(c.stopped)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.logger.Info().
		Str("address", c.svc.Self().String()).
		Dur("tick", c.tickInterval).
		Msg("update loop started")
	c.svc.SetScreen(initial)

	queue := c.link.Queue()
	for {
		select {
		case <-ctx.Done():
			c.svc.SetScreen(presence.ScreenNone)
			queue.Abandon()
			c.logger.Info().Msg("update loop stopped")
			return nil

		case <-ticker.C:
			now := c.tick.Add(1)
			queue.Poll(now)
			c.svc.Tick(now)

		case d := <-c.link.Inbound():
			c.handleDatagram(d)

		case cmd := <-c.cmds:
			cmd.done <- cmd.fn(c.svc)
		}
	}
}

// Do runs fn on the update loop and returns its error.
func (c *Client) Do(ctx context.Context, fn func(*presence.Service) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the update loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Running reports whether the update loop is active.
func (c *Client) Running() bool {
	return c.running.Load()
}

// Ticks returns the current tick count.
func (c *Client) Ticks() uint64 {
	return c.tick.Load()
}

// Peers returns the traffic table of the underlying link.
func (c *Client) Peers() *network.PeerTable {
	return c.link.Peers()
}

// Self returns our own address.
func (c *Client) Self() peer.Address {
	return c.svc.Self()
}

// Transport returns the UDP transport, or nil for a custom link.
func (c *Client) Transport() *network.UDPTransport {
	return c.udp
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// handleDatagram acknowledges reliable packets, drops duplicates and
// routes the decoded event to the presence service.
func (c *Client) handleDatagram(d network.Datagram) {
	frame, err := c.parser.Parse(d.Data)
	if err != nil {
		c.logger.Debug().Err(err).Str("from", d.From.String()).Msg("malformed datagram")
		return
	}

	if frame.Command == protocol.PktAck {
		if !c.link.Queue().Ack(d.From, frame.Seq) {
			c.logger.Trace().Str("from", d.From.String()).Uint32("seq", frame.Seq).Msg("unmatched ack")
		}
		return
	}

	if frame.Reliable() {
		if err := c.link.SendUnicast(d.From, protocol.BuildAck(frame.Seq)); err != nil {
			c.logger.Warn().Err(err).Str("to", d.From.String()).Msg("failed to send ack")
		}
		if c.dedupe.Seen(d.From, frame.Seq) {
			c.logger.Trace().Str("from", d.From.String()).Uint32("seq", frame.Seq).Msg("duplicate packet")
			return
		}
	}

	c.dispatch(frame.Event)
}

func (c *Client) dispatch(ev *events.Event) {
	switch p := ev.Payload.(type) {
	case events.AnnouncePayload:
		c.svc.HandleAnnounce(p.Record)
	case events.JoinRequestPayload:
		c.svc.HandleJoinRequest(p)
	case events.JoinResponsePayload:
		c.svc.HandleJoinResponse(p)
	case events.GameStatusPayload:
		c.svc.HandleGameStatus(p)
	default:
		c.logger.Trace().Str("event", string(ev.Type)).Msg("unhandled event")
	}
}
