package network

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/protocol"
)

// DefaultMaxAttempts bounds transmissions of one reliable packet.
const DefaultMaxAttempts = 8

// Sender writes one datagram to a peer.
type Sender interface {
	Send(to peer.Address, pkt []byte) error
}

type outbound struct {
	seq        uint32
	to         peer.Address
	pkt        []byte
	retryTicks uint64
	nextAt     uint64
	attempts   int
	extra      interface{}
	onDone     func(presence.SendResult)
}

// ReliableQueue retransmits sequenced packets until they are acknowledged
// or the attempt limit is reached. It is driven by the update loop through
// Poll and Ack and is not safe for concurrent use.
type ReliableQueue struct {
	sender      Sender
	maxAttempts int
	nextSeq     uint32
	now         uint64
	pending     []*outbound
	logger      zerolog.Logger
}

// NewReliableQueue creates a queue writing through sender.
func NewReliableQueue(sender Sender, maxAttempts int) *ReliableQueue {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	q := &ReliableQueue{
		sender:      sender,
		maxAttempts: maxAttempts,
		logger:      log.With().Str("component", "reliable").Logger(),
	}
	// A random start keeps a restarted peer clear of stale dedupe entries.
	q.nextSeq = uuid.New().ID()
	return q
}

// Send stamps pkt with the next sequence number and transmits it
// immediately. onDone runs exactly once.
func (q *ReliableQueue) Send(pkt []byte, to peer.Address, retryTicks int, extra interface{}, onDone func(presence.SendResult)) {
	if retryTicks < 1 {
		retryTicks = 1
	}
	q.nextSeq++
	if q.nextSeq == 0 {
		q.nextSeq = 1
	}

	o := &outbound{
		seq:        q.nextSeq,
		to:         to,
		pkt:        protocol.StampSequence(pkt, q.nextSeq),
		retryTicks: uint64(retryTicks),
		extra:      extra,
		onDone:     onDone,
	}
	q.pending = append(q.pending, o)
	q.transmit(o)
}

func (q *ReliableQueue) transmit(o *outbound) {
	o.attempts++
	o.nextAt = q.now + o.retryTicks
	if err := q.sender.Send(o.to, o.pkt); err != nil {
		q.logger.Warn().Err(err).
			Str("to", o.to.String()).
			Uint32("seq", o.seq).
			Msg("reliable send failed")
		return
	}
	q.logger.Trace().
		Str("to", o.to.String()).
		Uint32("seq", o.seq).
		Int("attempt", o.attempts).
		Msg("reliable packet sent")
}

// Poll advances the queue clock, retransmitting due packets and
// abandoning those that exhausted their attempts.
func (q *ReliableQueue) Poll(now uint64) {
	q.now = now

	var abandoned []*outbound
	kept := q.pending[:0]
	for _, o := range q.pending {
		if now < o.nextAt {
			kept = append(kept, o)
			continue
		}
		if o.attempts >= q.maxAttempts {
			abandoned = append(abandoned, o)
			continue
		}
		q.transmit(o)
		kept = append(kept, o)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept

	for _, o := range abandoned {
		q.logger.Debug().
			Str("to", o.to.String()).
			Uint32("seq", o.seq).
			Int("attempts", o.attempts).
			Msg("reliable packet abandoned")
		q.finish(o, false)
	}
}

// Ack resolves the packet with seq if it was sent to from. It reports
// whether a pending packet matched.
func (q *ReliableQueue) Ack(from peer.Address, seq uint32) bool {
	for i, o := range q.pending {
		if o.seq != seq || o.to != from {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.finish(o, true)
		return true
	}
	return false
}

// Pending returns the number of unacknowledged packets.
func (q *ReliableQueue) Pending() int {
	return len(q.pending)
}

// Abandon fails every pending packet, used at shutdown.
func (q *ReliableQueue) Abandon() {
	pending := q.pending
	q.pending = nil
	for _, o := range pending {
		q.finish(o, false)
	}
}

func (q *ReliableQueue) finish(o *outbound, delivered bool) {
	if o.onDone == nil {
		return
	}
	o.onDone(presence.SendResult{
		To:        o.to,
		Seq:       o.seq,
		Delivered: delivered,
		Attempts:  o.attempts,
		Extra:     o.extra,
	})
}
