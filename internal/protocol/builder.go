package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// PacketBuilder constructs binary packets for sending to peers.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// NewFrame creates a builder with the datagram header already written.
// The sequence is left at zero; the reliable queue stamps it on send.
func NewFrame(cmd byte) *PacketBuilder {
	b := NewPacketBuilder()
	b.WriteByte(Magic)
	b.WriteByte(cmd)
	b.WriteUint32(0)
	return b
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteAddress writes the 6 raw address bytes.
func (b *PacketBuilder) WriteAddress(a peer.Address) *PacketBuilder {
	b.buf.Write(a[:])
	return b
}

// WriteFixedString writes s truncated or zero-padded to exactly n bytes.
func (b *PacketBuilder) WriteFixedString(s string, n int) *PacketBuilder {
	field := make([]byte, n)
	copy(field, s)
	b.buf.Write(field)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// StampSequence returns a copy of pkt with its header sequence set to seq.
func StampSequence(pkt []byte, seq uint32) []byte {
	out := make([]byte, len(pkt))
	copy(out, pkt)
	if len(out) >= HeaderSize {
		binary.LittleEndian.PutUint32(out[2:HeaderSize], seq)
	}
	return out
}

// ---- Packet constructors ----

// BuildAnnounce creates a self-announcement packet (0x60).
// Format: [hdr][name:30][addr:6][location:1][activity:1][group:6][adventure:2][quest:2]
func BuildAnnounce(rec roster.PlayerRecord) []byte {
	b := NewFrame(PktAnnounce)
	b.WriteFixedString(rec.Name, NameFieldSize)
	b.WriteAddress(rec.Address)
	b.WriteByte(byte(rec.Location))
	b.WriteByte(byte(rec.Activity))
	b.WriteAddress(rec.GroupID)
	b.WriteUint16(rec.AdventureID)
	b.WriteUint16(rec.QuestID)
	return b.Build()
}

// BuildJoinRequest creates a join request packet (0x61).
// Format: [hdr][requester:6][group:6][adventure:2]
func BuildJoinRequest(requester, groupID peer.Address, adventureID uint16) []byte {
	b := NewFrame(PktJoinRequest)
	b.WriteAddress(requester)
	b.WriteAddress(groupID)
	b.WriteUint16(adventureID)
	return b.Build()
}

// BuildJoinResponse creates a join response packet (0x62).
// Format: [hdr][target:6][group:6][adventure:2][verdict:1]
func BuildJoinResponse(target, groupID peer.Address, adventureID uint16, verdict events.Verdict) []byte {
	b := NewFrame(PktJoinResponse)
	b.WriteAddress(target)
	b.WriteAddress(groupID)
	b.WriteUint16(adventureID)
	b.WriteByte(byte(verdict))
	return b.Build()
}

// BuildGameStatus creates a launch/outcome packet (0x63). Members beyond
// MaxPartyMembers are dropped; unused slots are zeroed.
// Format: [hdr][group:6][adventure:2][quest:2][count:1][members:4*6][level:2][status:1]
func BuildGameStatus(p events.GameStatusPayload) []byte {
	members := p.Members
	if len(members) > MaxPartyMembers {
		members = members[:MaxPartyMembers]
	}
	b := NewFrame(PktGameStatus)
	b.WriteAddress(p.GroupID)
	b.WriteUint16(p.AdventureID)
	b.WriteUint16(p.QuestID)
	b.WriteByte(byte(len(members)))
	for i := 0; i < MaxPartyMembers; i++ {
		if i < len(members) {
			b.WriteAddress(members[i])
		} else {
			b.WriteAddress(peer.Blank)
		}
	}
	b.WriteUint16(p.StartingLevel)
	b.WriteByte(byte(p.Status))
	return b.Build()
}

// BuildAck creates an acknowledgement for a reliable packet (0x6F).
func BuildAck(seq uint32) []byte {
	return StampSequence(NewFrame(PktAck).Build(), seq)
}
