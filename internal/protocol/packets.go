// Package protocol implements the binary wire format used between Guild
// Hall peers: self-announcements, join negotiation, adventure status and
// acknowledgements. All multi-byte integers are little-endian; addresses
// are carried as 6 raw bytes.
package protocol

// Magic is the first byte of every Guild Hall datagram.
const Magic byte = 0xC7

// Packet command bytes.
const (
	PktAnnounce     byte = 0x60 // Periodic self-announcement (broadcast)
	PktJoinRequest  byte = 0x61 // Requester -> host
	PktJoinResponse byte = 0x62 // Host -> requester verdict
	PktGameStatus   byte = 0x63 // Launch / outcome groupcast
	PktAck          byte = 0x6F // Acknowledges a reliable packet by sequence
)

// HeaderSize is [magic:1][cmd:1][seq:4].
const HeaderSize = 6

// MaxPacketSize bounds a single datagram.
const MaxPacketSize = 512

// NameFieldSize is the fixed width of the name field in an announcement.
const NameFieldSize = 30

// MaxPartyMembers is the number of member slots in a status packet.
const MaxPartyMembers = 4

// Body sizes, excluding the header.
const (
	announceBodySize     = NameFieldSize + 6 + 1 + 1 + 6 + 2 + 2
	joinRequestBodySize  = 6 + 6 + 2
	joinResponseBodySize = 6 + 6 + 2 + 1
	gameStatusBodySize   = 6 + 2 + 2 + 1 + MaxPartyMembers*6 + 2 + 1
)

// Packet represents a decoded header with its raw body.
type Packet struct {
	Command byte
	Seq     uint32
	Payload []byte
}

// Reliable reports whether the sender expects an acknowledgement.
func (p Packet) Reliable() bool {
	return p.Seq != 0 && p.Command != PktAck
}
