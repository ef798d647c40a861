package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// Frame is a decoded datagram: the header plus the structured event.
type Frame struct {
	Packet
	Event *events.Event
}

// Parser decodes Guild Hall datagrams into events.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{
		logger: log.With().Str("component", "parser").Logger(),
	}
}

// ReadHeader splits a datagram into its header and body.
func ReadHeader(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("short packet: %d bytes", len(data))
	}
	if len(data) > MaxPacketSize {
		return Packet{}, fmt.Errorf("packet too large: %d bytes (max %d)", len(data), MaxPacketSize)
	}
	if data[0] != Magic {
		return Packet{}, fmt.Errorf("bad magic byte: 0x%02X", data[0])
	}
	return Packet{
		Command: data[1],
		Seq:     binary.LittleEndian.Uint32(data[2:HeaderSize]),
		Payload: data[HeaderSize:],
	}, nil
}

// Parse processes a raw datagram and returns the decoded frame.
func (p *Parser) Parse(data []byte) (*Frame, error) {
	pkt, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(pkt.Payload)
	var event *events.Event

	switch pkt.Command {
	case PktAnnounce:
		event, err = p.parseAnnounce(reader)
	case PktJoinRequest:
		event, err = p.parseJoinRequest(reader)
	case PktJoinResponse:
		event, err = p.parseJoinResponse(reader)
	case PktGameStatus:
		event, err = p.parseGameStatus(reader)
	case PktAck:
		event = &events.Event{Type: events.EventAck, Source: "ack"}
	default:
		p.logger.Warn().
			Uint8("command", pkt.Command).
			Int("payload_len", len(pkt.Payload)).
			Msg("unknown packet command")
		return nil, fmt.Errorf("unknown command: 0x%02X", pkt.Command)
	}
	if err != nil {
		return nil, err
	}

	return &Frame{Packet: pkt, Event: event}, nil
}

// parseAnnounce handles packet 0x60: a peer's self-announcement.
func (p *Parser) parseAnnounce(r *bytes.Reader) (*events.Event, error) {
	if r.Len() < announceBodySize {
		return nil, fmt.Errorf("truncated announce: %d bytes", r.Len())
	}

	var rec roster.PlayerRecord
	name, err := readFixedString(r, NameFieldSize)
	if err != nil {
		return nil, fmt.Errorf("failed to parse announce name: %w", err)
	}
	if name == "" {
		return nil, fmt.Errorf("announce with empty name")
	}
	rec.Name = name

	if rec.Address, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse announce address: %w", err)
	}
	location, _ := r.ReadByte()
	activity, _ := r.ReadByte()
	rec.Location = roster.Location(location)
	rec.Activity = roster.Activity(activity)
	if !rec.Location.Valid() {
		return nil, fmt.Errorf("invalid location: %d", location)
	}
	if !rec.Activity.Valid() {
		return nil, fmt.Errorf("invalid activity: %d", activity)
	}
	if rec.GroupID, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse announce group: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.AdventureID); err != nil {
		return nil, fmt.Errorf("failed to parse announce adventure: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.QuestID); err != nil {
		return nil, fmt.Errorf("failed to parse announce quest: %w", err)
	}

	p.logger.Trace().
		Str("name", rec.Name).
		Str("location", rec.Location.String()).
		Str("activity", rec.Activity.String()).
		Msg("announce")

	return &events.Event{
		Type:    events.EventAnnounce,
		Source:  rec.Name,
		Payload: events.AnnouncePayload{Record: rec},
	}, nil
}

// parseJoinRequest handles packet 0x61.
func (p *Parser) parseJoinRequest(r *bytes.Reader) (*events.Event, error) {
	if r.Len() < joinRequestBodySize {
		return nil, fmt.Errorf("truncated join request: %d bytes", r.Len())
	}

	var payload events.JoinRequestPayload
	var err error
	if payload.Requester, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse join requester: %w", err)
	}
	if payload.GroupID, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse join group: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &payload.AdventureID); err != nil {
		return nil, fmt.Errorf("failed to parse join adventure: %w", err)
	}

	return &events.Event{
		Type:    events.EventJoinRequest,
		Source:  payload.Requester.String(),
		Payload: payload,
	}, nil
}

// parseJoinResponse handles packet 0x62.
func (p *Parser) parseJoinResponse(r *bytes.Reader) (*events.Event, error) {
	if r.Len() < joinResponseBodySize {
		return nil, fmt.Errorf("truncated join response: %d bytes", r.Len())
	}

	var payload events.JoinResponsePayload
	var err error
	if payload.Target, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse join target: %w", err)
	}
	if payload.GroupID, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse join group: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &payload.AdventureID); err != nil {
		return nil, fmt.Errorf("failed to parse join adventure: %w", err)
	}
	verdict, _ := r.ReadByte()
	payload.Verdict = events.Verdict(verdict)
	if !payload.Verdict.Valid() {
		return nil, fmt.Errorf("invalid verdict: %d", verdict)
	}

	return &events.Event{
		Type:    events.EventJoinResponse,
		Source:  payload.GroupID.String(),
		Payload: payload,
	}, nil
}

// parseGameStatus handles packet 0x63.
func (p *Parser) parseGameStatus(r *bytes.Reader) (*events.Event, error) {
	if r.Len() < gameStatusBodySize {
		return nil, fmt.Errorf("truncated game status: %d bytes", r.Len())
	}

	var payload events.GameStatusPayload
	var err error
	if payload.GroupID, err = readAddress(r); err != nil {
		return nil, fmt.Errorf("failed to parse status group: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &payload.AdventureID); err != nil {
		return nil, fmt.Errorf("failed to parse status adventure: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &payload.QuestID); err != nil {
		return nil, fmt.Errorf("failed to parse status quest: %w", err)
	}
	count, _ := r.ReadByte()
	if count > MaxPartyMembers {
		return nil, fmt.Errorf("member count %d exceeds %d", count, MaxPartyMembers)
	}
	payload.Members = make([]peer.Address, 0, count)
	for i := 0; i < MaxPartyMembers; i++ {
		addr, err := readAddress(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse status member %d: %w", i, err)
		}
		if i < int(count) {
			payload.Members = append(payload.Members, addr)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &payload.StartingLevel); err != nil {
		return nil, fmt.Errorf("failed to parse status level: %w", err)
	}
	status, _ := r.ReadByte()
	payload.Status = events.AdventureStatus(status)

	p.logger.Debug().
		Str("group", payload.GroupID.String()).
		Uint16("adventure", payload.AdventureID).
		Str("status", payload.Status.String()).
		Msg("game status")

	return &events.Event{
		Type:    events.EventGameStatus,
		Source:  payload.GroupID.String(),
		Payload: payload,
	}, nil
}

// readAddress reads 6 raw address bytes.
func readAddress(r *bytes.Reader) (peer.Address, error) {
	var a peer.Address
	if _, err := io.ReadFull(r, a[:]); err != nil {
		return a, err
	}
	return a, nil
}

// readFixedString reads an n-byte zero-padded string field.
func readFixedString(r *bytes.Reader, n int) (string, error) {
	field := make([]byte, n)
	if _, err := io.ReadFull(r, field); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field), nil
}
