package torrent

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Constants for the BitTorrent peer wire protocol.
const (
	ProtocolIdentifier = "BitTorrent protocol"
	BlockSize          = 16 * 1024 // 16 KiB block size for requests
	MaxBacklog         = 5         // Number of block requests to keep pipelined

	// MaxMessageLength bounds a single frame. Nothing a downloading client
	// expects comes close: the largest legitimate frame is a piece message
	// of BlockSize bytes plus its 9-byte header.
	MaxMessageLength = 1 << 20
)

// MessageType identifies the type of a BitTorrent message.
type MessageType uint8

// Message types defined by the BitTorrent protocol.
const (
	MsgChoke         MessageType = 0
	MsgUnchoke       MessageType = 1
	MsgInterested    MessageType = 2
	MsgNotInterested MessageType = 3
	MsgHave          MessageType = 4
	MsgBitfield      MessageType = 5
	MsgRequest       MessageType = 6
	MsgPiece         MessageType = 7
	MsgCancel        MessageType = 8
	MsgKeepAlive     MessageType = 255 // Special case, no ID, zero length
)

// Message represents a generic BitTorrent message.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Handshake represents the initial handshake message.
type Handshake struct {
	Pstrlen  uint8
	Pstr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake creates a new Handshake message.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstrlen:  uint8(len(ProtocolIdentifier)),
		Pstr:     ProtocolIdentifier,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize converts the Handshake struct into its fixed 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(h.Pstr))
	buf[0] = h.Pstrlen
	copy(buf[1:], h.Pstr)
	copy(buf[1+len(h.Pstr)+8:], h.InfoHash[:])
	copy(buf[1+len(h.Pstr)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a Handshake message from the reader.
// Only the canonical BEP-3 protocol string is accepted.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lengthBuf := make([]byte, 1)
	_, err := io.ReadFull(r, lengthBuf)
	if err != nil {
		return nil, err
	}
	pstrlen := int(lengthBuf[0])
	if pstrlen != len(ProtocolIdentifier) {
		return nil, fmt.Errorf("bad handshake: pstrlen %d, expected %d", pstrlen, len(ProtocolIdentifier))
	}

	handshakeBuf := make([]byte, 48+pstrlen)
	_, err = io.ReadFull(r, handshakeBuf)
	if err != nil {
		return nil, err
	}

	pstr := string(handshakeBuf[:pstrlen])
	if pstr != ProtocolIdentifier {
		return nil, fmt.Errorf("bad handshake: protocol %q", pstr)
	}

	h := &Handshake{
		Pstrlen: uint8(pstrlen),
		Pstr:    pstr,
	}
	copy(h.Reserved[:], handshakeBuf[pstrlen:pstrlen+8])
	copy(h.InfoHash[:], handshakeBuf[pstrlen+8:pstrlen+8+20])
	copy(h.PeerID[:], handshakeBuf[pstrlen+8+20:])

	return h, nil
}

// Serialize converts a Message struct into a byte slice for sending.
// Format: <length prefix (4 bytes)><message ID (1 byte)><payload>
// KeepAlive messages have length 0 and no ID or payload.
func (m *Message) Serialize() []byte {
	if m.Type == MsgKeepAlive {
		return make([]byte, 4) // Length prefix of 0
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.Type)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one framed message from the reader. Frames with an
// unknown ID or a payload length that is impossible for their ID are
// rejected.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	_, err := io.ReadFull(r, lengthBuf)
	if err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf)

	// KeepAlive message
	if length == 0 {
		return &Message{Type: MsgKeepAlive}, nil
	}
	if length > MaxMessageLength {
		return nil, fmt.Errorf("message length %d exceeds limit", length)
	}

	messageBuf := make([]byte, length)
	_, err = io.ReadFull(r, messageBuf)
	if err != nil {
		return nil, err
	}

	m := &Message{
		Type:    MessageType(messageBuf[0]),
		Payload: messageBuf[1:],
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validate checks the payload length against what the message ID allows.
func (m *Message) validate() error {
	switch m.Type {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		if len(m.Payload) != 0 {
			return fmt.Errorf("message ID %d carries %d payload bytes, expected none", m.Type, len(m.Payload))
		}
	case MsgHave:
		if len(m.Payload) != 4 {
			return fmt.Errorf("have payload is %d bytes, expected 4", len(m.Payload))
		}
	case MsgBitfield:
		// Opaque; length is validated against the piece count by the session.
	case MsgRequest, MsgCancel:
		if len(m.Payload) != 12 {
			return fmt.Errorf("message ID %d payload is %d bytes, expected 12", m.Type, len(m.Payload))
		}
	case MsgPiece:
		if len(m.Payload) < 8 {
			return fmt.Errorf("piece payload is %d bytes, expected at least 8", len(m.Payload))
		}
	default:
		return fmt.Errorf("invalid message ID %d", m.Type)
	}
	return nil
}

// FormatRequest creates the payload for a Request message.
func FormatRequest(index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return payload
}

// FormatCancel creates the payload for a Cancel message. The layout is
// identical to a request.
func FormatCancel(index, begin, length uint32) []byte {
	return FormatRequest(index, begin, length)
}

// FormatHave creates the payload for a Have message.
func FormatHave(index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return payload
}

// ParseHave extracts the piece index from a Have message payload.
func ParseHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("have payload invalid length: %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ParseRequest extracts index, begin, and length from a Request or Cancel
// payload.
func ParseRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		err = fmt.Errorf("request payload invalid length: %d", len(payload))
		return
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return
}

// ParsePiece validates a Piece message payload against the piece being
// assembled and copies the block into buf at its offset. It returns the
// number of block bytes copied. Blocks may arrive in any order.
func ParsePiece(index uint32, buf []byte, payload []byte) (int, error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("piece payload too short: %d bytes", len(payload))
	}
	parsedIndex := binary.BigEndian.Uint32(payload[0:4])
	if parsedIndex != index {
		return 0, fmt.Errorf("piece for index %d, expected %d", parsedIndex, index)
	}
	begin := binary.BigEndian.Uint32(payload[4:8])
	if int(begin) > len(buf) {
		return 0, fmt.Errorf("block offset %d beyond piece of %d bytes", begin, len(buf))
	}
	data := payload[8:]
	if int(begin)+len(data) > len(buf) {
		return 0, fmt.Errorf("block [%d:%d) beyond piece of %d bytes", begin, int(begin)+len(data), len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// Bitfield represents the pieces a peer has, one bit per piece, MSB first.
type Bitfield []byte

// HasPiece checks if the bitfield indicates the peer has a specific piece.
func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	offset := index % 8
	if byteIndex < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-offset)&1 != 0
}

// SetPiece marks a piece as available in the bitfield.
func (bf Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	offset := index % 8
	if byteIndex < 0 || byteIndex >= len(bf) {
		return // Index out of bounds
	}
	bf[byteIndex] |= 1 << (7 - offset)
}
