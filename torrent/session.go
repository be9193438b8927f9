package torrent

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 5 * time.Second
	exchangeTimeout  = 10 * time.Second
)

// Session owns one wire connection to a single peer. It is created by the
// worker that uses it and is never shared across goroutines.
type Session struct {
	Conn     net.Conn
	Peer     *Peer
	Bitfield Bitfield
	Choked   bool

	peerID   [20]byte
	infoHash [20]byte
}

// Connect dials a peer, performs the BitTorrent handshake and completes the
// bitfield exchange. The returned session starts in the choked state.
func Connect(peer *Peer, peerID, infoHash [20]byte, numPieces int) (*Session, error) {
	conn, err := net.DialTimeout("tcp", peer.String(), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", peer, err)
	}

	s := &Session{
		Conn:     conn,
		Peer:     peer,
		Choked:   true,
		peerID:   peerID,
		infoHash: infoHash,
	}

	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", peer, err)
	}
	if err := s.receiveBitfield(numPieces); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bitfield exchange with %s: %w", peer, err)
	}

	return s, nil
}

// handshake sends our handshake and validates the peer's reply. The peer ID
// in the reply is recorded but not checked.
func (s *Session) handshake() error {
	s.Conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	req := NewHandshake(s.infoHash, s.peerID)
	if _, err := s.Conn.Write(req.Serialize()); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	res, err := ReadHandshake(s.Conn)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if !bytes.Equal(res.InfoHash[:], s.infoHash[:]) {
		return fmt.Errorf("info hash mismatch")
	}
	if s.Peer != nil && s.Peer.ID == "" {
		s.Peer.ID = string(res.PeerID[:])
	}
	return nil
}

// receiveBitfield completes the post-handshake exchange. The bitfield is
// normally the first message, but some clients front-run it with have
// messages; those are accumulated into an empty bitfield and merged once
// the real one arrives. Anything else before the bitfield fails the
// session.
func (s *Session) receiveBitfield(numPieces int) error {
	s.Conn.SetDeadline(time.Now().Add(exchangeTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	pending := make(Bitfield, (numPieces+7)/8)
	for {
		msg, err := ReadMessage(s.Conn)
		if err != nil {
			return err
		}
		switch msg.Type {
		case MsgKeepAlive:
			continue
		case MsgHave:
			index, err := ParseHave(msg.Payload)
			if err != nil {
				return err
			}
			pending.SetPiece(int(index))
			log.Debug().Str("peer", s.Peer.String()).Uint32("piece", index).Msg("have before bitfield")
			continue
		case MsgBitfield:
			if len(msg.Payload) != len(pending) {
				return fmt.Errorf("bitfield is %d bytes, expected %d for %d pieces",
					len(msg.Payload), len(pending), numPieces)
			}
			s.Bitfield = Bitfield(msg.Payload)
			for i, b := range pending {
				s.Bitfield[i] |= b
			}
			return nil
		default:
			return fmt.Errorf("expected bitfield, got message ID %d", msg.Type)
		}
	}
}

// HasPiece reports whether the peer advertises the given piece.
func (s *Session) HasPiece(index int) bool {
	return s.Bitfield.HasPiece(index)
}

// SetPiece records a piece announced by a have message.
func (s *Session) SetPiece(index int) {
	s.Bitfield.SetPiece(index)
}

// Read returns the next framed message from the peer. It blocks until a
// complete frame arrives, the connection deadline fires, or the connection
// closes.
func (s *Session) Read() (*Message, error) {
	return ReadMessage(s.Conn)
}

func (s *Session) send(msg *Message) error {
	_, err := s.Conn.Write(msg.Serialize())
	return err
}

// SendInterested tells the peer we want pieces it has.
func (s *Session) SendInterested() error {
	return s.send(&Message{Type: MsgInterested})
}

// SendNotInterested tells the peer we want nothing it has.
func (s *Session) SendNotInterested() error {
	return s.send(&Message{Type: MsgNotInterested})
}

// SendUnchoke tells the peer we would honor its requests.
func (s *Session) SendUnchoke() error {
	return s.send(&Message{Type: MsgUnchoke})
}

// SendRequest asks the peer for a block.
func (s *Session) SendRequest(index, begin, length int) error {
	payload := FormatRequest(uint32(index), uint32(begin), uint32(length))
	return s.send(&Message{Type: MsgRequest, Payload: payload})
}

// SendCancel withdraws an earlier request.
func (s *Session) SendCancel(index, begin, length int) error {
	payload := FormatCancel(uint32(index), uint32(begin), uint32(length))
	return s.send(&Message{Type: MsgCancel, Payload: payload})
}

// SendHave announces a piece we completed.
func (s *Session) SendHave(index int) error {
	return s.send(&Message{Type: MsgHave, Payload: FormatHave(uint32(index))})
}

// Close tears down the connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}
