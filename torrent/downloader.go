package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"time"
)

// pieceDeadline bounds one attempt at a piece. It is also the only thing
// that unblocks a read from a peer that went silent.
const pieceDeadline = 30 * time.Second

// pieceTask is one piece waiting to be downloaded.
type pieceTask struct {
	index  int
	hash   [20]byte
	length int
}

// pieceResult is a verified piece on its way to the coordinator.
type pieceResult struct {
	index int
	buf   []byte
}

// pieceProgress tracks one in-flight piece attempt on one session.
type pieceProgress struct {
	index      int
	session    *Session
	buf        []byte
	downloaded int
	requested  int
	backlog    int
}

func (state *pieceProgress) readMessage() error {
	msg, err := state.session.Read() // blocks until a frame or the deadline
	if err != nil {
		return err
	}

	switch msg.Type {
	case MsgKeepAlive:
	case MsgUnchoke:
		state.session.Choked = false
	case MsgChoke:
		// Outstanding requests are implicitly dropped by the peer. The
		// backlog count is left alone; if the blocks never arrive the
		// deadline requeues the piece.
		state.session.Choked = true
	case MsgHave:
		index, err := ParseHave(msg.Payload)
		if err != nil {
			return err
		}
		state.session.SetPiece(int(index))
	case MsgPiece:
		n, err := ParsePiece(uint32(state.index), state.buf, msg.Payload)
		if err != nil {
			return err
		}
		state.downloaded += n
		state.backlog--
	}
	return nil
}

// downloadPiece requests all blocks of a piece with up to MaxBacklog
// requests pipelined and assembles the replies, which may arrive out of
// order. The whole attempt runs under pieceDeadline.
func downloadPiece(s *Session, task pieceTask) ([]byte, error) {
	state := pieceProgress{
		index:   task.index,
		session: s,
		buf:     make([]byte, task.length),
	}

	s.Conn.SetDeadline(time.Now().Add(pieceDeadline))
	defer s.Conn.SetDeadline(time.Time{})

	for state.downloaded < task.length {
		if !s.Choked {
			for state.backlog < MaxBacklog && state.requested < task.length {
				blockSize := BlockSize
				// Last block may be shorter than a full one
				if task.length-state.requested < blockSize {
					blockSize = task.length - state.requested
				}

				if err := s.SendRequest(task.index, state.requested, blockSize); err != nil {
					return nil, err
				}
				state.backlog++
				state.requested += blockSize
			}
		}

		if err := state.readMessage(); err != nil {
			return nil, err
		}
	}

	return state.buf, nil
}

// checkIntegrity compares the assembled piece against its expected SHA-1.
func checkIntegrity(task pieceTask, buf []byte) error {
	hash := sha1.Sum(buf)
	if !bytes.Equal(hash[:], task.hash[:]) {
		return fmt.Errorf("piece %d failed integrity check", task.index)
	}
	return nil
}
