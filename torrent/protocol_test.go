package torrent

import (
	"bytes"
	"testing"
)

func TestReadMessageVectors(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		wantType    MessageType
		wantPayload []byte
	}{
		{
			name:     "keep-alive",
			input:    []byte{0x00, 0x00, 0x00, 0x00},
			wantType: MsgKeepAlive,
		},
		{
			name:        "have",
			input:       []byte{0x00, 0x00, 0x00, 0x05, 0x04, 0x00, 0x00, 0x00, 0xDE},
			wantType:    MsgHave,
			wantPayload: []byte{0x00, 0x00, 0x00, 0xDE},
		},
		{
			name: "request",
			input: []byte{
				0x00, 0x00, 0x00, 0x0D, 0x06,
				0x00, 0x00, 0x04, 0x65,
				0x00, 0x00, 0x0B, 0xA5,
				0x00, 0x00, 0x40, 0xA4,
			},
			wantType: MsgRequest,
			wantPayload: []byte{
				0x00, 0x00, 0x04, 0x65,
				0x00, 0x00, 0x0B, 0xA5,
				0x00, 0x00, 0x40, 0xA4,
			},
		},
		{
			name: "cancel",
			input: []byte{
				0x00, 0x00, 0x00, 0x0D, 0x08,
				0x00, 0x00, 0x04, 0x65,
				0x00, 0x00, 0x0B, 0xA5,
				0x00, 0x00, 0x40, 0xA4,
			},
			wantType: MsgCancel,
			wantPayload: []byte{
				0x00, 0x00, 0x04, 0x65,
				0x00, 0x00, 0x0B, 0xA5,
				0x00, 0x00, 0x40, 0xA4,
			},
		},
		{
			name:        "bitfield",
			input:       []byte{0x00, 0x00, 0x00, 0x06, 0x05, 0x51, 0x00, 0x00, 0xDE, 0x00},
			wantType:    MsgBitfield,
			wantPayload: []byte{0x51, 0x00, 0x00, 0xDE, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ReadMessage(bytes.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadMessage() error = %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("ReadMessage() type = %d, want %d", msg.Type, tt.wantType)
			}
			if !bytes.Equal(msg.Payload, tt.wantPayload) {
				t.Errorf("ReadMessage() payload = %x, want %x", msg.Payload, tt.wantPayload)
			}
			// re-encoding yields the input bytes
			if got := msg.Serialize(); !bytes.Equal(got, tt.input) {
				t.Errorf("Serialize() = %x, want %x", got, tt.input)
			}
		})
	}
}

func TestReadMessageRequestFields(t *testing.T) {
	input := []byte{
		0x00, 0x00, 0x00, 0x0D, 0x06,
		0x00, 0x00, 0x04, 0x65,
		0x00, 0x00, 0x0B, 0xA5,
		0x00, 0x00, 0x40, 0xA4,
	}
	msg, err := ReadMessage(bytes.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	index, begin, length, err := ParseRequest(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if index != 1125 || begin != 2981 || length != 16548 {
		t.Errorf("ParseRequest() = (%d, %d, %d), want (1125, 2981, 16548)", index, begin, length)
	}
}

func TestReadMessageRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "unknown ID",
			input: []byte{0x00, 0x00, 0x00, 0x01, 0x09},
		},
		{
			name:  "choke with payload",
			input: []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0xFF},
		},
		{
			name:  "have too short",
			input: []byte{0x00, 0x00, 0x00, 0x04, 0x04, 0x00, 0x00, 0xDE},
		},
		{
			name:  "request wrong length",
			input: []byte{0x00, 0x00, 0x00, 0x05, 0x06, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name:  "piece too short",
			input: []byte{0x00, 0x00, 0x00, 0x05, 0x07, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name:  "truncated payload",
			input: []byte{0x00, 0x00, 0x00, 0x0D, 0x06, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, err := ReadMessage(bytes.NewReader(tt.input)); err == nil {
				t.Errorf("ReadMessage() accepted malformed frame as %+v", msg)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	messages := []*Message{
		{Type: MsgKeepAlive},
		{Type: MsgChoke, Payload: []byte{}},
		{Type: MsgUnchoke, Payload: []byte{}},
		{Type: MsgInterested, Payload: []byte{}},
		{Type: MsgNotInterested, Payload: []byte{}},
		{Type: MsgHave, Payload: FormatHave(7)},
		{Type: MsgBitfield, Payload: []byte{0xFF, 0x01}},
		{Type: MsgRequest, Payload: FormatRequest(3, 16384, 16384)},
		{Type: MsgPiece, Payload: append([]byte{0, 0, 0, 3, 0, 0, 0, 0}, []byte("block data")...)},
		{Type: MsgCancel, Payload: FormatCancel(3, 16384, 16384)},
	}

	for _, msg := range messages {
		got, err := ReadMessage(bytes.NewReader(msg.Serialize()))
		if err != nil {
			t.Fatalf("round trip of ID %d: %v", msg.Type, err)
		}
		if got.Type != msg.Type || !bytes.Equal(got.Payload, msg.Payload) {
			t.Errorf("round trip of ID %d: got %+v, want %+v", msg.Type, got, msg)
		}
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "-GL0001-abcdefghijkl")

	serialized := NewHandshake(infoHash, peerID).Serialize()
	if len(serialized) != 68 {
		t.Fatalf("handshake is %d bytes, want 68", len(serialized))
	}
	if serialized[0] != 19 {
		t.Errorf("pstrlen = %d, want 19", serialized[0])
	}
	if !bytes.Equal(serialized[20:28], make([]byte, 8)) {
		t.Errorf("reserved bytes not zeroed: %x", serialized[20:28])
	}

	h, err := ReadHandshake(bytes.NewReader(serialized))
	if err != nil {
		t.Fatal(err)
	}
	if h.Pstr != ProtocolIdentifier {
		t.Errorf("pstr = %q", h.Pstr)
	}
	if h.InfoHash != infoHash {
		t.Errorf("info hash = %x, want %x", h.InfoHash, infoHash)
	}
	if h.PeerID != peerID {
		t.Errorf("peer ID = %x, want %x", h.PeerID, peerID)
	}
}

func TestReadHandshakeRejectsBadProtocol(t *testing.T) {
	var infoHash, peerID [20]byte
	good := NewHandshake(infoHash, peerID).Serialize()

	badLen := append([]byte{}, good...)
	badLen[0] = 18
	if _, err := ReadHandshake(bytes.NewReader(badLen)); err == nil {
		t.Error("accepted handshake with pstrlen 18")
	}

	badPstr := append([]byte{}, good...)
	badPstr[1] = 'X'
	if _, err := ReadHandshake(bytes.NewReader(badPstr)); err == nil {
		t.Error("accepted handshake with mangled protocol string")
	}
}

func TestBitfield(t *testing.T) {
	bf := Bitfield{0b01010001}
	present := []int{1, 3, 7}
	absent := []int{0, 2, 4, 5, 6, 8, 100}
	for _, i := range present {
		if !bf.HasPiece(i) {
			t.Errorf("HasPiece(%d) = false, want true", i)
		}
	}
	for _, i := range absent {
		if bf.HasPiece(i) {
			t.Errorf("HasPiece(%d) = true, want false", i)
		}
	}

	bf = make(Bitfield, 2)
	bf.SetPiece(0)
	bf.SetPiece(9)
	bf.SetPiece(100) // out of range, ignored
	if !bf.HasPiece(0) || !bf.HasPiece(9) {
		t.Errorf("SetPiece did not stick: %08b", bf)
	}
	if bf[0] != 0b10000000 || bf[1] != 0b01000000 {
		t.Errorf("unexpected bitfield bytes: %08b", bf)
	}
}

func TestParsePiece(t *testing.T) {
	buf := make([]byte, 32)

	payload := append([]byte{0, 0, 0, 5, 0, 0, 0, 16}, bytes.Repeat([]byte{0xAB}, 16)...)
	n, err := ParsePiece(5, buf, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Errorf("copied %d bytes, want 16", n)
	}
	if !bytes.Equal(buf[16:], bytes.Repeat([]byte{0xAB}, 16)) {
		t.Errorf("block not copied at offset: %x", buf)
	}
	if !bytes.Equal(buf[:16], make([]byte, 16)) {
		t.Errorf("bytes before the offset were touched: %x", buf)
	}

	if _, err := ParsePiece(4, buf, payload); err == nil {
		t.Error("accepted a block for the wrong piece index")
	}

	overflow := append([]byte{0, 0, 0, 5, 0, 0, 0, 24}, bytes.Repeat([]byte{0xAB}, 16)...)
	if _, err := ParsePiece(5, buf, overflow); err == nil {
		t.Error("accepted a block running past the piece length")
	}
}
