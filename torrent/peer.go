package torrent

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/uuid"
)

// peerIDPrefix is the Azureus-style client tag announced to the swarm.
const peerIDPrefix = "-GL0001-"

// Peer is one endpoint discovered through a tracker.
type Peer struct {
	ID   string
	IP   string
	Port uint16
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// IDBytes returns the peer ID padded or truncated to the fixed 20 bytes
// the wire protocol carries.
func (p *Peer) IDBytes() [20]byte {
	var id [20]byte
	copy(id[:], p.ID)
	return id
}

// PeerMe builds our own identity: the fixed client tag plus a
// random-looking tail. Peers never parse it; it is sent verbatim.
func PeerMe() *Peer {
	return &Peer{
		ID:   GeneratePeerID(),
		IP:   externalIP(),
		Port: 6881,
	}
}

// GeneratePeerID returns a fresh 20-byte peer identity.
func GeneratePeerID() string {
	tail := "000000000000"
	if id, err := uuid.NewV4(); err == nil {
		tail = strings.ReplaceAll(id.String(), "-", "")[:20-len(peerIDPrefix)]
	}
	return peerIDPrefix + tail
}

func externalIP() string {
	resp, err := resty.New().R().Get("https://api.ipify.org/")
	if err != nil {
		return ""
	}
	return resp.String()
}

// ParseCompactPeers unpacks the 6-bytes-per-peer form trackers answer
// with: four address octets followed by a big-endian port.
func ParseCompactPeers(data []byte) ([]*Peer, error) {
	const peerSize = 6
	if len(data)%peerSize != 0 {
		return nil, fmt.Errorf("compact peer list of %d bytes is not a multiple of %d", len(data), peerSize)
	}
	peers := make([]*Peer, 0, len(data)/peerSize)
	for i := 0; i < len(data); i += peerSize {
		peers = append(peers, &Peer{
			IP:   fmt.Sprintf("%d.%d.%d.%d", data[i], data[i+1], data[i+2], data[i+3]),
			Port: binary.BigEndian.Uint16(data[i+4 : i+6]),
		})
	}
	return peers, nil
}
