package torrent

import (
	"fmt"
	"net/url"
)

// ITracker announces a torrent to one tracker and reports what it learned.
type ITracker interface {
	GetPeers(tor *Torrent, me *Peer) ([]*Peer, error)
	Announce() string
	LastCheck() int64
	NextCheck() int64
	LastError() error
	Seeders() int
	Leechers() int
}

// NewTracker picks the tracker protocol from the announce URL scheme.
func NewTracker(announce string) (ITracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "", "http", "https":
		return NewHTTPTracker(announce), nil
	case "udp":
		return NewUDPTracker(announce), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", u.Scheme)
	}
}
