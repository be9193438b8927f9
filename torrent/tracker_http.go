package torrent

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"gleech/bencode"
)

type httpTracker struct {
	announceURL string
	lastCheck   int64
	nextCheck   int64
	lastError   error
	lastWarning string
	seeders     int
	leechers    int
}

func NewHTTPTracker(announce string) ITracker {
	return &httpTracker{announceURL: announce}
}

func (t *httpTracker) Announce() string { return t.announceURL }
func (t *httpTracker) LastCheck() int64 { return t.lastCheck }
func (t *httpTracker) NextCheck() int64 { return t.nextCheck }
func (t *httpTracker) LastError() error { return t.lastError }
func (t *httpTracker) Seeders() int { return t.seeders }
func (t *httpTracker) Leechers() int { return t.leechers }

func (t *httpTracker) fail(err error) error {
	t.lastError = err
	return err
}

// GetPeers performs one BEP-3 HTTP announce and parses the peer list out
// of the bencoded response. Both the compact string form and the
// dictionary form are accepted.
func (t *httpTracker) GetPeers(tor *Torrent, me *Peer) ([]*Peer, error) {
	resp, err := resty.New().R().
		SetQueryParam("info_hash", string(tor.InfoHash[:])).
		SetQueryParam("peer_id", me.ID).
		SetQueryParam("ip", me.IP).
		SetQueryParam("port", fmt.Sprintf("%d", me.Port)).
		SetQueryParam("uploaded", "0").
		SetQueryParam("downloaded", "0").
		SetQueryParam("left", fmt.Sprintf("%d", tor.Length)).
		SetQueryParam("event", "started").
		Get(t.announceURL)
	if err != nil {
		return nil, t.fail(fmt.Errorf("announce to %s: %w", t.announceURL, err))
	}
	t.lastCheck = time.Now().Unix()
	if resp.StatusCode() != 200 {
		return nil, t.fail(fmt.Errorf("announce to %s: status %d: %s", t.announceURL, resp.StatusCode(), resp.String()))
	}

	response, _, err := bencode.Decode(resp.Body())
	if err != nil {
		return nil, t.fail(fmt.Errorf("decoding announce response: %w", err))
	}
	respDict := response.AsDict()

	if failureReason, ok := respDict["failure reason"]; ok {
		return nil, t.fail(fmt.Errorf("tracker failure: %s", failureReason.AsString()))
	}

	if complete, ok := respDict["complete"]; ok {
		t.seeders = int(complete.AsInt())
	}
	if incomplete, ok := respDict["incomplete"]; ok {
		t.leechers = int(incomplete.AsInt())
	}
	if interval, ok := respDict["interval"]; ok {
		t.nextCheck = t.lastCheck + interval.AsInt()
	}
	if warning, ok := respDict["warning message"]; ok {
		t.lastWarning = warning.AsString()
		log.Warn().Str("tracker", t.announceURL).Msg(t.lastWarning)
	}

	peersList, ok := respDict["peers"]
	if !ok {
		return []*Peer{}, nil
	}

	switch peersList.Type {
	case bencode.STRING:
		peers, err := ParseCompactPeers(peersList.AsBytes())
		if err != nil {
			return nil, t.fail(err)
		}
		return peers, nil
	case bencode.LIST:
		peers := make([]*Peer, 0)
		for _, peerData := range peersList.AsList() {
			peerDict := peerData.AsDict()
			peers = append(peers, &Peer{
				IP:   peerDict["ip"].AsString(),
				Port: uint16(peerDict["port"].AsInt()),
			})
		}
		return peers, nil
	default:
		return nil, t.fail(fmt.Errorf("unexpected peers type in announce response"))
	}
}
