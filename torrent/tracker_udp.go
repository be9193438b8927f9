package torrent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"
)

// BEP-15 tracker protocol over UDP.

const udpProtocolID = 0x41727101980

const (
	actionConnect  = 0
	actionAnnounce = 1
	actionScrape   = 2
)

const (
	eventNone      = 0
	eventCompleted = 1
	eventStarted   = 2
	eventStopped   = 3
)

type udpTracker struct {
	announceURL  string
	lastCheck    int64
	nextCheck    int64
	lastError    error
	conn         *net.UDPConn
	connectionID int64
	leechers     int32
	seeders      int32
}

func NewUDPTracker(announce string) ITracker {
	return &udpTracker{announceURL: announce}
}

func (t *udpTracker) Announce() string { return t.announceURL }
func (t *udpTracker) LastCheck() int64 { return t.lastCheck }
func (t *udpTracker) NextCheck() int64 { return t.nextCheck }
func (t *udpTracker) LastError() error { return t.lastError }
func (t *udpTracker) Seeders() int { return int(t.seeders) }
func (t *udpTracker) Leechers() int { return int(t.leechers) }

func (t *udpTracker) GetPeers(tor *Torrent, me *Peer) ([]*Peer, error) {
	if err := t.connect(); err != nil {
		t.lastError = err
		return nil, err
	}
	defer t.disconnect()

	if err := t.acquireConnectionID(); err != nil {
		t.lastError = err
		return nil, err
	}
	if err := t.scrape(tor); err != nil {
		t.lastError = err
		return nil, err
	}

	peers, err := t.announce(tor, me)
	if err != nil {
		t.lastError = err
		return nil, err
	}
	return peers, nil
}

func (t *udpTracker) connect() error {
	u, err := url.Parse(t.announceURL)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	t.conn = conn
	t.conn.SetDeadline(time.Now().Add(15 * time.Second))
	return nil
}

func (t *udpTracker) disconnect() {
	t.conn.Close()
}

// roundTrip sends one request datagram and reads one response datagram.
func (t *udpTracker) roundTrip(request any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return nil, err
	}
	if _, err := t.conn.Write(buf.Bytes()); err != nil {
		return nil, err
	}

	response := make([]byte, 2048)
	n, err := t.conn.Read(response)
	if err != nil {
		return nil, err
	}
	return response[:n], nil
}

func (t *udpTracker) acquireConnectionID() error {
	transactionID := rand.Int31()
	request := struct {
		ProtocolID  int64
		Action      int32
		Transaction int32
	}{
		ProtocolID:  udpProtocolID,
		Action:      actionConnect,
		Transaction: transactionID,
	}

	raw, err := t.roundTrip(request)
	if err != nil {
		return err
	}

	response := struct {
		Action       int32
		Transaction  int32
		ConnectionID int64
	}{}
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &response); err != nil {
		return err
	}
	if response.Transaction != transactionID {
		return fmt.Errorf("transaction ID mismatch")
	}
	if response.Action != actionConnect {
		return fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.connectionID = response.ConnectionID
	return nil
}

func (t *udpTracker) announce(tor *Torrent, me *Peer) ([]*Peer, error) {
	transactionID := rand.Int31()
	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
		InfoHash     [20]byte
		PeerID       [20]byte
		Downloaded   int64
		Left         int64
		Uploaded     int64
		Event        int32
		IP           int32
		Key          int32
		NumWant      int32
		Port         uint16
	}{
		ConnectionID: t.connectionID,
		Action:       actionAnnounce,
		Transaction:  transactionID,
		InfoHash:     tor.InfoHash,
		PeerID:       me.IDBytes(),
		Left:         tor.Length,
		Event:        eventStarted,
		NumWant:      -1,
		Port:         me.Port,
	}

	raw, err := t.roundTrip(request)
	if err != nil {
		return nil, err
	}
	if len(raw) < 20 {
		return nil, fmt.Errorf("announce response truncated: %d bytes", len(raw))
	}

	response := struct {
		Action      int32
		Transaction int32
		Interval    int32
		Leechers    int32
		Seeders     int32
	}{}
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &response); err != nil {
		return nil, err
	}
	if response.Transaction != transactionID {
		return nil, fmt.Errorf("transaction ID mismatch")
	}
	if response.Action != actionAnnounce {
		return nil, fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.leechers = response.Leechers
	t.seeders = response.Seeders
	t.lastCheck = time.Now().Unix()
	t.nextCheck = t.lastCheck + int64(response.Interval)

	return ParseCompactPeers(raw[20:])
}

func (t *udpTracker) scrape(tor *Torrent) error {
	transactionID := rand.Int31()
	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
		InfoHash     [20]byte
	}{
		ConnectionID: t.connectionID,
		Action:       actionScrape,
		Transaction:  transactionID,
		InfoHash:     tor.InfoHash,
	}

	raw, err := t.roundTrip(request)
	if err != nil {
		return err
	}

	response := struct {
		Action      int32
		Transaction int32
		Seeders     int32
		Completed   int32
		Leechers    int32
	}{}
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &response); err != nil {
		return err
	}
	if response.Transaction != transactionID {
		return fmt.Errorf("transaction ID mismatch")
	}
	if response.Action != actionScrape {
		return fmt.Errorf("unexpected action: %d", response.Action)
	}
	t.seeders = response.Seeders
	t.leechers = response.Leechers
	t.lastCheck = time.Now().Unix()
	return nil
}
