package torrent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// Engine coordinates one download: it seeds the task queue from the
// metainfo, binds one worker to each of the first min(pieces, 2×NumCPU,
// peers) peers, and assembles verified pieces
// into a single contiguous buffer the length of the torrent.
type Engine struct {
	Torrent *Torrent
	Peers   []*Peer
	PeerID  [20]byte

	// OnPiece, when set, is notified after each verified piece has been
	// placed into the buffer.
	OnPiece func(index, completed, total int)
}

// Run downloads every piece and returns the assembled content. It fails if
// every worker dies before the download completes rather than blocking on
// results that can no longer arrive.
func (e *Engine) Run() ([]byte, error) {
	numPieces := e.Torrent.NumPieces()
	if numPieces == 0 {
		return nil, fmt.Errorf("torrent has no pieces")
	}
	hashes, err := e.Torrent.PieceHashes()
	if err != nil {
		return nil, err
	}

	tasks := newWorkQueue[pieceTask]()
	results := newWorkQueue[pieceResult]()
	for i := 0; i < numPieces; i++ {
		tasks.Enqueue(pieceTask{
			index:  i,
			hash:   hashes[i],
			length: int(e.Torrent.PieceSize(i)),
		})
	}

	numWorkers := min(numPieces, 2*runtime.NumCPU(), len(e.Peers))
	if numWorkers == 0 {
		return nil, fmt.Errorf("no peers to download from")
	}
	log.Info().Int("pieces", numPieces).Int("workers", numWorkers).Msg("starting download")

	var wg sync.WaitGroup
	var alive atomic.Int32
	alive.Store(int32(numWorkers))
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(peer *Peer) {
			defer wg.Done()
			defer func() {
				// The last worker out closes the result queue so the drain
				// loop below cannot block on results that will never come.
				if alive.Add(-1) == 0 {
					results.Close()
				}
			}()
			e.runWorker(peer, tasks, results, numPieces)
		}(e.Peers[i])
	}

	whole := make([]byte, e.Torrent.Length)
	bar := progressbar.NewOptions(numPieces,
		progressbar.OptionSetDescription(e.Torrent.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	completed := 0
	for completed < numPieces {
		res, ok := results.Dequeue()
		if !ok {
			tasks.Close()
			wg.Wait()
			return nil, fmt.Errorf("every peer failed with %d of %d pieces downloaded", completed, numPieces)
		}
		begin := int64(res.index) * e.Torrent.PieceLength
		copy(whole[begin:], res.buf)
		completed++
		bar.Add(1)
		log.Debug().Int("piece", res.index).Int("completed", completed).Int("total", numPieces).Msg("piece downloaded")
		if e.OnPiece != nil {
			e.OnPiece(res.index, completed, numPieces)
		}
	}

	tasks.Close()
	wg.Wait()
	return whole, nil
}

// runWorker drives one peer session until the task queue closes or the peer
// fails. A task claimed by this worker is always either published to
// results or put back on the queue; it is never lost with the worker.
func (e *Engine) runWorker(peer *Peer, tasks *workQueue[pieceTask], results *workQueue[pieceResult], numPieces int) {
	s, err := Connect(peer, e.PeerID, e.Torrent.InfoHash, numPieces)
	if err != nil {
		log.Error().Err(err).Str("peer", peer.String()).Msg("could not establish session")
		return
	}
	defer s.Close()

	s.SendUnchoke()
	if err := s.SendInterested(); err != nil {
		log.Error().Err(err).Str("peer", peer.String()).Msg("could not send interested")
		return
	}

	for {
		task, ok := tasks.Dequeue()
		if !ok {
			return
		}

		if !s.HasPiece(task.index) {
			tasks.Enqueue(task)
			continue
		}

		buf, err := downloadPiece(s, task)
		if err != nil {
			tasks.Enqueue(task)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warn().Str("peer", peer.String()).Int("piece", task.index).Msg("piece attempt timed out, requeued")
				continue
			}
			log.Error().Err(err).Str("peer", peer.String()).Int("piece", task.index).Msg("peer failed, worker exiting")
			return
		}

		if err := checkIntegrity(task, buf); err != nil {
			log.Warn().Err(err).Str("peer", peer.String()).Msg("requeued")
			tasks.Enqueue(task)
			continue
		}

		s.SendHave(task.index)
		results.Enqueue(pieceResult{index: task.index, buf: buf})
	}
}

// WriteContent lays the assembled buffer out on disk under dir, one file
// per metainfo entry. Single-file torrents produce exactly one file named
// after the torrent.
func WriteContent(tor *Torrent, content []byte, dir string) error {
	var offset int64
	for _, file := range tor.FileList {
		path := filepath.Join(dir, file.Path)
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return err
		}
		end := offset + file.Length
		if end > int64(len(content)) {
			return fmt.Errorf("content is %d bytes, file list needs %d", len(content), end)
		}
		if err := os.WriteFile(path, content[offset:end], 0644); err != nil {
			return err
		}
		offset = end
	}
	return nil
}
