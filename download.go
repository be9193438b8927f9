package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gleech/config"
	"gleech/db/models"
	"gleech/torrent"
	"gleech/utils"
)

// DownloadTorrent runs one download end to end: parse the metainfo, cache
// the torrent file, record the download, announce to every tracker, then
// hand the peer list to the engine and lay the result out on disk.
func DownloadTorrent(torrentFile string) error {
	log.Info().Msg("Downloading torrent: " + torrentFile)

	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}
	log.Info().Msgf("Parsed torrent of %s", utils.FormatBytes(tor.Length))

	// keep a copy of the torrent file in the cache directory
	cachePath := filepath.Join(config.Main.CacheDir, filepath.Base(torrentFile))
	if err := utils.CopyFile(torrentFile, cachePath); err != nil {
		return err
	}

	dlModel, err := mainDB.CreateDownload(tor, cachePath)
	if err != nil {
		return err
	}

	me := torrent.PeerMe()
	peers, err := discoverPeers(tor, me, dlModel)
	if err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	dlModel.Status = models.DownloadInProgress
	mainDB.UpdateDownload(dlModel)

	log.Info().Msgf("Found %d peers for download", len(peers))
	if len(peers) == 0 {
		return fmt.Errorf("no peers found for download")
	}

	engine := &torrent.Engine{
		Torrent: tor,
		Peers:   peers,
		PeerID:  me.IDBytes(),
		OnPiece: func(index, completed, total int) {
			mainDB.MarkPieceDownloaded(dlModel.ID, index)
			dlModel.Progress = completed * 100 / total
			mainDB.UpdateDownload(dlModel)
		},
	}

	whole, err := engine.Run()
	if err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	downloadPath := filepath.Join(config.Main.DownloadDir, tor.Name)
	if err := os.MkdirAll(downloadPath, os.ModePerm); err != nil {
		return err
	}
	if err := torrent.WriteContent(tor, whole, downloadPath); err != nil {
		dlModel.Status = models.DownloadError
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	dlModel.Status = models.DownloadComplete
	dlModel.Progress = 100
	dlModel.CompletedAt = time.Now().Unix()
	mainDB.UpdateDownload(dlModel)

	log.Info().Str("path", downloadPath).Msg("Download completed successfully")
	return nil
}

// discoverPeers announces to every tracker in the metainfo concurrently
// and merges the replies, dropping ourselves and unroutable endpoints.
func discoverPeers(tor *torrent.Torrent, me *torrent.Peer, dlModel *models.Download) ([]*torrent.Peer, error) {
	trackers := make([]torrent.ITracker, 0)
	for _, announce := range tor.AnnounceList {
		tracker, err := torrent.NewTracker(announce)
		if err != nil {
			log.Warn().Err(err).Str("tracker", announce).Msg("Failed to create tracker, skipping")
			continue
		}
		trackers = append(trackers, tracker)
	}
	if len(trackers) == 0 {
		return nil, fmt.Errorf("no valid trackers found")
	}

	var mu sync.Mutex
	seen := make(map[string]*torrent.Peer)

	var wg sync.WaitGroup
	for _, tracker := range trackers {
		wg.Add(1)
		go func(tr torrent.ITracker) {
			defer wg.Done()
			log.Info().Msg("Getting peers from tracker: " + tr.Announce())
			tPeers, err := tr.GetPeers(tor, me)

			var trackerModel *models.Tracker
			for i := range dlModel.Trackers {
				if dlModel.Trackers[i].Announce == tr.Announce() {
					trackerModel = &dlModel.Trackers[i]
					break
				}
			}
			if err != nil {
				log.Error().Err(err).Str("tracker", tr.Announce()).Msg("Error getting peers from tracker")
				if trackerModel != nil {
					trackerModel.Status = models.TrackerError
					trackerModel.LastError = err.Error()
					mainDB.UpdateTracker(trackerModel)
				}
				return
			}
			log.Info().Msgf("Got %d peers from tracker", len(tPeers))

			mu.Lock()
			for _, peer := range tPeers {
				if peer.String() == me.String() || peer.IP == "0.0.0.0" {
					continue
				}
				if _, ok := seen[peer.String()]; !ok {
					seen[peer.String()] = peer
					if trackerModel != nil {
						mainDB.CreatePeer(trackerModel, peer)
					}
				}
			}
			mu.Unlock()

			if trackerModel != nil {
				trackerModel.Status = models.TrackerComplete
				trackerModel.Seeders = tr.Seeders()
				trackerModel.Leechers = tr.Leechers()
				trackerModel.LastCheck = time.Now().Unix()
				mainDB.UpdateTracker(trackerModel)
			}
		}(tracker)
	}
	wg.Wait()

	peers := make([]*torrent.Peer, 0, len(seen))
	for _, peer := range seen {
		peers = append(peers, peer)
	}
	return peers, nil
}
