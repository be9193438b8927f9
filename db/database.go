package db

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gleech/config"
	"gleech/db/models"
	"gleech/torrent"
)

type Database struct {
	db *gorm.DB
}

func Init() (*Database, error) {
	db, err := gorm.Open(sqlite.Open(config.Main.DB.Path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&models.Download{}, &models.Peer{}, &models.Piece{}, &models.Tracker{})
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDownload returns the state row for a torrent, creating it together
// with its piece and tracker rows on first sight of the info hash.
func (d *Database) CreateDownload(tor *torrent.Torrent, torrentPath string) (*models.Download, error) {
	download := &models.Download{}
	tx := d.db.Where("info_hash = ?", tor.InfoHashString()).First(download)
	if tx.Error != nil {
		download = &models.Download{
			InfoHash:        tor.InfoHashString(),
			Name:            tor.Name,
			TorrentFilename: torrentPath,
			Status:          models.DownloadInProgress,
			DownloadDir:     config.Main.DownloadDir,
			TotalSize:       tor.Length,
		}
		if err := d.db.Create(download).Error; err != nil {
			return nil, err
		}

		for index, pieceHash := range tor.Pieces {
			piece := &models.Piece{
				DownloadID: download.ID,
				Index:      index,
				Hash:       pieceHash,
			}
			if err := d.db.Create(piece).Error; err != nil {
				return nil, err
			}
		}

		for _, announce := range tor.AnnounceList {
			tracker := &models.Tracker{
				DownloadID: download.ID,
				Announce:   announce,
				Status:     models.TrackerAnnouncing,
			}
			if err := d.db.Create(tracker).Error; err != nil {
				return nil, err
			}
		}
	}

	result := d.db.Preload("Trackers").Preload("Pieces").First(download)
	if result.Error != nil {
		return nil, result.Error
	}
	return download, nil
}

func (d *Database) UpdateTracker(tracker *models.Tracker) error {
	return d.db.Save(tracker).Error
}

// CreatePeer records a discovered peer, updating an existing row for the
// same endpoint instead of duplicating it.
func (d *Database) CreatePeer(tracker *models.Tracker, peer *torrent.Peer) error {
	newPeer := &models.Peer{
		DownloadID: tracker.DownloadID,
		TrackerID:  tracker.ID,
		IP:         peer.IP,
		Port:       peer.Port,
	}
	existing := &models.Peer{}
	result := d.db.Where("download_id = ? AND ip = ? AND port = ?", tracker.DownloadID, peer.IP, peer.Port).First(existing)
	if result.Error == nil {
		newPeer.ID = existing.ID
		return d.db.Save(newPeer).Error
	}
	return d.db.Create(newPeer).Error
}
