package models

import "gorm.io/gorm"

type Download struct {
	gorm.Model
	InfoHash        string `gorm:"uniqueIndex"`
	Name            string
	TorrentFilename string
	Status          DownloadStatus
	DownloadDir     string
	TotalSize       int64
	Progress        int
	LastError       string
	CompletedAt     int64

	Peers    []Peer
	Pieces   []Piece
	Trackers []Tracker
}

type DownloadStatus = string

const (
	DownloadInvalid    DownloadStatus = "invalid"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadComplete   DownloadStatus = "complete"
	DownloadError      DownloadStatus = "error"
)

type Peer struct {
	ID         uint `gorm:"primaryKey"`
	DownloadID uint
	TrackerID  uint
	IP         string
	Port       uint16
}

type Piece struct {
	ID           uint `gorm:"primaryKey"`
	DownloadID   uint
	Index        int
	Hash         string
	IsDownloaded bool
}

type Tracker struct {
	ID         uint `gorm:"primaryKey"`
	DownloadID uint
	Announce   string
	Status     TrackerStatus
	LastCheck  int64
	NextCheck  int64
	LastError  string
	Seeders    int
	Leechers   int
}

type TrackerStatus = string

const (
	TrackerAnnouncing TrackerStatus = "announcing"
	TrackerError      TrackerStatus = "error"
	TrackerComplete   TrackerStatus = "complete"
)
