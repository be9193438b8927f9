package db

import (
	"gleech/db/models"
)

// UpdateDownload updates a download record in the database
func (d *Database) UpdateDownload(download *models.Download) error {
	return d.db.Save(download).Error
}

// MarkPieceDownloaded flags one piece row of a download as complete.
func (d *Database) MarkPieceDownloaded(downloadID uint, index int) error {
	return d.db.Model(&models.Piece{}).
		Where("download_id = ? AND `index` = ?", downloadID, index).
		Update("is_downloaded", true).Error
}
