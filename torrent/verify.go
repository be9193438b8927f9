package torrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// VerifyTorrent re-hashes downloaded content against a .torrent file.
// Piece boundaries run across the concatenation of all files in list
// order, so the files are read as one continuous stream.
func VerifyTorrent(filename string, contentPath string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	tor, err := TorrentFromBytes(content)
	if err != nil {
		return err
	}

	hashes, err := tor.PieceHashes()
	if err != nil {
		return err
	}

	for _, file := range tor.FileList {
		if _, err := os.Stat(filepath.Join(contentPath, file.Path)); err != nil {
			return err
		}
	}

	stream := &fileListReader{dir: contentPath, files: tor.FileList}
	defer stream.Close()

	piece := make([]byte, tor.PieceLength)
	for index := 0; index < tor.NumPieces(); index++ {
		size := tor.PieceSize(index)
		if _, err := io.ReadFull(stream, piece[:size]); err != nil {
			return fmt.Errorf("reading piece %d: %w", index, err)
		}
		hash := sha1.Sum(piece[:size])
		if !bytes.Equal(hash[:], hashes[index][:]) {
			return fmt.Errorf("piece %d is corrupted: got %s, expected %s",
				index, hex.EncodeToString(hash[:]), tor.Pieces[index])
		}
		log.Debug().Int("piece", index).Msg("verified")
	}

	return nil
}

// fileListReader presents the torrent's files as the single continuous
// stream piece hashing is defined over.
type fileListReader struct {
	dir   string
	files []*File
	cur   *os.File
	next  int
}

func (r *fileListReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.files) {
				return 0, io.EOF
			}
			f, err := os.Open(filepath.Join(r.dir, r.files[r.next].Path))
			if err != nil {
				return 0, err
			}
			r.cur = f
			r.next++
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (r *fileListReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}
