package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"gleech/bencode"
	"gleech/utils"
)

// Torrent is the metainfo consumed by the download engine and the
// trackers.
type Torrent struct {
	AnnounceList []string
	Name         string
	CreatedBy    string
	Comment      string
	CreatedAt    int64
	FileList     []*File
	PieceLength  int64
	Pieces       []string // hex-encoded SHA-1 per piece
	InfoHash     [20]byte
	Length       int64
	IsPrivate    bool
}

func NewTorrent() *Torrent {
	return &Torrent{
		AnnounceList: make([]string, 0),
		FileList:     make([]*File, 0),
		Pieces:       make([]string, 0),
	}
}

func (t *Torrent) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  Name: %s\n", t.Name))
	sb.WriteString(fmt.Sprintf("  InfoHash: %s\n", t.InfoHashString()))
	sb.WriteString(fmt.Sprintf("  Length: %s\n", utils.FormatBytes(t.Length)))
	sb.WriteString("  AnnounceList:\n")
	for _, announce := range t.AnnounceList {
		sb.WriteString(fmt.Sprintf("     %s\n", announce))
	}
	sb.WriteString(fmt.Sprintf("  CreatedBy: %s\n", t.CreatedBy))
	sb.WriteString(fmt.Sprintf("  Comment: %s\n", t.Comment))
	sb.WriteString(fmt.Sprintf("  CreatedAt: %s\n", time.Unix(t.CreatedAt, 0).String()))
	sb.WriteString("  FileList:\n")
	for _, file := range t.FileList {
		sb.WriteString(fmt.Sprintf("     %s\n", file.String()))
	}
	sb.WriteString(fmt.Sprintf("  PieceLength: %s\n", utils.FormatBytes(t.PieceLength)))
	return sb.String()
}

func (t *Torrent) InfoHashString() string {
	return hex.EncodeToString(t.InfoHash[:])
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.Pieces)
}

// PieceSize returns the effective length of a piece. Every piece is
// PieceLength bytes except possibly the last, which covers whatever
// remains of the total length.
func (t *Torrent) PieceSize(index int) int64 {
	begin := int64(index) * t.PieceLength
	end := begin + t.PieceLength
	if end > t.Length {
		end = t.Length
	}
	return end - begin
}

// PieceHashes decodes the per-piece hashes into their binary form.
func (t *Torrent) PieceHashes() ([][20]byte, error) {
	hashes := make([][20]byte, len(t.Pieces))
	for i, hexHash := range t.Pieces {
		raw, err := hex.DecodeString(hexHash)
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("piece %d has malformed hash %q", i, hexHash)
		}
		copy(hashes[i][:], raw)
	}
	return hashes, nil
}

// File is one entry of the metainfo file list. Its position inside the
// content is the sum of the lengths before it.
type File struct {
	Length int64
	Path   string
}

func NewFile(length int64, path string) *File {
	return &File{
		Length: length,
		Path:   path,
	}
}

func (f *File) String() string {
	return fmt.Sprintf("Path: %s(%s)", f.Path, utils.FormatBytes(f.Length))
}

// TorrentFromBencodeData converts decoded bencode data into a Torrent.
// Returns nil if the input data is nil.
func TorrentFromBencodeData(data *bencode.Data) *Torrent {
	if data == nil {
		return nil
	}
	torrent := NewTorrent()
	rootDict := data.AsDict()
	infoDict := rootDict["info"].AsDict()

	if announceList, ok := rootDict["announce-list"]; ok {
		for _, tier := range announceList.AsList() {
			for _, announce := range tier.AsList() {
				torrent.AnnounceList = append(torrent.AnnounceList, announce.AsString())
			}
		}
	}

	if announce, ok := rootDict["announce"]; ok {
		if !slices.Contains(torrent.AnnounceList, announce.AsString()) {
			torrent.AnnounceList = append(torrent.AnnounceList, announce.AsString())
		}
	}

	if name, ok := infoDict["name"]; ok {
		torrent.Name = name.AsString()
	}

	if comment, ok := rootDict["comment"]; ok {
		torrent.Comment = comment.AsString()
	}

	if createdBy, ok := rootDict["created by"]; ok {
		torrent.CreatedBy = createdBy.AsString()
	}

	if createdAt, ok := rootDict["creation date"]; ok {
		torrent.CreatedAt = createdAt.AsInt()
	}

	if files, ok := infoDict["files"]; ok {
		for _, fileData := range files.AsList() {
			fileDict := fileData.AsDict()
			file := NewFile(fileDict["length"].AsInt(), "")

			if filePath, ok := fileDict["path"]; ok {
				parts := filePath.AsList()
				for i, part := range parts {
					file.Path += part.AsString()
					if i < len(parts)-1 {
						file.Path += "/"
					}
				}
			}

			torrent.FileList = append(torrent.FileList, file)
			torrent.Length += file.Length
		}
	} else {
		// single file mode
		torrent.Length = infoDict["length"].AsInt()
		torrent.FileList = append(torrent.FileList, NewFile(torrent.Length, torrent.Name))
	}

	if pieceLength, ok := infoDict["piece length"]; ok {
		torrent.PieceLength = pieceLength.AsInt()
	}

	if pieces, ok := infoDict["pieces"]; ok {
		piecesData := pieces.AsBytes()
		for i := 0; i+20 <= len(piecesData); i += 20 {
			torrent.Pieces = append(torrent.Pieces, hex.EncodeToString(piecesData[i:i+20]))
		}
	}

	if isPrivate, ok := infoDict["private"]; ok {
		torrent.IsPrivate = isPrivate.AsInt() == 1
	}

	// The info hash identifies the swarm: SHA-1 over the bencoded info dict.
	torrent.InfoHash = sha1.Sum(rootDict["info"].ToBytes())

	return torrent
}

// TorrentFromBytes parses the raw bytes of a .torrent file.
func TorrentFromBytes(data []byte) (*Torrent, error) {
	bencodeData, _, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding torrent file: %s", err.Error())
	}
	return TorrentFromBencodeData(bencodeData), nil
}
