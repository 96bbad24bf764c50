package torrent

import (
	"fmt"

	"github.com/zeebo/bencode"
)

// wireMetainfo mirrors the top-level bencode dictionary of a .torrent file.
// Info is kept raw so its exact bytes can be hashed for InfoHash without
// re-encoding.
type wireMetainfo struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	Comment      string             `bencode:"comment,omitempty"`
	CreatedBy    string             `bencode:"created by,omitempty"`
	CreationDate int64              `bencode:"creation date,omitempty"`
	Encoding     string             `bencode:"encoding,omitempty"`
	Info         bencode.RawMessage `bencode:"info"`
}

type wireFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
	MD5Sum string   `bencode:"md5sum,omitempty"`
}

type wireInfo struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length,omitempty"`
	MD5Sum      string     `bencode:"md5sum,omitempty"`
	Files       []wireFile `bencode:"files,omitempty"`
}

// ParseTorrent decodes the given bencoded data into a Metainfo struct.
// It also performs validation to ensure the torrent file is well-formed.
func ParseTorrent(data []byte) (*Metainfo, error) {
	if len(data) == 0 {
		return nil, newValidationError(ErrInvalidTorrentStructure, "data", "empty torrent data")
	}

	var wire wireMetainfo
	if err := bencode.DecodeBytes(data, &wire); err != nil {
		return nil, newValidationError(ErrInvalidTorrentStructure, "bencode",
			fmt.Sprintf("failed to decode bencode data: %v", err))
	}

	if wire.Announce == "" && len(wire.AnnounceList) == 0 {
		return nil, newValidationError(ErrInvalidAnnounceURL, "announce", "missing required announce field")
	}

	if len(wire.Info) == 0 {
		return nil, newValidationError(ErrInvalidInfoDict, "info", "missing required info field")
	}

	var wi wireInfo
	if err := bencode.DecodeBytes(wire.Info, &wi); err != nil {
		return nil, newValidationError(ErrInvalidInfoDict, "info",
			fmt.Sprintf("failed to decode info dictionary: %v", err))
	}

	files := make([]File, len(wi.Files))
	for i, f := range wi.Files {
		files[i] = File{Length: f.Length, Path: f.Path, MD5Sum: f.MD5Sum}
	}

	metainfo := Metainfo{
		Announce:     wire.Announce,
		AnnounceList: wire.AnnounceList,
		Comment:      wire.Comment,
		CreatedBy:    wire.CreatedBy,
		CreationDate: wire.CreationDate,
		Encoding:     wire.Encoding,
		Info: Info{
			Name:        wi.Name,
			PieceLength: wi.PieceLength,
			Pieces:      wi.Pieces,
			Length:      wi.Length,
			MD5Sum:      wi.MD5Sum,
			Files:       files,
		},
	}

	metainfo.setInfoBytes([]byte(wire.Info))

	if err := metainfo.validate(); err != nil {
		return nil, err
	}

	return &metainfo, nil
}

// ensureInfoBytes returns the raw bencoded info dictionary backing m's
// InfoHash, re-encoding it on demand. ParseTorrent already caches this from
// the source file's exact bytes; a Metainfo built directly by hand (tests,
// or metadata fetched over ut_metadata for a magnet link) has none yet, so
// it's produced here instead.
func (m *Metainfo) ensureInfoBytes() ([]byte, error) {
	m.infoBytesMu.RLock()
	if len(m.infoBytes) > 0 {
		cached := m.infoBytes
		m.infoBytesMu.RUnlock()
		return cached, nil
	}
	m.infoBytesMu.RUnlock()

	files := make([]wireFile, len(m.Info.Files))
	for i, f := range m.Info.Files {
		files[i] = wireFile{Length: f.Length, Path: f.Path, MD5Sum: f.MD5Sum}
	}

	encoded, err := bencode.EncodeBytes(wireInfo{
		Name:        m.Info.Name,
		PieceLength: m.Info.PieceLength,
		Pieces:      m.Info.Pieces,
		Length:      m.Info.Length,
		MD5Sum:      m.Info.MD5Sum,
		Files:       files,
	})
	if err != nil {
		return nil, fmt.Errorf("torrent: encoding info dictionary: %w", err)
	}

	m.setInfoBytes(encoded)
	return encoded, nil
}
