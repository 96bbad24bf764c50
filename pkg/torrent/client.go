package torrent

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	anacrolixtorrent "github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/types"
)

// metadataTimeout bounds how long NewTorrent waits for the info dictionary
// to become available, whether that's instant (a parsed .torrent file
// supplies it directly) or peer-fetched (a magnet link's ut_metadata
// exchange).
const metadataTimeout = 30 * time.Second

// PiecePriority mirrors github.com/anacrolix/torrent's own per-piece
// priority scale, so callers of this package never need to import the
// engine directly.
type PiecePriority int

const (
	PiecePriorityNone PiecePriority = iota
	PiecePriorityNormal
	PiecePriorityHigh
	PiecePriorityReadahead
	PiecePriorityNext
	PiecePriorityNow
)

func (p PiecePriority) engine() types.PiecePriority {
	switch p {
	case PiecePriorityNone:
		return anacrolixtorrent.PiecePriorityNone
	case PiecePriorityHigh:
		return anacrolixtorrent.PiecePriorityHigh
	case PiecePriorityReadahead:
		return anacrolixtorrent.PiecePriorityReadahead
	case PiecePriorityNext:
		return anacrolixtorrent.PiecePriorityNext
	case PiecePriorityNow:
		return anacrolixtorrent.PiecePriorityNow
	default:
		return anacrolixtorrent.PiecePriorityNormal
	}
}

// PiecePickerStrategy chooses how a Torrent treats pieces outside a
// streaming.StreamingPicker's Urgent/Prefetch bands: PickerRarest keeps
// downloading the rest of the torrent in the engine's own rarest-first
// order in the background, while PickerSequential does not pend the rest of
// the torrent. Under either strategy, pieces the playback window has passed
// keep PiecePriorityNormal and are still downloaded.
type PiecePickerStrategy int

const (
	PickerRarest PiecePickerStrategy = iota
	PickerSequential
)

// TorrentOptions configures the engine client a Torrent drives.
type TorrentOptions struct {
	// Metainfo is a parsed .torrent file. Either this or MagnetURI must be
	// set.
	Metainfo  *Metainfo
	MagnetURI string

	SavePath       string
	Port           uint16
	MaxPeers       int
	PickerStrategy PiecePickerStrategy
	UseDHT         bool
}

// Torrent wraps a single github.com/anacrolix/torrent swarm, translating
// this package's Metainfo/FileEntry domain model onto the engine's Client
// and Torrent handles. It owns exactly one long-lived Reader: StreamProvider
// never allows more than one active LocalStream per Torrent, so a single
// shared, seek-then-read Reader is enough.
type Torrent struct {
	mu sync.Mutex

	cl   *anacrolixtorrent.Client
	at   *anacrolixtorrent.Torrent
	meta *Metainfo

	strategy PiecePickerStrategy
	reader   anacrolixtorrent.Reader
}

// NewTorrent adds a torrent to a fresh engine client and blocks until its
// info dictionary is available, either because opts.Metainfo already
// carried it or because it was fetched from peers for a magnet link.
func NewTorrent(opts TorrentOptions) (*Torrent, error) {
	if opts.Metainfo == nil && opts.MagnetURI == "" {
		return nil, fmt.Errorf("torrent: either a parsed Metainfo or a magnet URI is required")
	}

	cfg := anacrolixtorrent.NewDefaultClientConfig()
	cfg.DataDir = opts.SavePath
	if cfg.DataDir == "" {
		cfg.DataDir = os.TempDir()
	}
	cfg.NoDHT = !opts.UseDHT
	cfg.Seed = false
	if opts.Port > 0 {
		cfg.ListenPort = int(opts.Port)
	}
	if opts.MaxPeers > 0 {
		cfg.EstablishedConnsPerTorrent = opts.MaxPeers
	}

	cl, err := anacrolixtorrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("torrent: creating engine client: %w", err)
	}

	meta := opts.Metainfo

	var spec *anacrolixtorrent.TorrentSpec
	if opts.MagnetURI != "" {
		link, err := ParseMagnet(opts.MagnetURI)
		if err != nil {
			cl.Close()
			return nil, fmt.Errorf("torrent: parsing magnet link: %w", err)
		}
		spec = specFromMagnet(link)
	} else {
		spec, err = specFromMetainfo(meta)
		if err != nil {
			cl.Close()
			return nil, err
		}
	}

	at, _, err := cl.AddTorrentSpec(spec)
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("torrent: adding torrent to engine: %w", err)
	}

	select {
	case <-at.GotInfo():
	case <-time.After(metadataTimeout):
		cl.Close()
		return nil, fmt.Errorf("torrent: timed out waiting for metadata")
	}

	if meta == nil {
		hash := [20]byte(at.InfoHash())
		meta = metainfoFromEngineInfo(hash, at.Info())
	}

	return &Torrent{cl: cl, at: at, meta: meta, strategy: opts.PickerStrategy}, nil
}

func specFromMetainfo(mi *Metainfo) (*anacrolixtorrent.TorrentSpec, error) {
	infoBytes, err := mi.ensureInfoBytes()
	if err != nil {
		return nil, err
	}

	var trackers [][]string
	if urls := mi.GetAnnounceURLs(); len(urls) > 0 {
		trackers = [][]string{urls}
	}

	return &anacrolixtorrent.TorrentSpec{
		InfoHash:    metainfo.Hash(mi.InfoHash()),
		InfoBytes:   infoBytes,
		Trackers:    trackers,
		DisplayName: mi.Info.Name,
	}, nil
}

func specFromMagnet(link *MagnetLink) *anacrolixtorrent.TorrentSpec {
	var trackers [][]string
	if len(link.Trackers) > 0 {
		trackers = [][]string{link.Trackers}
	}

	return &anacrolixtorrent.TorrentSpec{
		InfoHash:    metainfo.Hash(link.InfoHash),
		Trackers:    trackers,
		DisplayName: link.DisplayName,
	}
}

// metainfoFromEngineInfo builds a domain Metainfo from an info dictionary
// the engine fetched itself, for a magnet link that arrived with nothing
// but an info hash.
func metainfoFromEngineInfo(hash [20]byte, info *metainfo.Info) *Metainfo {
	files := make([]File, len(info.Files))
	for i, f := range info.Files {
		files[i] = File{Length: f.Length, Path: f.Path}
	}

	return &Metainfo{
		infoHash: hash,
		Info: Info{
			Name:        info.Name,
			PieceLength: info.PieceLength,
			Pieces:      string(info.Pieces),
			Length:      info.Length,
			Files:       files,
		},
	}
}

// Metainfo returns the torrent's metadata.
func (t *Torrent) Metainfo() *Metainfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

// Start begins downloading. Under PickerRarest the whole torrent is pended
// in the engine's own rarest-first order, in the background, while a
// StreamingPicker's Urgent/Prefetch bands separately boost playback-critical
// pieces to the front of the queue. Under PickerSequential only pieces given
// a priority through SetPiecePriority are requested; that includes pieces a
// StreamingPicker has dropped back to PiecePriorityNormal.
func (t *Torrent) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reader == nil {
		t.reader = t.at.NewReader()
		t.reader.SetResponsive()
		t.reader.SetReadahead(t.meta.Info.PieceLength * 4)
	}

	if t.strategy == PickerRarest {
		t.at.DownloadAll()
	}

	return nil
}

// Pause drops every piece's priority to None, suspending network activity
// while keeping already-downloaded data and the reader's position intact.
func (t *Torrent) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.at.NumPieces()
	for i := 0; i < n; i++ {
		t.at.Piece(i).SetPriority(anacrolixtorrent.PiecePriorityNone)
	}

	return nil
}

// Stop closes the reader, drops the torrent, and shuts down its engine
// client. A stopped Torrent cannot be restarted.
func (t *Torrent) Stop() error {
	t.mu.Lock()
	reader := t.reader
	t.reader = nil
	t.mu.Unlock()

	if reader != nil {
		_ = reader.Close()
	}

	t.at.Drop()

	if errs := t.cl.Close(); len(errs) > 0 {
		return fmt.Errorf("torrent: closing engine client: %v", errs)
	}

	return nil
}

// SetPiecePriority forwards a priority change to the engine. Index values
// outside the torrent's piece range are ignored.
func (t *Torrent) SetPiecePriority(index int, priority PiecePriority) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= t.at.NumPieces() {
		return
	}

	t.at.Piece(index).SetPriority(priority.engine())
}

// BytesCompleted reports how many bytes of the whole torrent have been
// downloaded and verified.
func (t *Torrent) BytesCompleted() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.at.BytesCompleted()
}

// ReadAt blocks until the requested range is downloaded and verified, ctx
// is done, or the stream's reader is closed out from under it. A read that
// loses its race with ctx tears down the shared reader so a stale
// in-flight Read can't corrupt the position of the next call, and puts a
// fresh reader in its place for the next call.
func (t *Torrent) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return 0, fmt.Errorf("torrent: not started")
	}

	if _, err := reader.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	type result struct {
		n   int
		err error
	}

	done := make(chan result, 1)
	go func() {
		n, err := reader.Read(p)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		t.mu.Lock()
		if t.reader == reader {
			t.reader.Close()
			t.reader = t.at.NewReader()
			t.reader.SetResponsive()
			t.reader.SetReadahead(t.meta.Info.PieceLength * 4)
		}
		t.mu.Unlock()
		return 0, ctx.Err()
	}
}
