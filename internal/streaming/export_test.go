package streaming

import (
	"net/http"

	"github.com/tlejmi/monotorrent/internal/engine"
	torrentpkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

// NewLocalStreamForTest exposes newLocalStream to the external test package.
func NewLocalStreamForTest(r TorrentReader, picker *StreamingPicker, file torrentpkg.FileEntry, pieceLength int64) *LocalStream {
	return newLocalStream(r, picker, file, pieceLength, nil)
}

// NewProviderForTest builds a Provider directly from an in-memory Metainfo,
// bypassing NewProvider's file/magnet loading so tests don't need a real
// .torrent file on disk.
func NewProviderForTest(eng *engine.Engine, mi *torrentpkg.Metainfo, opts ProviderOptions) *Provider {
	if opts.HighPriorityCount <= 0 {
		opts.HighPriorityCount = 5
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = 50
	}

	t, err := torrentpkg.NewTorrent(torrentpkg.TorrentOptions{
		Metainfo:       mi,
		SavePath:       "",
		Port:           opts.Port,
		MaxPeers:       opts.MaxPeers,
		PickerStrategy: opts.PickerStrategy,
		UseDHT:         false,
	})
	if err != nil {
		panic(err)
	}

	return &Provider{
		engine:        eng,
		saveDirectory: "",
		opts:          opts,
		state:         StateInactive,
		torrent:       t,
		infoHash:      mi.InfoHash(),
	}
}

// SetOnCloseForTest installs a close callback after construction, for tests
// that want to assert on it without threading it through every call site.
func (s *LocalStream) SetOnCloseForTest(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// WindowForTest exposes the provider's installed PieceWindow so tests can
// assert on its range/head without reaching into the picker.
func (p *Provider) WindowForTest() *PieceWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.picker.Window()
}

// ParseRangeForTest exposes parseRange to the external test package.
func ParseRangeForTest(header string, length int64) (start, end int64, hasRange bool, err error) {
	return parseRange(header, length)
}

// StatusForErrorForTest exposes statusForError to the external test package.
func StatusForErrorForTest(err error) int {
	return statusForError(err)
}

// ServeStreamForTest exposes serveStream to the external test package.
func ServeStreamForTest(w http.ResponseWriter, r *http.Request, stream *LocalStream) {
	serveStream(w, r, stream)
}
