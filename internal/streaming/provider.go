package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/tlejmi/monotorrent/internal/engine"
	dlerrors "github.com/tlejmi/monotorrent/internal/errors"
	"github.com/tlejmi/monotorrent/internal/repository"
	torrentpkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

// ProviderState is the lifecycle state of a StreamProvider.
type ProviderState int

const (
	StateInactive ProviderState = iota
	StateActive
	StatePaused
	StateStopped
)

// ProviderOptions configures the torrent a Provider drives and the window
// its StreamingPicker uses.
type ProviderOptions struct {
	Port              uint16
	MaxPeers          int
	PickerStrategy    torrentpkg.PiecePickerStrategy
	UseDHT            bool
	HighPriorityCount int
	LookAheadCount    int
}

// Provider is a StreamProvider: it owns exactly one torrent's lifecycle and
// hands out at most one live LocalStream at a time. Starting a provider for
// an infohash already registered with the engine fails, enforcing "one
// provider per infohash" across the whole process rather than just within
// this struct.
type Provider struct {
	engine        *engine.Engine
	saveDirectory string
	opts          ProviderOptions

	mu           sync.Mutex
	state        ProviderState
	torrent      *torrentpkg.Torrent
	picker       *StreamingPicker
	activeStream *LocalStream
	infoHash     [20]byte
}

// NewProvider accepts torrentOrMagnet as either a path to a .torrent file or
// a magnet URI and constructs a Provider in the Inactive state. For a magnet
// link, the info dictionary is fetched from peers via the engine's
// ut_metadata exchange before this returns, so infoHash is always known by
// the time NewProvider hands back a Provider. The torrent is not started
// until Start is called.
func NewProvider(eng *engine.Engine, saveDirectory string, torrentOrMagnet string, opts ProviderOptions) (*Provider, error) {
	if eng == nil {
		return nil, dlerrors.NewArgumentError(dlerrors.New("engine is nil"), "provider")
	}

	if opts.HighPriorityCount <= 0 {
		opts.HighPriorityCount = 5
	}
	if opts.LookAheadCount < 0 {
		opts.LookAheadCount = 15
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = 50
	}

	topts := torrentpkg.TorrentOptions{
		SavePath:       saveDirectory,
		Port:           opts.Port,
		MaxPeers:       opts.MaxPeers,
		PickerStrategy: opts.PickerStrategy,
		UseDHT:         opts.UseDHT,
	}

	if strings.HasPrefix(torrentOrMagnet, "magnet:") {
		topts.MagnetURI = torrentOrMagnet
	} else {
		data, err := os.ReadFile(torrentOrMagnet)
		if err != nil {
			return nil, dlerrors.NewArgumentError(err, torrentOrMagnet)
		}

		mi, err := torrentpkg.ParseTorrent(data)
		if err != nil {
			return nil, dlerrors.NewArgumentError(err, torrentOrMagnet)
		}
		topts.Metainfo = mi
	}

	t, err := torrentpkg.NewTorrent(topts)
	if err != nil {
		return nil, dlerrors.NewIOError(err, torrentOrMagnet)
	}

	return &Provider{
		engine:        eng,
		saveDirectory: saveDirectory,
		opts:          opts,
		state:         StateInactive,
		torrent:       t,
		infoHash:      t.Metainfo().InfoHash(),
	}, nil
}

// Start transitions Inactive -> Active. It registers the torrent's infohash
// with the engine (failing if another provider already owns it), installs
// the StreamingPicker, and starts the wire-protocol torrent.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateInactive {
		return dlerrors.NewStateError(dlerrors.New("provider already started"), "start")
	}

	if p.engine.ContainsInfoHash(p.infoHash) {
		return dlerrors.NewConflictError(dlerrors.New("a provider is already active for this infohash"), "start")
	}

	if err := p.engine.RegisterTorrent(p.infoHash, p.torrent); err != nil {
		return dlerrors.NewConflictError(err, "start")
	}

	first, last := 0, p.torrent.Metainfo().PieceCount()-1
	window := NewPieceWindow(first, last, p.opts.HighPriorityCount, p.opts.LookAheadCount)
	p.picker = NewStreamingPicker(p.torrent, window)

	if err := p.torrent.Start(); err != nil {
		p.engine.UnregisterTorrent(p.infoHash)
		return dlerrors.NewStateError(err, "start")
	}

	p.picker.Apply()

	p.state = StateActive

	return nil
}

// Pause transitions Active -> Paused, suspending network activity while
// keeping downloaded pieces, the picker, and the active stream intact.
func (p *Provider) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateActive {
		return dlerrors.NewStateError(dlerrors.New("provider is not active"), "pause")
	}

	if err := p.torrent.Pause(); err != nil {
		return dlerrors.NewStateError(err, "pause")
	}

	p.state = StatePaused

	return nil
}

// Resume transitions Paused -> Active.
func (p *Provider) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePaused {
		return dlerrors.NewStateError(dlerrors.New("provider is not paused"), "resume")
	}

	if err := p.torrent.Start(); err != nil {
		return dlerrors.NewStateError(err, "resume")
	}

	// Pause dropped every piece to PiecePriorityNone; forget the last-applied
	// bands so Apply pushes the whole window to the engine again.
	p.picker.mu.Lock()
	p.picker.lastUrgent = make(map[int]bool)
	p.picker.lastPrefetch = make(map[int]bool)
	p.picker.mu.Unlock()

	p.picker.Apply()

	p.state = StateActive

	return nil
}

// Stop transitions Active or Paused -> Stopped; in any other state it fails
// with a state error. It closes the active stream, stops
// the torrent, and unregisters the infohash so a future provider may claim
// it. A stopped Provider cannot be restarted.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()

	if p.state != StateActive && p.state != StatePaused {
		p.mu.Unlock()
		return dlerrors.NewStateError(dlerrors.New("provider is not active"), "stop")
	}

	stream := p.activeStream
	p.activeStream = nil
	p.state = StateStopped

	p.mu.Unlock()

	// Close outside the lock: it invokes the stream's onClose callback,
	// which itself takes p.mu.
	if stream != nil {
		_ = stream.Close()
	}

	_ = p.torrent.Stop()
	p.engine.UnregisterTorrent(p.infoHash)

	return nil
}

// Active reports whether the provider is currently Active.
func (p *Provider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateActive
}

// Paused reports whether the provider is currently Paused.
func (p *Provider) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StatePaused
}

// Torrent exposes the underlying torrent for read-only use (stats, event
// subscription). Callers must not call its lifecycle methods directly;
// doing so bypasses the Provider's state machine.
func (p *Provider) Torrent() *torrentpkg.Torrent {
	return p.torrent
}

// CreateStream opens a LocalStream over the named file within the
// provider's torrent. Only one stream may be open at a time; a second call
// before the first is closed fails with a state error.
func (p *Provider) CreateStream(ctx context.Context, filePath string) (*LocalStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateActive && p.state != StatePaused {
		return nil, dlerrors.NewStateError(dlerrors.New("provider is not active"), "create_stream")
	}

	if p.activeStream != nil {
		return nil, dlerrors.NewStateError(dlerrors.New("a stream is already active for this provider"), "create_stream")
	}

	var target *torrentpkg.FileEntry
	for _, f := range p.torrent.Metainfo().FileEntries() {
		f := f
		if f.Path == filePath {
			target = &f
			break
		}
	}

	if target == nil {
		return nil, dlerrors.NewArgumentError(dlerrors.New("file not found in torrent"), filePath)
	}

	pieceLength := p.torrent.Metainfo().Info.PieceLength
	firstPiece := int(target.Offset / pieceLength)
	lastPiece := firstPiece
	if target.Length > 0 {
		lastPiece = int((target.Offset + target.Length - 1) / pieceLength)
	}
	p.picker.Window().Rebind(firstPiece, lastPiece)
	p.picker.Window().SeekToByte(target.Offset, pieceLength)
	p.picker.Apply()

	file := *target
	resumeOffset := p.lastPosition(file)

	var stream *LocalStream
	stream = newLocalStream(p.torrent, p.picker, file, pieceLength, func() {
		p.savePosition(file, stream.Pos())
		p.mu.Lock()
		p.activeStream = nil
		p.mu.Unlock()
	})

	p.activeStream = stream

	if resumeOffset > 0 {
		if _, err := stream.Seek(resumeOffset, io.SeekStart); err != nil {
			return nil, dlerrors.NewStateError(err, "create_stream")
		}
	}

	return stream, nil
}

// lastPosition returns a previously saved resume offset for file, or 0 if
// none was saved, the store isn't available, or the saved offset no longer
// makes sense for this file's length.
func (p *Provider) lastPosition(file torrentpkg.FileEntry) int64 {
	store := p.engine.Positions()
	if store == nil {
		return 0
	}

	pos, ok, err := store.FindPosition(p.positionKey(), file.Path)
	if err != nil || !ok {
		return 0
	}
	if pos.Offset <= 0 || pos.Offset >= file.Length {
		return 0
	}

	return pos.Offset
}

// savePosition records where a stream's Read cursor ended up, so the next
// stream over the same file can resume from there. A stream that reached
// the end of the file resets its saved position to the start, since resuming
// at EOF would immediately surface io.EOF with nothing played back.
func (p *Provider) savePosition(file torrentpkg.FileEntry, offset int64) {
	store := p.engine.Positions()
	if store == nil {
		return
	}

	if offset >= file.Length {
		offset = 0
	}

	_ = store.SavePosition(repository.PlaybackPosition{
		InfoHash: p.positionKey(),
		FilePath: file.Path,
		Offset:   offset,
	})
}

func (p *Provider) positionKey() string {
	return fmt.Sprintf("%x", p.infoHash)
}

// CreateHTTPStream returns an http.Handler serving filePath's contents with
// byte-range support. Each request opens its own LocalStream and closes it
// once the response is written, so only one concurrent request per provider
// is actually supported at the transport layer; callers that need more
// should run one Provider per concurrent viewer.
func (p *Provider) CreateHTTPStream(filePath string) http.Handler {
	return &streamHandler{provider: p, filePath: filePath}
}
