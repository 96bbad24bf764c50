package streaming

import (
	"context"
	"errors"
	"io"
	"sync"

	dlerrors "github.com/tlejmi/monotorrent/internal/errors"
	torrentpkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

// ErrStreamClosed is returned by Read and Seek once a stream has been
// disposed.
var ErrStreamClosed = errors.New("streaming: stream closed")

// TorrentReader is the subset of *pkg/torrent.Torrent that LocalStream needs
// to serve bytes. Accepting this instead of a concrete *torrentpkg.Torrent
// lets tests exercise LocalStream without a live wire connection.
type TorrentReader interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// LocalStream is a blocking, seekable view of a single file within a
// torrent. Reads past the downloaded frontier block until the owning piece
// is verified or the stream is closed; Seek re-aims the underlying picker
// before returning, so a caller's next Read observes the new priorities
// immediately.
type LocalStream struct {
	reader      TorrentReader
	picker      *StreamingPicker
	file        torrentpkg.FileEntry
	pieceLength int64

	onClose func()

	mu     sync.Mutex
	pos    int64
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

var _ io.ReadSeekCloser = (*LocalStream)(nil)

func newLocalStream(r TorrentReader, picker *StreamingPicker, file torrentpkg.FileEntry, pieceLength int64, onClose func()) *LocalStream {
	ctx, cancel := context.WithCancel(context.Background())

	return &LocalStream{
		reader:      r,
		picker:      picker,
		file:        file,
		pieceLength: pieceLength,
		onClose:     onClose,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Length returns the file's total size in bytes.
func (s *LocalStream) Length() int64 {
	return s.file.Length
}

// Pos returns the stream's current offset within the file, for a Provider
// to persist as a resume position on Close.
func (s *LocalStream) Pos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Read blocks until the bytes it needs are downloaded and verified, the
// stream is closed, or the underlying torrent stops. Every successful read
// re-aims the picker's window at the new position, so head_piece advances
// under plain sequential playback and not only on an explicit Seek.
func (s *LocalStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}

	if s.pos >= s.file.Length {
		s.mu.Unlock()
		return 0, io.EOF
	}

	want := int64(len(p))
	if remaining := s.file.Length - s.pos; want > remaining {
		want = remaining
	}

	torrentOffset := s.file.Offset + s.pos

	// Never read past the current piece: a single Read must suspend on at
	// most one piece, not walk across several.
	if s.pieceLength > 0 {
		if pieceRemaining := s.pieceLength - (torrentOffset % s.pieceLength); want > pieceRemaining {
			want = pieceRemaining
		}
	}

	ctx := s.ctx
	s.mu.Unlock()

	if want == 0 {
		return 0, io.EOF
	}

	n, err := s.reader.ReadAt(ctx, p[:want], torrentOffset)

	s.mu.Lock()
	s.pos += int64(n)
	newPos := s.pos
	atEnd := s.pos >= s.file.Length
	s.mu.Unlock()

	if n > 0 {
		s.picker.SeekToPosition(s.file.Offset+newPos, s.pieceLength)
	}

	if err == nil && atEnd {
		return n, io.EOF
	}

	return n, err
}

// Seek repositions the stream and immediately re-aims the streaming picker
// at the piece covering the new position. Only piece priorities change:
// pieces that leave both bands drop back to PiecePriorityNormal, and
// requests already in flight for them are not cancelled.
func (s *LocalStream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.file.Length + offset
	default:
		s.mu.Unlock()
		return 0, errors.New("streaming: invalid whence")
	}

	if newPos < 0 {
		s.mu.Unlock()
		return 0, dlerrors.NewArgumentError(dlerrors.New("streaming: negative position"), "seek")
	}
	if newPos > s.file.Length {
		s.mu.Unlock()
		return 0, dlerrors.NewArgumentError(dlerrors.New("streaming: seek beyond end of file"), "seek")
	}

	s.pos = newPos
	s.mu.Unlock()

	s.picker.SeekToPosition(s.file.Offset+newPos, s.pieceLength)

	return newPos, nil
}

// Close disposes of the stream. It is idempotent: a second call is a no-op
// that returns nil. Any Read blocked in the torrent's ReadAt is woken and
// returns context.Canceled; later calls return ErrStreamClosed.
func (s *LocalStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	if s.onClose != nil {
		s.onClose()
	}

	return nil
}
