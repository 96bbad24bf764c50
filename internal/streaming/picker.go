package streaming

import (
	"sync"

	torrentpkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

// PriorityTarget is the subset of *pkg/torrent.Torrent that StreamingPicker
// needs to steer piece selection. Accepting this instead of a concrete
// *torrentpkg.Torrent lets tests exercise the picker without a live engine.
type PriorityTarget interface {
	SetPiecePriority(index int, priority torrentpkg.PiecePriority)
}

// StreamingPicker is a priority conductor, not a piece picker: peer
// selection, availability tracking, and request bookkeeping all live inside
// the wire engine now. StreamingPicker's only job is translating a moving
// PieceWindow's Urgent/Prefetch/Normal bands into per-piece priority calls
// against that engine.
type StreamingPicker struct {
	mu sync.Mutex

	target PriorityTarget
	window *PieceWindow

	lastUrgent   map[int]bool
	lastPrefetch map[int]bool
}

// NewStreamingPicker builds a picker that drives target's per-piece
// priorities from window.
func NewStreamingPicker(target PriorityTarget, window *PieceWindow) *StreamingPicker {
	return &StreamingPicker{
		target:       target,
		window:       window,
		lastUrgent:   make(map[int]bool),
		lastPrefetch: make(map[int]bool),
	}
}

// Window returns the picker's underlying PieceWindow.
func (sp *StreamingPicker) Window() *PieceWindow {
	return sp.window
}

// Apply pushes changes in the window's bands to the engine since the last
// call: a piece newly inside the Urgent band is set to PiecePriorityNow, one
// newly inside Prefetch to PiecePriorityReadahead, and one that just fell out
// of both bands drops back to PiecePriorityNormal. A call against an
// unchanged window is a no-op, so seeking back to the current position never
// re-issues priorities the engine already has.
func (sp *StreamingPicker) Apply() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	newUrgent := toIndexSet(sp.window.UrgentSet())
	newPrefetch := toIndexSet(sp.window.PrefetchSet())

	for idx := range sp.lastUrgent {
		if !newUrgent[idx] && !newPrefetch[idx] {
			sp.target.SetPiecePriority(idx, torrentpkg.PiecePriorityNormal)
		}
	}
	for idx := range sp.lastPrefetch {
		if !newUrgent[idx] && !newPrefetch[idx] {
			sp.target.SetPiecePriority(idx, torrentpkg.PiecePriorityNormal)
		}
	}

	for idx := range newUrgent {
		if !sp.lastUrgent[idx] {
			sp.target.SetPiecePriority(idx, torrentpkg.PiecePriorityNow)
		}
	}
	for idx := range newPrefetch {
		if !sp.lastPrefetch[idx] {
			sp.target.SetPiecePriority(idx, torrentpkg.PiecePriorityReadahead)
		}
	}

	sp.lastUrgent = newUrgent
	sp.lastPrefetch = newPrefetch
}

func toIndexSet(indices []int) map[int]bool {
	m := make(map[int]bool, len(indices))
	for _, idx := range indices {
		m[idx] = true
	}
	return m
}

// SeekToPosition re-aims the window at the piece covering torrentOffset
// within the torrent (a file's starting offset already folded in by the
// caller), then immediately pushes the resulting bands to the engine.
func (sp *StreamingPicker) SeekToPosition(torrentOffset int64, pieceLength int64) {
	sp.window.SeekToByte(torrentOffset, pieceLength)
	sp.Apply()
}
