package streaming_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlerrors "github.com/tlejmi/monotorrent/internal/errors"
	"github.com/tlejmi/monotorrent/internal/streaming"
	torrentpkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

func TestParseRange_NoHeader(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("", 100)
	require.NoError(t, err)
	assert.False(t, hasRange)
	assert.Zero(t, start)
	assert.Zero(t, end)
}

func TestParseRange_SuffixRange(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("bytes=-10", 100)
	require.NoError(t, err)
	require.True(t, hasRange)
	assert.Equal(t, int64(90), start)
	assert.Equal(t, int64(99), end)
}

func TestParseRange_SuffixRangeLargerThanLength(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("bytes=-1000", 100)
	require.NoError(t, err)
	require.True(t, hasRange)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(99), end)
}

func TestParseRange_OpenEndedRange(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("bytes=50-", 100)
	require.NoError(t, err)
	require.True(t, hasRange)
	assert.Equal(t, int64(50), start)
	assert.Equal(t, int64(99), end)
}

func TestParseRange_ExplicitStartEnd(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("bytes=10-19", 100)
	require.NoError(t, err)
	require.True(t, hasRange)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(19), end)
}

func TestParseRange_EndClampedToLength(t *testing.T) {
	start, end, hasRange, err := streaming.ParseRangeForTest("bytes=90-1000", 100)
	require.NoError(t, err)
	require.True(t, hasRange)
	assert.Equal(t, int64(90), start)
	assert.Equal(t, int64(99), end)
}

func TestParseRange_MultiRangeRejected(t *testing.T) {
	_, _, _, err := streaming.ParseRangeForTest("bytes=0-10,20-30", 100)
	assert.Error(t, err)
}

func TestParseRange_UnsupportedUnit(t *testing.T) {
	_, _, _, err := streaming.ParseRangeForTest("items=0-10", 100)
	assert.Error(t, err)
}

func TestParseRange_MalformedSpec(t *testing.T) {
	_, _, _, err := streaming.ParseRangeForTest("bytes=abc", 100)
	assert.Error(t, err)
}

func TestParseRange_NotSatisfiable(t *testing.T) {
	_, _, _, err := streaming.ParseRangeForTest("bytes=200-300", 100)
	assert.Error(t, err)
}

func TestStatusForError_Nil(t *testing.T) {
	assert.Equal(t, http.StatusOK, streaming.StatusForErrorForTest(nil))
}

func TestStatusForError_ByCategory(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"argument", dlerrors.NewArgumentError(dlerrors.New("bad arg"), "r"), http.StatusBadRequest},
		{"resource", dlerrors.NewResourceError(dlerrors.New("missing"), "r"), http.StatusNotFound},
		{"state", dlerrors.NewStateError(dlerrors.New("bad state"), "r"), http.StatusConflict},
		{"conflict", dlerrors.NewConflictError(dlerrors.New("taken"), "r"), http.StatusConflict},
		{"io", dlerrors.NewIOError(dlerrors.New("disk"), "r"), http.StatusInternalServerError},
		{"uncategorized", dlerrors.New("plain error"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, streaming.StatusForErrorForTest(tc.err))
		})
	}
}

func TestServeStream_FullBodyOK(t *testing.T) {
	data := make([]byte, pieceCount*pieceLength)
	for i := range data {
		data[i] = byte(i)
	}
	reader := newFakeTorrentReader(data)
	sp := streaming.NewStreamingPicker(newFakePriorityTarget(), streaming.NewPieceWindow(0, pieceCount-1, highPriorityCount, lookAheadCount))
	stream := streaming.NewLocalStreamForTest(reader, sp, torrentpkg.FileEntry{Path: "f", Length: int64(len(data))}, pieceLength)
	defer stream.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()

	streaming.ServeStreamForTest(rec, req, stream)

	resp := rec.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
}

func TestServeStream_RangeRequestReturnsPartialContent(t *testing.T) {
	data := make([]byte, pieceCount*pieceLength)
	for i := range data {
		data[i] = byte(i)
	}
	reader := newFakeTorrentReader(data)
	sp := streaming.NewStreamingPicker(newFakePriorityTarget(), streaming.NewPieceWindow(0, pieceCount-1, highPriorityCount, lookAheadCount))
	stream := streaming.NewLocalStreamForTest(reader, sp, torrentpkg.FileEntry{Path: "f", Length: int64(len(data))}, pieceLength)
	defer stream.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Range", "bytes=10-19")
	rec := httptest.NewRecorder()

	streaming.ServeStreamForTest(rec, req, stream)

	resp := rec.Result()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 10-19/1048576", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data[10:20], body)
}

func TestServeStream_UnsatisfiableRangeReturns416(t *testing.T) {
	data := make([]byte, 100)
	reader := newFakeTorrentReader(data)
	sp := streaming.NewStreamingPicker(newFakePriorityTarget(), streaming.NewPieceWindow(0, pieceCount-1, highPriorityCount, lookAheadCount))
	stream := streaming.NewLocalStreamForTest(reader, sp, torrentpkg.FileEntry{Path: "f", Length: int64(len(data))}, pieceLength)
	defer stream.Close()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Range", "bytes=200-300")
	rec := httptest.NewRecorder()

	streaming.ServeStreamForTest(rec, req, stream)

	resp := rec.Result()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */100", resp.Header.Get("Content-Range"))
}
