package streaming

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	dlerrors "github.com/tlejmi/monotorrent/internal/errors"
)

// streamHandler is a minimal byte-range HTTP adapter over a LocalStream. It
// supports a single "bytes=start-end" range per request; If-Range is
// ignored, and multipart (multi-range) responses are not implemented. This
// is deliberately thin: one route per stream needs no router.
type streamHandler struct {
	provider *Provider
	filePath string
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream, err := h.provider.CreateStream(r.Context(), h.filePath)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	defer stream.Close()

	serveStream(w, r, stream)
}

// serveStream writes stream's contents to w, honouring a single-range
// "bytes=start-end" Range header. Split out from ServeHTTP so the
// range-handling logic can be exercised directly against a LocalStream in
// tests, without needing a live Provider/CreateStream round trip.
func serveStream(w http.ResponseWriter, r *http.Request, stream *LocalStream) {
	length := stream.Length()

	start, end, hasRange, err := parseRange(r.Header.Get("Range"), length)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", length))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")

	if hasRange {
		if _, err := stream.Seek(start, io.SeekStart); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, length))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)

		_, _ = io.CopyN(w, stream, end-start+1)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, stream)
}

// parseRange parses a single-range "bytes=start-end" Range header. It
// returns hasRange=false (and no error) when the header is absent.
func parseRange(header string, length int64) (start, end int64, hasRange bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, fmt.Errorf("unsupported range unit")
	}

	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, fmt.Errorf("multi-range requests are not supported")
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("malformed range")
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		// suffix range: last N bytes
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, false, fmt.Errorf("malformed range")
		}
		if n > length {
			n = length
		}
		start = length - n
		end = length - 1

	case parts[0] != "":
		s, perr := strconv.ParseInt(parts[0], 10, 64)
		if perr != nil || s < 0 {
			return 0, 0, false, fmt.Errorf("malformed range")
		}
		start = s

		if parts[1] == "" {
			end = length - 1
		} else {
			e, eerr := strconv.ParseInt(parts[1], 10, 64)
			if eerr != nil || e < s {
				return 0, 0, false, fmt.Errorf("malformed range")
			}
			end = e
		}

	default:
		return 0, 0, false, fmt.Errorf("malformed range")
	}

	if end >= length {
		end = length - 1
	}
	if start > end || start < 0 {
		return 0, 0, false, fmt.Errorf("range not satisfiable")
	}

	return start, end, true, nil
}

// statusForError maps a DownloadError's Category to an HTTP status, the same
// way provider.go classifies failures for its callers. It falls back to 500
// for errors that don't carry a category, rather than guessing from text.
func statusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var de *dlerrors.DownloadError
	if !dlerrors.As(err, &de) {
		return http.StatusInternalServerError
	}

	switch de.Category {
	case dlerrors.CategoryArgument:
		return http.StatusBadRequest
	case dlerrors.CategoryResource:
		return http.StatusNotFound
	case dlerrors.CategoryState, dlerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
