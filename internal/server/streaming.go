package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"andante/internal/library"

	"github.com/sirupsen/logrus"
)

const (
	// Buffer size for streaming (64KB)
	streamBufferSize = 64 * 1024
)

// byteRange is a validated inclusive byte range within a file.
type byteRange struct {
	start int64
	end   int64
}

func (br byteRange) length() int64 {
	return br.end - br.start + 1
}

var errUnsatisfiableRange = errors.New("range not satisfiable")

// handleStreamTrack serves audio bytes for /stream/{track_id} with HTTP range
// semantics. This path shares no mutable state with the command plane: it is
// purely (track id, range) -> bytes, so any number of streams run in
// parallel.
func (ps *PlaybackServer) handleStreamTrack(w http.ResponseWriter, r *http.Request) {
	trackID := strings.TrimPrefix(r.URL.Path, "/stream/")
	if trackID == "" || strings.Contains(trackID, "/") {
		ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "Invalid track id", nil)
		return
	}

	file, track, err := ps.library.Open(trackID)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			ps.respondWithError(w, r, http.StatusNotFound, "not_found", "Unknown track id", nil)
		} else {
			ps.respondWithError(w, r, http.StatusInternalServerError, "internal", "Error opening audio file", err)
		}
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		ps.respondWithError(w, r, http.StatusInternalServerError, "internal", "Error reading file info", err)
		return
	}
	fileSize := stat.Size()

	w.Header().Set("Content-Type", track.MIMEType)
	w.Header().Set("Accept-Ranges", "bytes")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		br, err := parseRange(rangeHeader, fileSize)
		if err != nil {
			// Report the valid length so the client can self-correct.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
			ps.respondWithError(w, r, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "Requested range is outside the resource", nil)
			return
		}
		ps.streamRange(w, r, file, fileSize, br)
		return
	}

	// Full content.
	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	if r.Method == http.MethodHead {
		return
	}
	if err := copyChunked(w, file, fileSize); err != nil {
		// Client went away or the disk failed; this stream is done, nothing
		// else is affected.
		ps.logger.WithFields(logrus.Fields{
			"track_id": trackID,
		}).WithError(err).Debug("Stream aborted")
	}
}

// streamRange writes one partial-content response.
func (ps *PlaybackServer) streamRange(w http.ResponseWriter, r *http.Request, file *os.File, fileSize int64, br byteRange) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(br.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := file.Seek(br.start, io.SeekStart); err != nil {
		ps.logger.WithError(err).Error("Seek failed mid-stream")
		return
	}
	if err := copyChunked(w, file, br.length()); err != nil {
		ps.logger.WithError(err).Debug("Range stream aborted")
	}
}

// copyChunked streams exactly n bytes in bounded chunks so a large file is
// never materialized in memory.
func copyChunked(w io.Writer, file *os.File, n int64) error {
	buf := make([]byte, streamBufferSize)
	_, err := io.CopyBuffer(w, io.LimitReader(file, n), buf)
	return err
}

// parseRange parses a single-range header of the forms "bytes=start-end",
// "bytes=start-" and "bytes=-suffix". start >= 0, end < size, start <= end;
// anything else is unsatisfiable.
func parseRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, errUnsatisfiableRange
	}
	if strings.Contains(spec, ",") {
		// Multi-range requests are not supported; browsers do not issue them
		// for audio seeking.
		return byteRange{}, errUnsatisfiableRange
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, errUnsatisfiableRange
	}

	// Suffix form: last N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return byteRange{}, errUnsatisfiableRange
		}
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errUnsatisfiableRange
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return byteRange{}, errUnsatisfiableRange
		}
	}
	if end >= size || start > end {
		return byteRange{}, errUnsatisfiableRange
	}
	return byteRange{start: start, end: end}, nil
}
