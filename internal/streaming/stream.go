// Package streaming serves raw audio bytes over HTTP with single-range
// request support, used for playback seeking.
package streaming

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// chunkSize is how much is read from disk per write while streaming.
const chunkSize = 64 * 1024

// ErrUnsatisfiable marks a syntactically valid range that falls outside
// the file.
var ErrUnsatisfiable = fmt.Errorf("requested range not satisfiable")

// ByteRange is an inclusive byte interval within a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange interprets a Range header against a file of the given size.
// An empty header yields (nil, nil): serve the whole file. Either bound
// may be omitted ("bytes=500-", "bytes=-500"). A malformed header is
// ignored the same way; a well-formed range outside the file returns
// ErrUnsatisfiable.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}
	// Only the first range of a multi-range request is honored.
	if idx := strings.IndexByte(spec, ','); idx >= 0 {
		spec = spec[:idx]
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, nil
	}

	if startStr == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return nil, ErrUnsatisfiable
		}
		return &ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return nil, ErrUnsatisfiable
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, ErrUnsatisfiable
		}
		// An explicit end bound must land inside the file. Only the
		// omitted-end form means "through EOF".
		if end >= size {
			return nil, ErrUnsatisfiable
		}
	}
	if start < 0 || start > end || start >= size {
		return nil, ErrUnsatisfiable
	}
	return &ByteRange{Start: start, End: end}, nil
}

// ServeFile streams path to the client, honoring a single Range header.
// Whole-file requests answer 200, ranges 206, invalid ranges 416 with the
// required Content-Range form. The file handle is released when the copy
// finishes or the client goes away.
func ServeFile(w http.ResponseWriter, r *http.Request, path string, logger *logrus.Logger) {
	file, err := os.Open(path)
	if err != nil {
		logger.WithError(err).WithField("file_path", path).Error("Failed to open file for streaming")
		http.Error(w, "Error opening audio file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Error reading file info", http.StatusInternalServerError)
		return
	}
	size := stat.Size()

	w.Header().Set("Content-Type", ContentType(path))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")

	br, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if br == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		copyChunks(w, r, file, size, logger)
		return
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		http.Error(w, "Error seeking audio file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, size))
	w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	copyChunks(w, r, file, br.Length(), logger)
}

// copyChunks copies n bytes in fixed-size chunks, stopping as soon as the
// client disconnects so the handle is not held for an abandoned stream.
func copyChunks(w http.ResponseWriter, r *http.Request, file *os.File, n int64, logger *logrus.Logger) {
	buf := make([]byte, chunkSize)
	ctx := r.Context()
	remaining := n
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		read, err := file.Read(buf[:chunk])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				// Client went away mid-stream.
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			if err != io.EOF {
				logger.WithError(err).Warn("Error reading audio file during stream")
			}
			return
		}
	}
}

// ContentType maps an audio file extension to its MIME type.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".alac":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".wav":
		return "audio/wav"
	case ".aiff":
		return "audio/aiff"
	case ".wma":
		return "audio/x-ms-wma"
	default:
		return "application/octet-stream"
	}
}
