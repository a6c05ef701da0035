package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"
)

// hashWindow bounds how much of a file feeds the content hash. Size plus a
// leading window is enough to tell duplicates apart without reading whole
// FLAC files during a scan.
const hashWindow = 256 * 1024

// Filename fallback patterns, tried in order when a file carries no title tag.
var (
	reTrackArtistTitle      = regexp.MustCompile(`^(\d{1,3})\s*-\s*(.+?)\s*-\s*(.+)$`)
	reArtistAlbumTrackTitle = regexp.MustCompile(`^(.+?)\s*-\s*(.+?)\s*-\s*(\d{1,3})\s*-\s*(.+)$`)
	reTrackTitle            = regexp.MustCompile(`^(\d{1,3})[_ ]+(.+)$`)
)

// Extractor reads tags, durations and embedded artwork from audio files,
// consulting and filling the metadata cache as it goes.
type Extractor struct {
	cache  *Cache // may be nil; extraction then always hits the file
	logger *logrus.Logger
}

// NewExtractor creates an extractor backed by the given cache.
func NewExtractor(cache *Cache, logger *logrus.Logger) *Extractor {
	return &Extractor{cache: cache, logger: logger}
}

// Extract produces the tag snapshot for an audio file. Tag-parse failures
// degrade to filename-derived metadata; only a missing or unreadable file
// is an error. Duration is not resolved here (see Duration), it is probed
// lazily because it is comparatively expensive.
func (e *Extractor) Extract(path string) (models.Song, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if e.cache != nil {
		if song, ok := e.cache.Get(absPath); ok {
			return song, nil
		}
	}

	file, err := os.Open(absPath)
	if err != nil {
		return models.Song{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return models.Song{}, fmt.Errorf("failed to stat audio file: %w", err)
	}

	song := models.Song{
		ID:       models.SongID(absPath),
		FilePath: absPath,
		FileSize: stat.Size(),
	}
	song.ContentHash = e.hashContent(file, stat.Size())

	if _, err := file.Seek(0, io.SeekStart); err == nil {
		if meta, err := tag.ReadFrom(file); err == nil {
			e.applyTags(&song, meta)
		} else {
			e.logger.WithError(err).WithField("file_path", absPath).Debug("Tag parse failed, using filename metadata")
		}
	}

	if song.Title == "" {
		e.applyFilename(&song, absPath)
	}
	if song.Artist == "" {
		song.Artist = "Unknown Artist"
	}

	if e.cache != nil {
		e.cache.Put(absPath, song)
	}
	return song, nil
}

// applyTags fills song fields from a parsed tag container. The tag library
// already resolves each field across the synonymous keys of every container
// format (ID3v2 frames, MP4 atoms, Vorbis comments).
func (e *Extractor) applyTags(song *models.Song, meta tag.Metadata) {
	song.Title = strings.TrimSpace(meta.Title())
	song.Artist = strings.TrimSpace(meta.Artist())
	song.Album = strings.TrimSpace(meta.Album())
	song.AlbumArtist = strings.TrimSpace(meta.AlbumArtist())
	song.Genre = strings.TrimSpace(meta.Genre())
	song.Year = meta.Year()
	song.TrackNumber, _ = meta.Track()
	song.DiscNumber, _ = meta.Disc()
	song.HasArtwork = meta.Picture() != nil
}

// applyFilename derives title, and when the pattern allows it artist and
// track number, from the file's base name.
func (e *Extractor) applyFilename(song *models.Song, path string) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if m := reTrackArtistTitle.FindStringSubmatch(base); m != nil {
		song.TrackNumber = atoiOrZero(m[1])
		if song.Artist == "" {
			song.Artist = strings.TrimSpace(m[2])
		}
		song.Title = strings.TrimSpace(m[3])
		return
	}
	if m := reArtistAlbumTrackTitle.FindStringSubmatch(base); m != nil {
		if song.Artist == "" {
			song.Artist = strings.TrimSpace(m[1])
		}
		if song.Album == "" {
			song.Album = strings.TrimSpace(m[2])
		}
		song.TrackNumber = atoiOrZero(m[3])
		song.Title = strings.TrimSpace(m[4])
		return
	}
	if m := reTrackTitle.FindStringSubmatch(base); m != nil {
		song.TrackNumber = atoiOrZero(m[1])
		song.Title = strings.TrimSpace(m[2])
		return
	}
	song.Title = base
}

func atoiOrZero(s string) int {
	// Track and disc tags often come as "n/total"; only the numerator counts.
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// hashContent hashes the file size plus a leading window of the content.
func (e *Extractor) hashContent(file *os.File, size int64) string {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d:", size)
	if _, err := io.CopyN(h, file, hashWindow); err != nil && err != io.EOF {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Artwork extracts the embedded artwork from a file, returning the image
// bytes and their MIME type.
func (e *Extractor) Artwork(path string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tags: %w", err)
	}
	picture := meta.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return nil, "", fmt.Errorf("no embedded artwork in %s", filepath.Base(path))
	}
	return picture.Data, SniffImageMime(picture.Data), nil
}

// SniffImageMime guesses an image MIME type from leading magic bytes.
func SniffImageMime(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
		return "image/gif"
	}
	return "application/octet-stream"
}
