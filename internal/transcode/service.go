// Package transcode produces quality-reduced AAC renditions of library
// files through an external ffmpeg binary, caching them on disk under a
// byte budget with LRU eviction.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Quality is a named transcoding preset.
type Quality string

const (
	QualityHigh   Quality = "high"   // pass-through, original bytes
	QualityMedium Quality = "medium" // 192 kbps AAC
	QualityLow    Quality = "low"    // 96 kbps AAC
)

// ParseQuality maps a request parameter to a preset, defaulting to high.
func ParseQuality(s string) Quality {
	switch s {
	case string(QualityMedium):
		return QualityMedium
	case string(QualityLow):
		return QualityLow
	default:
		return QualityHigh
	}
}

func (q Quality) bitrate() string {
	if q == QualityLow {
		return "96k"
	}
	return "192k"
}

// evictionDebounce coalesces eviction checks so a burst of cache writes
// costs one accounting pass, not one per file.
const evictionDebounce = 2 * time.Second

// evictionGrace protects entries served recently from eviction even when
// the cache is over budget, so a just-played file is not thrashed.
const evictionGrace = time.Hour

// encodeTimeout bounds a single ffmpeg invocation.
const encodeTimeout = 2 * time.Minute

// Config holds the transcoding service settings.
type Config struct {
	FFmpegPath    string // binary name or path, e.g. "ffmpeg"
	CacheDir      string // renditions live under CacheDir/<quality>/
	MaxCacheBytes int64  // eviction budget for all renditions combined
}

// Service transcodes on demand with per-(song, quality) de-duplication:
// concurrent requests for the same pending rendition await one encode.
type Service struct {
	cfg    Config
	store  *Store
	logger *logrus.Logger

	group      singleflight.Group
	encoderOK  bool
	ffmpegPath string

	evictMu      sync.Mutex
	evictPending bool
}

// NewService creates the transcoding service. A missing encoder binary is
// a warning, not an error: every request then falls back to the original
// file, and the misconfiguration is visible once in the log instead of
// failing every request.
func NewService(cfg Config, store *Store, logger *logrus.Logger) *Service {
	s := &Service{cfg: cfg, store: store, logger: logger}

	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		logger.WithField("ffmpeg_path", path).Warn("ffmpeg not found; transcoding disabled, serving originals")
	} else {
		s.encoderOK = true
		s.ffmpegPath = resolved
	}
	return s
}

// Available reports whether the external encoder was found at startup.
func (s *Service) Available() bool {
	return s.encoderOK
}

// Path resolves the file to serve for (songID, quality). High quality and
// any encoder failure both yield the original path; medium/low return a
// cached rendition, encoding it first if needed.
func (s *Service) Path(ctx context.Context, sourcePath, songID string, quality Quality) (string, error) {
	if quality == QualityHigh || !s.encoderOK {
		return sourcePath, nil
	}

	if entry, ok := s.store.Get(songID, quality); ok {
		if _, err := os.Stat(entry.FilePath); err == nil {
			s.store.Touch(songID, quality, time.Now())
			return entry.FilePath, nil
		}
		// File vanished behind our back; drop the record and re-encode.
		if err := s.store.Delete(songID, quality); err != nil {
			s.logger.WithError(err).Warn("Failed to drop orphaned cache record")
		}
	}

	key := songID + ":" + string(quality)
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.encode(ctx, sourcePath, songID, quality)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"song_id": songID,
			"quality": quality,
		}).Warn("Transcode failed, serving original")
		return sourcePath, nil
	}
	return result.(string), nil
}

func (s *Service) encode(ctx context.Context, sourcePath, songID string, quality Quality) (string, error) {
	outDir := filepath.Join(s.cfg.CacheDir, string(quality))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	outPath := filepath.Join(outDir, songID+".m4a")

	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", sourcePath,
		"-vn",
		"-c:a", "aac",
		"-b:a", quality.bitrate(),
		"-movflags", "+faststart",
		outPath,
	}
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	stat, err := os.Stat(outPath)
	if err != nil {
		return "", fmt.Errorf("rendition missing after encode: %w", err)
	}

	now := time.Now()
	if err := s.store.Put(Entry{
		SongID:     songID,
		Quality:    quality,
		FilePath:   outPath,
		Size:       stat.Size(),
		CreatedAt:  now,
		LastAccess: now,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to record cache entry")
	}

	s.logger.WithFields(logrus.Fields{
		"song_id":  songID,
		"quality":  quality,
		"size":     stat.Size(),
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("Transcoded rendition")

	s.scheduleEviction()
	return outPath, nil
}

// InvalidateSong removes every quality variant for a song. Called when
// the underlying file changes or is removed from the library.
func (s *Service) InvalidateSong(songID string) {
	paths, err := s.store.DeleteSong(songID)
	if err != nil {
		s.logger.WithError(err).WithField("song_id", songID).Warn("Failed to invalidate renditions")
		return
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("file_path", p).Warn("Failed to remove rendition")
		}
	}
}

// scheduleEviction arms a debounced eviction pass: at most one per window
// no matter how many writes arrive.
func (s *Service) scheduleEviction() {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()
	if s.evictPending {
		return
	}
	s.evictPending = true
	time.AfterFunc(evictionDebounce, func() {
		s.evictMu.Lock()
		s.evictPending = false
		s.evictMu.Unlock()
		s.evictOnce(time.Now())
	})
}

// evictOnce removes least-recently-accessed renditions until the cache
// fits the budget, skipping anything accessed within the grace window.
func (s *Service) evictOnce(now time.Time) {
	if s.cfg.MaxCacheBytes <= 0 {
		return
	}
	total, err := s.store.TotalSize()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to size transcode cache")
		return
	}
	if total <= s.cfg.MaxCacheBytes {
		return
	}

	entries, err := s.store.ListByAccess()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list transcode cache")
		return
	}
	for _, entry := range entries {
		if total <= s.cfg.MaxCacheBytes {
			break
		}
		if now.Sub(entry.LastAccess) < evictionGrace {
			continue
		}
		if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("file_path", entry.FilePath).Warn("Failed to evict rendition")
			continue
		}
		if err := s.store.Delete(entry.SongID, entry.Quality); err != nil {
			s.logger.WithError(err).Warn("Failed to drop evicted cache record")
			continue
		}
		total -= entry.Size
		s.logger.WithFields(logrus.Fields{
			"song_id": entry.SongID,
			"quality": entry.Quality,
			"size":    entry.Size,
		}).Debug("Evicted rendition")
	}
}
