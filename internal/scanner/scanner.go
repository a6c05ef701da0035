package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultExtensions is the allow-list of audio file extensions considered
// during a library scan.
var DefaultExtensions = []string{
	".mp3", ".m4a", ".flac", ".ogg", ".wav", ".aiff", ".opus", ".wma", ".aac", ".alac",
}

// Scanner discovers candidate audio files under a root directory. It is
// stateless; every Walk restarts discovery from scratch.
type Scanner struct {
	extensions map[string]struct{}
	logger     *logrus.Logger
}

// New creates a scanner for the given extension allow-list. An empty list
// falls back to DefaultExtensions.
func New(extensions []string, logger *logrus.Logger) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{extensions: allowed, logger: logger}
}

// IsAudioFile reports whether the path carries a supported audio extension.
func (s *Scanner) IsAudioFile(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Walk traverses root and invokes fn for each matching audio file.
// Unreadable directories and files are logged and skipped; a single bad
// entry never aborts the walk. fn may return filepath.SkipAll to stop early.
func (s *Scanner) Walk(root string, fn func(path string, info os.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// Hidden directories (e.g. .Trash, sync caches) are not part of the library.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !s.IsAudioFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Skipping file without stat info")
			return nil
		}
		return fn(path, info)
	})
}

// Count walks root and returns how many audio files it contains. Used to
// turn per-file progress into a percentage before the extraction pass.
func (s *Scanner) Count(root string) int {
	count := 0
	_ = s.Walk(root, func(string, os.FileInfo) error {
		count++
		return nil
	})
	return count
}
