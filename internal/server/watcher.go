package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/picccassso/Ariami-sub003/internal/library"
	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/fsnotify/fsnotify"
)

// rescanDebounce is how long the watcher waits after the last filesystem
// event before kicking off a rescan, so a batch copy triggers one scan.
const rescanDebounce = 2 * time.Second

// startWatcher begins recursive monitoring of the library directory.
func (s *Server) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	go s.watchFiles()

	err = filepath.Walk(s.cfg.Library.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return s.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithField("library_path", s.cfg.Library.Path).Info("File watcher started")
	return nil
}

// watchFiles selects on watcher channels and dispatches events.
func (s *Server) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFileEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Error("File watcher error")
		}
	}
}

func (s *Server) handleFileEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}

	isAudio := s.scanner.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudio:
		s.logger.WithField("file_path", event.Name).Info("New audio file detected")
		s.hub.Broadcast(msgSongAdded, map[string]string{"fileName": name})
		s.scheduleRescan()

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isAudio:
		s.logger.WithField("file_path", event.Name).Info("Audio file removed")
		if abs, err := filepath.Abs(event.Name); err == nil {
			songID := models.SongID(abs)
			s.transcoder.InvalidateSong(songID)
			s.hub.Broadcast(msgSongRemoved, map[string]string{"songId": songID, "fileName": name})
		}
		s.scheduleRescan()

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			s.watcher.Add(event.Name)
			s.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// scheduleRescan arms (or re-arms) the debounced rescan timer.
func (s *Server) scheduleRescan() {
	s.rescanMu.Lock()
	defer s.rescanMu.Unlock()
	if s.rescanTimer != nil {
		s.rescanTimer.Stop()
	}
	s.rescanTimer = time.AfterFunc(rescanDebounce, func() {
		if err := s.library.StartScan(s.cfg.Library.Path); err != nil {
			if err == library.ErrScanInProgress {
				// The running scan will pick the change up on the next event.
				s.logger.Debug("Rescan skipped, scan already running")
				return
			}
			s.logger.WithError(err).Error("Rescan failed to start")
		}
	})
}

// stopWatcher closes the watcher (idempotent).
func (s *Server) stopWatcher() {
	s.rescanMu.Lock()
	if s.rescanTimer != nil {
		s.rescanTimer.Stop()
	}
	s.rescanMu.Unlock()
	if s.watcher != nil {
		s.watcher.Close()
	}
}
