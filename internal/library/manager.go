package library

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/picccassso/Ariami-sub003/internal/metadata"
	"github.com/picccassso/Ariami-sub003/internal/scanner"
	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrScanInProgress is returned when a scan is requested while another is
// still running. Scans are rejected, never queued.
var ErrScanInProgress = fmt.Errorf("library scan already in progress")

// artworkConcurrency bounds simultaneous artwork extractions so a burst of
// thumbnail requests cannot pin every file handle at once.
const artworkConcurrency = 6

// ScanStage identifies a phase of the indexing pipeline.
type ScanStage string

const (
	StageDiscovering ScanStage = "discovering"
	StageExtracting  ScanStage = "extracting"
	StageOrganizing  ScanStage = "organizing"
	StageComplete    ScanStage = "complete"
	StageFailed      ScanStage = "failed"
)

// ScanProgress is a discrete progress event emitted by a running scan.
type ScanProgress struct {
	Stage   ScanStage `json:"stage"`
	Message string    `json:"message"`
	Percent float64   `json:"percent"`
}

type artworkResult struct {
	data []byte
	mime string
	err  error
}

// Manager owns the in-memory library index. Scans run on a background
// goroutine and publish a freshly built snapshot through a single atomic
// swap; request handlers only ever see complete indexes.
type Manager struct {
	scanner   *scanner.Scanner
	extractor *metadata.Extractor
	metaCache *metadata.Cache
	logger    *logrus.Logger

	current  atomic.Pointer[models.Library]
	scanning atomic.Bool

	progressMu sync.Mutex
	onProgress []func(ScanProgress)

	subMu sync.Mutex
	subs  map[chan *models.Library]struct{}

	durMu     sync.Mutex
	durations map[string]int

	artSem *semaphore.Weighted
	artMu  sync.Mutex
	art    map[string]*artworkResult
}

// NewManager wires the indexing pipeline together.
func NewManager(sc *scanner.Scanner, ex *metadata.Extractor, cache *metadata.Cache, logger *logrus.Logger) *Manager {
	m := &Manager{
		scanner:   sc,
		extractor: ex,
		metaCache: cache,
		logger:    logger,
		subs:      make(map[chan *models.Library]struct{}),
		durations: make(map[string]int),
		artSem:    semaphore.NewWeighted(artworkConcurrency),
		art:       make(map[string]*artworkResult),
	}
	m.current.Store(models.EmptyLibrary())
	return m
}

// Library returns the current snapshot. Never nil.
func (m *Manager) Library() *models.Library {
	return m.current.Load()
}

// Scanning reports whether a scan is currently running.
func (m *Manager) Scanning() bool {
	return m.scanning.Load()
}

// OnProgress registers a callback invoked for each scan progress event.
// Register before starting a scan; callbacks run on the scan goroutine.
func (m *Manager) OnProgress(fn func(ScanProgress)) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	m.onProgress = append(m.onProgress, fn)
}

// Subscribe returns a channel receiving each completed library snapshot.
// The channel is buffered; a slow consumer drops snapshots rather than
// stalling the scan. Callers must Unsubscribe on shutdown.
func (m *Manager) Subscribe() chan *models.Library {
	ch := make(chan *models.Library, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (m *Manager) Unsubscribe(ch chan *models.Library) {
	m.subMu.Lock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
	m.subMu.Unlock()
}

// StartScan launches a scan of root on a background goroutine. A scan
// already in progress makes this a rejected no-op.
func (m *Manager) StartScan(root string) error {
	if !m.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	go func() {
		defer m.scanning.Store(false)
		if err := m.runScan(root); err != nil {
			m.logger.WithError(err).WithField("library_path", root).Error("Library scan failed")
			m.emit(ScanProgress{Stage: StageFailed, Message: err.Error()})
		}
	}()
	return nil
}

// ScanNow runs a scan synchronously. Used by the one-shot scan command.
func (m *Manager) ScanNow(root string) error {
	if !m.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer m.scanning.Store(false)
	return m.runScan(root)
}

func (m *Manager) runScan(root string) error {
	started := time.Now()
	m.emit(ScanProgress{Stage: StageDiscovering, Message: "Counting audio files"})

	total := m.scanner.Count(root)
	m.emit(ScanProgress{
		Stage:   StageDiscovering,
		Message: fmt.Sprintf("Found %d audio files", total),
		Percent: 5,
	})

	songs, err := m.extractAll(root, total)
	if err != nil {
		return err
	}

	m.emit(ScanProgress{Stage: StageOrganizing, Message: "Organizing library", Percent: 90})

	// Worker completion order is nondeterministic; restore walk order so
	// first-seen semantics (dedup, album grouping) are stable across scans.
	sort.Slice(songs, func(i, j int) bool { return songs[i].FilePath < songs[j].FilePath })

	songs = Deduplicate(songs, m.logger)
	albums, standalone := BuildAlbums(songs)

	lib := &models.Library{
		Albums:    albums,
		Songs:     standalone,
		ScannedAt: time.Now().UTC(),
	}
	m.current.Store(lib)

	// Artwork negatives may no longer hold against the fresh index.
	m.artMu.Lock()
	m.art = make(map[string]*artworkResult)
	m.artMu.Unlock()

	if m.metaCache != nil {
		if err := m.metaCache.Save(); err != nil {
			m.logger.WithError(err).Warn("Could not persist metadata cache")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"songs":    lib.SongCount(),
		"albums":   len(albums),
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("Library scan complete")
	m.emit(ScanProgress{
		Stage:   StageComplete,
		Message: fmt.Sprintf("Indexed %d songs in %d albums", lib.SongCount(), len(albums)),
		Percent: 100,
	})
	m.notify(lib)
	return nil
}

// extractAll runs metadata extraction over a worker pool sized to the
// machine, reporting percentage progress as files finish.
func (m *Manager) extractAll(root string, total int) ([]models.Song, error) {
	jobs := make(chan string, 100)
	results := make(chan models.Song, 100)

	var wg sync.WaitGroup
	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				song, err := m.extractor.Extract(path)
				if err != nil {
					m.logger.WithError(err).WithField("file_path", path).Warn("Skipping unreadable file")
					continue
				}
				results <- song
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	walkErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		walkErr <- m.scanner.Walk(root, func(path string, _ os.FileInfo) error {
			jobs <- path
			return nil
		})
	}()

	var songs []models.Song
	done := 0
	for song := range results {
		songs = append(songs, song)
		done++
		if total > 0 && done%25 == 0 {
			m.emit(ScanProgress{
				Stage:   StageExtracting,
				Message: fmt.Sprintf("Extracted %d/%d", done, total),
				Percent: 5 + 85*float64(done)/float64(total),
			})
		}
	}
	return songs, <-walkErr
}

func (m *Manager) emit(p ScanProgress) {
	m.progressMu.Lock()
	callbacks := make([]func(ScanProgress), len(m.onProgress))
	copy(callbacks, m.onProgress)
	m.progressMu.Unlock()
	for _, fn := range callbacks {
		fn(p)
	}
}

func (m *Manager) notify(lib *models.Library) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- lib:
		default:
		}
	}
}

// SongPath resolves a song ID to its file path in the current snapshot.
func (m *Manager) SongPath(id string) (string, bool) {
	song, ok := m.Library().FindSong(id)
	if !ok {
		return "", false
	}
	return song.FilePath, true
}

// SongByID returns the song for an ID in the current snapshot.
func (m *Manager) SongByID(id string) (models.Song, bool) {
	return m.Library().FindSong(id)
}

// resolveDuration probes a song's duration on first use and caches the
// result by song ID for the life of the process.
func (m *Manager) resolveDuration(song models.Song) int {
	if song.Duration > 0 {
		return song.Duration
	}
	m.durMu.Lock()
	if d, ok := m.durations[song.ID]; ok {
		m.durMu.Unlock()
		return d
	}
	m.durMu.Unlock()

	d, err := m.extractor.Duration(song.FilePath)
	if err != nil {
		m.logger.WithError(err).WithField("file_path", song.FilePath).Debug("Duration probe failed")
		d = 0
	}
	m.durMu.Lock()
	m.durations[song.ID] = d
	m.durMu.Unlock()
	return d
}

// AlbumDetail returns an album with member durations resolved. The copy
// leaves the snapshot untouched.
func (m *Manager) AlbumDetail(id string) (*models.Album, bool) {
	album, ok := m.Library().Albums[id]
	if !ok {
		return nil, false
	}
	detail := *album
	detail.Songs = make([]models.Song, len(album.Songs))
	for i, song := range album.Songs {
		song.Duration = m.resolveDuration(song)
		detail.Songs[i] = song
	}
	return &detail, true
}

// Artwork returns the embedded artwork for an album, extracting it lazily
// on first request. Failures are cached too, so a file without artwork is
// not re-decoded on every thumbnail request.
func (m *Manager) Artwork(ctx context.Context, albumID string) ([]byte, string, error) {
	m.artMu.Lock()
	if cached, ok := m.art[albumID]; ok {
		m.artMu.Unlock()
		return cached.data, cached.mime, cached.err
	}
	m.artMu.Unlock()

	album, ok := m.Library().Albums[albumID]
	if !ok {
		return nil, "", fmt.Errorf("unknown album %s", albumID)
	}

	if err := m.artSem.Acquire(ctx, 1); err != nil {
		return nil, "", err
	}
	data, mime, err := m.extractor.Artwork(album.ArtworkPath)
	m.artSem.Release(1)

	m.artMu.Lock()
	m.art[albumID] = &artworkResult{data: data, mime: mime, err: err}
	m.artMu.Unlock()
	return data, mime, err
}

// AlbumSummary is the song-less album projection used by index responses.
type AlbumSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Year        int    `json:"year,omitempty"`
	Compilation bool   `json:"compilation"`
	SongCount   int    `json:"songCount"`
}

// LibraryResponse is the full index projection served by /api/library.
type LibraryResponse struct {
	Albums    []AlbumSummary `json:"albums"`
	Songs     []models.Song  `json:"songs"`
	SongCount int            `json:"songCount"`
	ScannedAt time.Time      `json:"scannedAt"`
}

// Albums returns album summaries in a stable order.
func (m *Manager) Albums() []AlbumSummary {
	lib := m.Library()
	summaries := make([]AlbumSummary, 0, len(lib.Albums))
	for _, album := range lib.Albums {
		summaries = append(summaries, AlbumSummary{
			ID:          album.ID,
			Title:       album.Title,
			Artist:      album.Artist,
			Year:        album.Year,
			Compilation: album.Compilation,
			SongCount:   len(album.Songs),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Artist != summaries[j].Artist {
			return summaries[i].Artist < summaries[j].Artist
		}
		if summaries[i].Title != summaries[j].Title {
			return summaries[i].Title < summaries[j].Title
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Songs returns every indexed song in a stable order.
func (m *Manager) Songs() []models.Song {
	lib := m.Library()
	songs := make([]models.Song, 0, lib.SongCount())
	for _, album := range lib.Albums {
		songs = append(songs, album.Songs...)
	}
	songs = append(songs, lib.Songs...)
	sort.Slice(songs, func(i, j int) bool {
		if songs[i].Artist != songs[j].Artist {
			return songs[i].Artist < songs[j].Artist
		}
		if songs[i].Album != songs[j].Album {
			return songs[i].Album < songs[j].Album
		}
		if songs[i].TrackNumber != songs[j].TrackNumber {
			return songs[i].TrackNumber < songs[j].TrackNumber
		}
		return songs[i].ID < songs[j].ID
	})
	return songs
}

// Summary returns the full index projection.
func (m *Manager) Summary() LibraryResponse {
	lib := m.Library()
	return LibraryResponse{
		Albums:    m.Albums(),
		Songs:     lib.Songs,
		SongCount: lib.SongCount(),
		ScannedAt: lib.ScannedAt,
	}
}
