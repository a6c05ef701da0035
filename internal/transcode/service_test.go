package transcode

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "transcode.db"), testLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeRendition(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestParseQuality(t *testing.T) {
	testCases := []struct {
		in   string
		want Quality
	}{
		{"high", QualityHigh},
		{"medium", QualityMedium},
		{"low", QualityLow},
		{"", QualityHigh},
		{"lossless", QualityHigh},
	}
	for _, tc := range testCases {
		if got := ParseQuality(tc.in); got != tc.want {
			t.Errorf("ParseQuality(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().Truncate(time.Second)
	entry := Entry{
		SongID:     "abc123",
		Quality:    QualityMedium,
		FilePath:   "/cache/medium/abc123.m4a",
		Size:       4096,
		CreatedAt:  now,
		LastAccess: now,
	}
	if err := store.Put(entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok := store.Get("abc123", QualityMedium)
	if !ok {
		t.Fatal("expected a hit")
	}
	if got.FilePath != entry.FilePath || got.Size != entry.Size {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.LastAccess.Equal(now) {
		t.Errorf("expected last access %v, got %v", now, got.LastAccess)
	}

	if _, ok := store.Get("abc123", QualityLow); ok {
		t.Error("expected a miss for the other quality")
	}

	total, err := store.TotalSize()
	if err != nil {
		t.Fatalf("total size failed: %v", err)
	}
	if total != 4096 {
		t.Errorf("expected total 4096, got %d", total)
	}
}

func TestStoreTouchReordersAccess(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		put := Entry{
			SongID:     id,
			Quality:    QualityLow,
			FilePath:   "/cache/low/" + id + ".m4a",
			Size:       100,
			CreatedAt:  base,
			LastAccess: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(put); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	store.Touch("old", QualityLow, time.Now())

	entries, err := store.ListByAccess()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].SongID != "mid" || entries[2].SongID != "old" {
		t.Errorf("expected touched entry at warm end, got order %s, %s, %s",
			entries[0].SongID, entries[1].SongID, entries[2].SongID)
	}
}

func TestStoreDeleteSongReturnsPaths(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for _, q := range []Quality{QualityMedium, QualityLow} {
		err := store.Put(Entry{
			SongID: "abc", Quality: q,
			FilePath: "/cache/" + string(q) + "/abc.m4a",
			Size:     1, CreatedAt: now, LastAccess: now,
		})
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	paths, err := store.DeleteSong("abc")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if _, ok := store.Get("abc", QualityMedium); ok {
		t.Error("expected records gone after delete")
	}
}

func TestPathHighQualityPassThrough(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(Config{FFmpegPath: "ffmpeg-that-does-not-exist"}, store, testLogger())

	path, err := svc.Path(context.Background(), "/music/song.flac", "abc", QualityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/music/song.flac" {
		t.Errorf("expected pass-through, got %s", path)
	}
}

func TestPathFallsBackWithoutEncoder(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(Config{FFmpegPath: "ffmpeg-that-does-not-exist"}, store, testLogger())

	if svc.Available() {
		t.Fatal("expected encoder unavailable")
	}
	path, err := svc.Path(context.Background(), "/music/song.flac", "abc", QualityLow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/music/song.flac" {
		t.Errorf("expected original path, got %s", path)
	}
}

func TestEvictOnceRemovesColdEntriesUntilUnderBudget(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	svc := &Service{
		cfg:    Config{CacheDir: dir, MaxCacheBytes: 250},
		store:  store,
		logger: testLogger(),
	}

	now := time.Now()
	cold := now.Add(-2 * time.Hour)
	warm := now.Add(-time.Minute)

	type seed struct {
		id     string
		access time.Time
	}
	seeds := []seed{
		{"coldest", cold.Add(-time.Hour)},
		{"cold", cold},
		{"warm", warm},
	}
	for _, sd := range seeds {
		path := writeRendition(t, dir, sd.id+".m4a", 100)
		err := store.Put(Entry{
			SongID: sd.id, Quality: QualityMedium, FilePath: path,
			Size: 100, CreatedAt: sd.access, LastAccess: sd.access,
		})
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	// 300 bytes against a 250 budget: one cold eviction suffices.
	svc.evictOnce(now)

	if _, ok := store.Get("coldest", QualityMedium); ok {
		t.Error("expected coldest entry evicted")
	}
	if _, ok := store.Get("cold", QualityMedium); !ok {
		t.Error("expected second-coldest entry kept once under budget")
	}
	if _, ok := store.Get("warm", QualityMedium); !ok {
		t.Error("expected warm entry kept")
	}
	if _, err := os.Stat(filepath.Join(dir, "coldest.m4a")); !os.IsNotExist(err) {
		t.Error("expected evicted rendition removed from disk")
	}

	total, _ := store.TotalSize()
	if total != 200 {
		t.Errorf("expected 200 bytes after eviction, got %d", total)
	}
}

func TestEvictOnceSkipsRecentlyAccessed(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	svc := &Service{
		cfg:    Config{CacheDir: dir, MaxCacheBytes: 50},
		store:  store,
		logger: testLogger(),
	}

	now := time.Now()
	path := writeRendition(t, dir, "fresh.m4a", 100)
	err := store.Put(Entry{
		SongID: "fresh", Quality: QualityLow, FilePath: path,
		Size: 100, CreatedAt: now, LastAccess: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Over budget, but the only entry is inside the grace window.
	svc.evictOnce(now)

	if _, ok := store.Get("fresh", QualityLow); !ok {
		t.Error("expected entry inside the grace window to survive")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("expected rendition still on disk")
	}
}

func TestEvictOnceNoBudgetIsNoop(t *testing.T) {
	store := newTestStore(t)

	svc := &Service{cfg: Config{}, store: store, logger: testLogger()}

	now := time.Now()
	err := store.Put(Entry{
		SongID: "a", Quality: QualityLow, FilePath: "/cache/low/a.m4a",
		Size: 1 << 30, CreatedAt: now.Add(-48 * time.Hour), LastAccess: now.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	svc.evictOnce(now)
	if _, ok := store.Get("a", QualityLow); !ok {
		t.Error("expected unlimited cache to keep everything")
	}
}

func TestInvalidateSongRemovesFiles(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	svc := &Service{cfg: Config{CacheDir: dir}, store: store, logger: testLogger()}

	now := time.Now()
	path := writeRendition(t, dir, "abc.m4a", 10)
	err := store.Put(Entry{
		SongID: "abc", Quality: QualityMedium, FilePath: path,
		Size: 10, CreatedAt: now, LastAccess: now,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	svc.InvalidateSong("abc")

	if _, ok := store.Get("abc", QualityMedium); ok {
		t.Error("expected record removed")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected rendition file removed")
	}
}
