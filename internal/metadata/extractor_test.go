package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/picccassso/Ariami-sub003/pkg/models"
)

func TestExtractMissingFile(t *testing.T) {
	extractor := NewExtractor(nil, testLogger())
	if _, err := extractor.Extract("/nonexistent/file.mp3"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExtractInvalidFileDegradesToFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeTempAudio(t, dir, "invalid.mp3", "this is not an audio file")

	extractor := NewExtractor(nil, testLogger())
	song, err := extractor.Extract(path)
	if err != nil {
		t.Fatalf("expected graceful degradation, got error: %v", err)
	}

	if song.Title != "invalid" {
		t.Errorf("expected title 'invalid', got %q", song.Title)
	}
	if song.Artist != "Unknown Artist" {
		t.Errorf("expected artist 'Unknown Artist', got %q", song.Artist)
	}
	abs, _ := filepath.Abs(path)
	if song.ID != models.SongID(abs) {
		t.Errorf("expected deterministic ID from path")
	}
	if song.FileSize == 0 {
		t.Error("expected file size recorded")
	}
}

func TestExtractFillsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeTempAudio(t, dir, "track.mp3", "junk bytes")
	cache := NewCache(filepath.Join(dir, "cache.json"), testLogger())

	extractor := NewExtractor(cache, testLogger())
	if _, err := extractor.Extract(path); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", cache.Len())
	}

	// A second extraction must be answered from the cache.
	abs, _ := filepath.Abs(path)
	cached, ok := cache.Get(abs)
	if !ok {
		t.Fatal("expected cache hit")
	}
	again, err := extractor.Extract(path)
	if err != nil {
		t.Fatalf("second extract failed: %v", err)
	}
	if again.ID != cached.ID || again.Title != cached.Title {
		t.Error("expected identical metadata from cache")
	}
}

func TestFilenamePatterns(t *testing.T) {
	extractor := NewExtractor(nil, testLogger())

	testCases := []struct {
		name        string
		base        string
		wantTrack   int
		wantArtist  string
		wantTitle   string
		wantAlbum   string
	}{
		{"track dash artist dash title", "01 - Miles Davis - So What", 1, "Miles Davis", "So What", ""},
		{"artist album track title", "Miles Davis - Kind of Blue - 02 - Freddie Freeloader", 2, "Miles Davis", "Freddie Freeloader", "Kind of Blue"},
		{"track underscore title", "03_Blue in Green", 3, "", "Blue in Green", ""},
		{"track space title", "04 All Blues", 4, "", "All Blues", ""},
		{"raw filename", "Flamenco Sketches", 0, "", "Flamenco Sketches", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var song models.Song
			extractor.applyFilename(&song, "/music/"+tc.base+".mp3")
			if song.Title != tc.wantTitle {
				t.Errorf("title: expected %q, got %q", tc.wantTitle, song.Title)
			}
			if song.TrackNumber != tc.wantTrack {
				t.Errorf("track: expected %d, got %d", tc.wantTrack, song.TrackNumber)
			}
			if song.Artist != tc.wantArtist {
				t.Errorf("artist: expected %q, got %q", tc.wantArtist, song.Artist)
			}
			if song.Album != tc.wantAlbum {
				t.Errorf("album: expected %q, got %q", tc.wantAlbum, song.Album)
			}
		})
	}
}

func TestAtoiOrZeroHandlesSlashes(t *testing.T) {
	testCases := []struct {
		in   string
		want int
	}{
		{"7", 7},
		{"3/12", 3},
		{" 10 ", 10},
		{"x", 0},
		{"", 0},
	}
	for _, tc := range testCases {
		if got := atoiOrZero(tc.in); got != tc.want {
			t.Errorf("atoiOrZero(%q): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestSniffImageMime(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
		{"unknown", []byte{0, 0, 0, 0}, "application/octet-stream"},
		{"short", []byte{0xFF}, "application/octet-stream"},
	}
	for _, tc := range testCases {
		if got := SniffImageMime(tc.data); got != tc.want {
			t.Errorf("SniffImageMime(%s): expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestContentHashStableForSameContent(t *testing.T) {
	dir := t.TempDir()
	a := writeTempAudio(t, dir, "a.mp3", "identical bytes")
	b := writeTempAudio(t, dir, "b.mp3", "identical bytes")
	c := writeTempAudio(t, dir, "c.mp3", "different bytes!")

	extractor := NewExtractor(nil, testLogger())
	songA, _ := extractor.Extract(a)
	songB, _ := extractor.Extract(b)
	songC, _ := extractor.Extract(c)

	if songA.ContentHash == "" {
		t.Fatal("expected a content hash")
	}
	if songA.ContentHash != songB.ContentHash {
		t.Error("expected identical content to hash identically")
	}
	if songA.ContentHash == songC.ContentHash {
		t.Error("expected different content to hash differently")
	}
	if songA.ID == songB.ID {
		t.Error("expected IDs to differ, they derive from the path")
	}
}

func TestDurationEstimateForUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	// 48000 bytes at the assumed 192 kbps is exactly 2 seconds.
	path := filepath.Join(dir, "mystery.wma")
	if err := os.WriteFile(path, make([]byte, 48000), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	extractor := NewExtractor(nil, testLogger())
	d, err := extractor.Duration(path)
	if err != nil {
		t.Fatalf("duration failed: %v", err)
	}
	if d != 2 {
		t.Errorf("expected 2s estimate, got %d", d)
	}
}
