package models

import "time"

// VariousArtists is the display artist assigned to compilation albums.
const VariousArtists = "Various Artists"

// Album groups two or more songs that share an album tag. Single-song
// groups are never materialized as albums; they stay standalone songs.
type Album struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Year        int    `json:"year,omitempty"`
	Compilation bool   `json:"compilation"`
	Songs       []Song `json:"songs"`
	ArtworkPath string `json:"-"` // file whose embedded artwork represents the album
}

// Library is an immutable snapshot of the indexed collection. A scan
// builds a fresh Library and swaps it in wholesale; existing snapshots
// are never mutated.
type Library struct {
	Albums    map[string]*Album `json:"albums"`
	Songs     []Song            `json:"songs"` // standalone songs without an album
	ScannedAt time.Time         `json:"scannedAt"`
}

// EmptyLibrary returns a snapshot representing a never-scanned collection.
func EmptyLibrary() *Library {
	return &Library{Albums: make(map[string]*Album)}
}

// SongCount returns the total number of songs across albums and standalone.
func (l *Library) SongCount() int {
	n := len(l.Songs)
	for _, album := range l.Albums {
		n += len(album.Songs)
	}
	return n
}

// FindSong locates a song by ID across albums and standalone songs. The
// linear scan is fine here: the index is rebuilt wholesale per scan and
// lookups happen per request, not per song.
func (l *Library) FindSong(id string) (Song, bool) {
	for _, album := range l.Albums {
		for _, song := range album.Songs {
			if song.ID == id {
				return song, true
			}
		}
	}
	for _, song := range l.Songs {
		if song.ID == id {
			return song, true
		}
	}
	return Song{}, false
}
