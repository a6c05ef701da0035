package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Song represents a single audio file in the library. The ID is derived
// from the absolute file path, so it stays stable across rescans as long
// as the file does not move.
type Song struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"albumArtist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Year        int    `json:"year,omitempty"`
	TrackNumber int    `json:"trackNumber"`
	DiscNumber  int    `json:"discNumber,omitempty"`
	Duration    int    `json:"duration"` // in seconds, 0 until resolved
	HasArtwork  bool   `json:"hasArtwork"`
	FilePath    string `json:"-"` // don't expose file path to client
	FileSize    int64  `json:"fileSize"`
	ContentHash string `json:"-"` // partial content hash used for deduplication
}

// SongID derives the deterministic song identifier from an absolute file
// path: the first 12 hex characters of its SHA-256 digest.
func SongID(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:12]
}

// AlbumID derives the deterministic album identifier from the album title
// and resolved album artist.
func AlbumID(title, artist string) string {
	key := strings.ToLower(title) + "|" + artist
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
