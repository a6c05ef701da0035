package library

import (
	"testing"

	"github.com/picccassso/Ariami-sub003/pkg/models"
)

func albumSongs(album string, artists ...string) []models.Song {
	songs := make([]models.Song, len(artists))
	for i, artist := range artists {
		songs[i] = models.Song{
			ID:          string(rune('a' + i)),
			Title:       "Track",
			Artist:      artist,
			Album:       album,
			TrackNumber: i + 1,
		}
	}
	return songs
}

func singleAlbum(t *testing.T, albums map[string]*models.Album) *models.Album {
	t.Helper()
	if len(albums) != 1 {
		t.Fatalf("expected 1 album, got %d", len(albums))
	}
	for _, album := range albums {
		return album
	}
	return nil
}

func TestBuildAlbumsGroupsByAlbumTitle(t *testing.T) {
	songs := []models.Song{
		{ID: "1", Title: "So What", Artist: "Miles Davis", Album: "Kind of Blue", TrackNumber: 1},
		{ID: "2", Title: "Freddie Freeloader", Artist: "Miles Davis", Album: "kind of blue", TrackNumber: 2},
		{ID: "3", Title: "Giant Steps", Artist: "John Coltrane", Album: "Giant Steps", TrackNumber: 1},
		{ID: "4", Title: "Cousin Mary", Artist: "John Coltrane", Album: "Giant Steps", TrackNumber: 2},
	}

	albums, standalone := BuildAlbums(songs)
	if len(albums) != 2 {
		t.Fatalf("expected 2 albums, got %d", len(albums))
	}
	if len(standalone) != 0 {
		t.Fatalf("expected no standalones, got %d", len(standalone))
	}
	for _, album := range albums {
		if len(album.Songs) != 2 {
			t.Errorf("album %q: expected 2 songs, got %d", album.Title, len(album.Songs))
		}
	}
}

func TestBuildAlbumsAlbumArtistSplitsGroups(t *testing.T) {
	// Two "Greatest Hits" albums by different album-artists stay apart.
	songs := []models.Song{
		{ID: "1", Title: "One", Artist: "Queen", AlbumArtist: "Queen", Album: "Greatest Hits", TrackNumber: 1},
		{ID: "2", Title: "Two", Artist: "Queen", AlbumArtist: "Queen", Album: "Greatest Hits", TrackNumber: 2},
		{ID: "3", Title: "Uno", Artist: "ABBA", AlbumArtist: "ABBA", Album: "Greatest Hits", TrackNumber: 1},
		{ID: "4", Title: "Dos", Artist: "ABBA", AlbumArtist: "ABBA", Album: "Greatest Hits", TrackNumber: 2},
	}

	albums, _ := BuildAlbums(songs)
	if len(albums) != 2 {
		t.Fatalf("expected 2 albums, got %d", len(albums))
	}
}

func TestBuildAlbumsSingleSongStaysStandalone(t *testing.T) {
	songs := []models.Song{
		{ID: "1", Title: "Lonely", Artist: "Somebody", Album: "One-Track Album"},
		{ID: "2", Title: "Untagged", Artist: "Somebody"},
	}

	albums, standalone := BuildAlbums(songs)
	if len(albums) != 0 {
		t.Fatalf("expected no albums, got %d", len(albums))
	}
	if len(standalone) != 2 {
		t.Fatalf("expected 2 standalones, got %d", len(standalone))
	}
}

func TestBuildAlbumsSortsByDiscTrackTitle(t *testing.T) {
	songs := []models.Song{
		{ID: "1", Title: "B Side Opener", Artist: "X", Album: "A", DiscNumber: 2, TrackNumber: 1},
		{ID: "2", Title: "Closer", Artist: "X", Album: "A", DiscNumber: 1, TrackNumber: 9},
		{ID: "3", Title: "Opener", Artist: "X", Album: "A", DiscNumber: 1, TrackNumber: 1},
		{ID: "4", Title: "Also Track One", Artist: "X", Album: "A", DiscNumber: 1, TrackNumber: 1},
	}

	album := singleAlbum(t, mustAlbums(t, songs))
	got := make([]string, len(album.Songs))
	for i, s := range album.Songs {
		got[i] = s.ID
	}
	// Disc 1 before disc 2; track 1 before track 9; title breaks the tie.
	want := []string{"4", "3", "2", "1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func mustAlbums(t *testing.T, songs []models.Song) map[string]*models.Album {
	t.Helper()
	albums, _ := BuildAlbums(songs)
	return albums
}

func TestResolveArtistExplicitVariousMarker(t *testing.T) {
	songs := albumSongs("Mix", "A", "B")
	for i := range songs {
		songs[i].AlbumArtist = "Various Artists"
	}

	album := singleAlbum(t, mustAlbums(t, songs))
	if !album.Compilation {
		t.Error("expected compilation flag set")
	}
	if album.Artist != models.VariousArtists {
		t.Errorf("expected %q, got %q", models.VariousArtists, album.Artist)
	}
}

func TestResolveArtistUniformAlbumArtistWins(t *testing.T) {
	// Six distinct track artists would trip the threshold, but a uniform
	// album-artist tag settles the question first.
	songs := albumSongs("Duets", "A", "B", "C", "D", "E", "F")
	for i := range songs {
		songs[i].AlbumArtist = "Host Artist"
		songs[i].Title = songs[i].ID // keep titles distinct
	}

	album := singleAlbum(t, mustAlbums(t, songs))
	if album.Compilation {
		t.Error("expected compilation flag cleared")
	}
	if album.Artist != "Host Artist" {
		t.Errorf("expected 'Host Artist', got %q", album.Artist)
	}
}

func TestResolveArtistDistinctArtistThreshold(t *testing.T) {
	below := singleAlbum(t, mustAlbums(t, albumSongs("Quartet", "A", "B", "C", "D")))
	if below.Compilation {
		t.Error("4 distinct artists should not make a compilation")
	}
	if below.Artist != "A" {
		t.Errorf("expected first artist, got %q", below.Artist)
	}

	at := singleAlbum(t, mustAlbums(t, albumSongs("Quintet", "A", "B", "C", "D", "E")))
	if !at.Compilation {
		t.Error("5 distinct artists should make a compilation")
	}
	if at.Artist != models.VariousArtists {
		t.Errorf("expected %q, got %q", models.VariousArtists, at.Artist)
	}
}

func TestModalYear(t *testing.T) {
	songs := albumSongs("Reissues", "A", "A", "A")
	songs[0].Year = 1959
	songs[1].Year = 1997
	songs[2].Year = 1959

	album := singleAlbum(t, mustAlbums(t, songs))
	if album.Year != 1959 {
		t.Errorf("expected modal year 1959, got %d", album.Year)
	}
}

func TestAlbumIDStableAcrossSongOrder(t *testing.T) {
	songs := albumSongs("Kind of Blue", "Miles Davis", "Miles Davis")
	reversed := []models.Song{songs[1], songs[0]}

	a := singleAlbum(t, mustAlbums(t, songs))
	b := singleAlbum(t, mustAlbums(t, reversed))
	if a.ID != b.ID {
		t.Errorf("album ID must not depend on song order: %s vs %s", a.ID, b.ID)
	}
}
