package library

import (
	"sort"
	"strings"

	"github.com/picccassso/Ariami-sub003/pkg/models"
)

// compilationArtistThreshold is how many distinct track artists a group
// needs before it is treated as a compilation when no album-artist tag
// settles the question.
const compilationArtistThreshold = 5

// BuildAlbums groups songs into albums. Songs without an album tag and
// groups of a single song stay standalone. An album always has at least
// two member songs.
func BuildAlbums(songs []models.Song) (map[string]*models.Album, []models.Song) {
	type group struct {
		songs []models.Song
	}

	groups := make(map[string]*group)
	var order []string // deterministic iteration, first-seen order
	var standalone []models.Song

	for _, song := range songs {
		if song.Album == "" {
			standalone = append(standalone, song)
			continue
		}
		key := groupKey(song)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.songs = append(g.songs, song)
	}

	albums := make(map[string]*models.Album)
	for _, key := range order {
		g := groups[key]
		if len(g.songs) < 2 {
			standalone = append(standalone, g.songs...)
			continue
		}
		album := buildAlbum(g.songs)
		albums[album.ID] = album
	}
	return albums, standalone
}

// groupKey folds songs into album groups. Only the album-artist takes part:
// keying on the track artist would scatter a compilation's members across
// one group per artist and the heuristic below could never see them together.
func groupKey(song models.Song) string {
	return strings.ToLower(song.Album) + "|" + strings.ToLower(song.AlbumArtist)
}

func buildAlbum(songs []models.Song) *models.Album {
	sortAlbumSongs(songs)

	artist, compilation := resolveArtist(songs)
	album := &models.Album{
		ID:          models.AlbumID(songs[0].Album, artist),
		Title:       songs[0].Album,
		Artist:      artist,
		Year:        modalYear(songs),
		Compilation: compilation,
		Songs:       songs,
		ArtworkPath: songs[0].FilePath,
	}
	return album
}

// resolveArtist applies the compilation heuristic in priority order:
// an explicit "various" marker in the album-artist wins, then a uniform
// non-empty album-artist rules compilation out regardless of differing
// track artists, then the count of distinct track artists decides.
func resolveArtist(songs []models.Song) (string, bool) {
	for _, song := range songs {
		if strings.Contains(strings.ToLower(song.AlbumArtist), "various") {
			return models.VariousArtists, true
		}
	}

	if shared := sharedAlbumArtist(songs); shared != "" {
		return shared, false
	}

	distinct := make(map[string]struct{})
	first := ""
	for _, song := range songs {
		artist := strings.TrimSpace(song.Artist)
		if artist == "" {
			continue
		}
		if first == "" {
			first = artist
		}
		distinct[strings.ToLower(artist)] = struct{}{}
	}
	if len(distinct) >= compilationArtistThreshold {
		return models.VariousArtists, true
	}
	if first == "" {
		first = "Unknown Artist"
	}
	return first, false
}

// sharedAlbumArtist returns the album-artist value shared by every member,
// or "" if any member disagrees or leaves it empty.
func sharedAlbumArtist(songs []models.Song) string {
	shared := ""
	for _, song := range songs {
		value := strings.TrimSpace(song.AlbumArtist)
		if value == "" {
			return ""
		}
		if shared == "" {
			shared = value
		} else if !strings.EqualFold(shared, value) {
			return ""
		}
	}
	return shared
}

// modalYear picks the year occurring most often among members, breaking
// ties in favor of the first-seen value.
func modalYear(songs []models.Song) int {
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for _, song := range songs {
		if song.Year == 0 {
			continue
		}
		counts[song.Year]++
		if counts[song.Year] > bestCount {
			best = song.Year
			bestCount = counts[song.Year]
		}
	}
	return best
}

func sortAlbumSongs(songs []models.Song) {
	sort.SliceStable(songs, func(i, j int) bool {
		if songs[i].DiscNumber != songs[j].DiscNumber {
			return songs[i].DiscNumber < songs[j].DiscNumber
		}
		if songs[i].TrackNumber != songs[j].TrackNumber {
			return songs[i].TrackNumber < songs[j].TrackNumber
		}
		return songs[i].Title < songs[j].Title
	})
}
