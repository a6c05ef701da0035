package library

import (
	"strings"

	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/sirupsen/logrus"
)

// durationTolerance is how far apart two durations may be (in seconds)
// while still counting as the same recording in the metadata fallback.
const durationTolerance = 2

// Deduplicate removes redundant songs, keeping the first-seen copy of each.
// Two songs are duplicates when their content hashes match. Without a usable
// hash, matching title and artist with durations inside the tolerance counts
// instead. Running it on its own output is a no-op.
func Deduplicate(songs []models.Song, logger *logrus.Logger) []models.Song {
	type metaSeen struct {
		durations []int
	}

	seenHash := make(map[string]struct{}, len(songs))
	seenMeta := make(map[string]*metaSeen)
	result := make([]models.Song, 0, len(songs))
	dropped := 0

	for _, song := range songs {
		if song.ContentHash != "" {
			if _, dup := seenHash[song.ContentHash]; dup {
				dropped++
				logger.WithFields(logrus.Fields{
					"title":     song.Title,
					"file_path": song.FilePath,
				}).Debug("Dropping duplicate (content hash)")
				continue
			}
			seenHash[song.ContentHash] = struct{}{}
			result = append(result, song)
			continue
		}

		key := strings.ToLower(song.Title) + "|" + strings.ToLower(song.Artist)
		entry := seenMeta[key]
		if entry != nil && matchesDuration(entry.durations, song.Duration) {
			dropped++
			logger.WithFields(logrus.Fields{
				"title":     song.Title,
				"file_path": song.FilePath,
			}).Debug("Dropping duplicate (metadata)")
			continue
		}
		if entry == nil {
			entry = &metaSeen{}
			seenMeta[key] = entry
		}
		entry.durations = append(entry.durations, song.Duration)
		result = append(result, song)
	}

	if dropped > 0 {
		logger.WithField("count", dropped).Info("Removed duplicate songs")
	}
	return result
}

func matchesDuration(durations []int, d int) bool {
	for _, seen := range durations {
		diff := seen - d
		if diff < 0 {
			diff = -diff
		}
		if diff <= durationTolerance {
			return true
		}
	}
	return false
}
