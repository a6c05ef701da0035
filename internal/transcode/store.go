package transcode

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Entry is one cached rendition's accounting record. LastAccess drives
// LRU eviction; the record outlives process restarts so eviction stays
// correct across runs.
type Entry struct {
	SongID     string
	Quality    Quality
	FilePath   string
	Size       int64
	CreatedAt  time.Time
	LastAccess time.Time
}

// Store persists the transcode-cache index in SQLite. The files live on
// disk; the store only tracks where they are and when they were used.
type Store struct {
	conn   *sql.DB
	logger *logrus.Logger
}

// NewStore opens (or creates) the index database at path.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open transcode index: %w", err)
	}
	conn.SetMaxOpenConns(2)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS renditions (
		song_id     TEXT NOT NULL,
		quality     TEXT NOT NULL,
		file_path   TEXT NOT NULL,
		size        INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		last_access INTEGER NOT NULL,
		PRIMARY KEY (song_id, quality)
	);
	CREATE INDEX IF NOT EXISTS idx_renditions_last_access ON renditions(last_access);`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create transcode index schema: %w", err)
	}

	return &Store{conn: conn, logger: logger}, nil
}

// Put inserts or replaces a rendition record.
func (s *Store) Put(e Entry) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO renditions (song_id, quality, file_path, size, created_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SongID, string(e.Quality), e.FilePath, e.Size, e.CreatedAt.Unix(), e.LastAccess.Unix())
	return err
}

// Get returns the record for (songID, quality) if present.
func (s *Store) Get(songID string, quality Quality) (Entry, bool) {
	row := s.conn.QueryRow(`
		SELECT file_path, size, created_at, last_access
		FROM renditions WHERE song_id = ? AND quality = ?`,
		songID, string(quality))

	e := Entry{SongID: songID, Quality: quality}
	var created, accessed int64
	if err := row.Scan(&e.FilePath, &e.Size, &created, &accessed); err != nil {
		return Entry{}, false
	}
	e.CreatedAt = time.Unix(created, 0)
	e.LastAccess = time.Unix(accessed, 0)
	return e, true
}

// Touch records an access so the entry moves to the warm end of the LRU.
func (s *Store) Touch(songID string, quality Quality, at time.Time) {
	if _, err := s.conn.Exec(`
		UPDATE renditions SET last_access = ? WHERE song_id = ? AND quality = ?`,
		at.Unix(), songID, string(quality)); err != nil {
		s.logger.WithError(err).Warn("Failed to touch transcode cache entry")
	}
}

// Delete removes one rendition record.
func (s *Store) Delete(songID string, quality Quality) error {
	_, err := s.conn.Exec(`DELETE FROM renditions WHERE song_id = ? AND quality = ?`,
		songID, string(quality))
	return err
}

// DeleteSong removes all quality variants of a song, returning the file
// paths that should be unlinked.
func (s *Store) DeleteSong(songID string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT file_path FROM renditions WHERE song_id = ?`, songID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.conn.Exec(`DELETE FROM renditions WHERE song_id = ?`, songID)
	return paths, err
}

// TotalSize returns the byte total of every cached rendition.
func (s *Store) TotalSize() (int64, error) {
	var total sql.NullInt64
	if err := s.conn.QueryRow(`SELECT SUM(size) FROM renditions`).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// ListByAccess returns all records, least recently accessed first.
func (s *Store) ListByAccess() ([]Entry, error) {
	rows, err := s.conn.Query(`
		SELECT song_id, quality, file_path, size, created_at, last_access
		FROM renditions ORDER BY last_access ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var quality string
		var created, accessed int64
		if err := rows.Scan(&e.SongID, &quality, &e.FilePath, &e.Size, &created, &accessed); err != nil {
			return nil, err
		}
		e.Quality = Quality(quality)
		e.CreatedAt = time.Unix(created, 0)
		e.LastAccess = time.Unix(accessed, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.conn.Close()
}
