package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/sirupsen/logrus"
)

// cacheSchemaVersion is bumped whenever the persisted layout changes. A
// loaded document with any other version is discarded wholesale rather
// than partially trusted.
const cacheSchemaVersion = 2

// defaultMaxEntries caps the cache by entry count. When exceeded, the
// oldest-inserted entries are evicted first (insertion order, not LRU).
const defaultMaxEntries = 100_000

type cachedEntry struct {
	MTime    int64       `json:"mtime"`
	Size     int64       `json:"size"`
	Seq      uint64      `json:"seq"`
	Hash     string      `json:"hash,omitempty"`
	Metadata models.Song `json:"metadata"`
}

type cacheDocument struct {
	Version int                    `json:"version"`
	SavedAt time.Time              `json:"savedAt"`
	Entries map[string]cachedEntry `json:"entries"`
}

// Cache persists extracted tag snapshots keyed by file path, validated by
// (mtime, size) so stale entries are evicted lazily on lookup.
type Cache struct {
	path   string
	logger *logrus.Logger

	mu         sync.Mutex
	entries    map[string]cachedEntry
	seq        uint64
	dirty      bool
	maxEntries int
}

// NewCache loads the cache document at path, starting empty when the file
// is missing, unreadable, or carries a different schema version.
func NewCache(path string, logger *logrus.Logger) *Cache {
	c := &Cache{
		path:       path,
		logger:     logger,
		entries:    make(map[string]cachedEntry),
		maxEntries: defaultMaxEntries,
	}
	c.load()
	return c
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).WithField("cache_file", c.path).Warn("Could not read metadata cache")
		}
		return
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.WithError(err).WithField("cache_file", c.path).Warn("Corrupt metadata cache, starting fresh")
		return
	}
	if doc.Version != cacheSchemaVersion {
		c.logger.WithFields(logrus.Fields{
			"found":    doc.Version,
			"expected": cacheSchemaVersion,
		}).Info("Metadata cache schema changed, invalidating")
		return
	}

	c.entries = doc.Entries
	if c.entries == nil {
		c.entries = make(map[string]cachedEntry)
	}
	for _, entry := range c.entries {
		if entry.Seq > c.seq {
			c.seq = entry.Seq
		}
	}
	c.logger.WithField("entries", len(c.entries)).Debug("Loaded metadata cache")
}

// Get returns the cached metadata for path iff the file's current
// (mtime, size) still matches the stored pair. A mismatch evicts the
// stale entry and reports a miss.
func (c *Cache) Get(path string) (models.Song, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return models.Song{}, false
	}

	stat, err := os.Stat(path)
	if err != nil || stat.ModTime().Unix() != entry.MTime || stat.Size() != entry.Size {
		delete(c.entries, path)
		c.dirty = true
		return models.Song{}, false
	}

	song := entry.Metadata
	song.FilePath = path
	song.ContentHash = entry.Hash
	return song, true
}

// Put stores metadata for path, capturing the file's current (mtime, size)
// alongside the value. Exceeding the entry cap evicts oldest-inserted first.
func (c *Cache) Put(path string, song models.Song) {
	stat, err := os.Stat(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[path] = cachedEntry{
		MTime:    stat.ModTime().Unix(),
		Size:     stat.Size(),
		Seq:      c.seq,
		Hash:     song.ContentHash,
		Metadata: song,
	}
	c.dirty = true

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestPath string
	var oldestSeq uint64
	first := true
	for path, entry := range c.entries {
		if first || entry.Seq < oldestSeq {
			oldestPath = path
			oldestSeq = entry.Seq
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestPath)
	}
}

// Save persists the cache document, but only when something changed since
// the last save. Repeated read-only scans cost no disk writes.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	doc := cacheDocument{
		Version: cacheSchemaVersion,
		SavedAt: time.Now().UTC(),
		Entries: c.entries,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace metadata cache: %w", err)
	}

	c.dirty = false
	c.logger.WithField("entries", len(c.entries)).Debug("Saved metadata cache")
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
