package report

import (
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
)

// Store loads saved artifacts and keeps the most recently used ones in memory. A cached
// report is reloaded once its file changes.
type Store struct {
	cache *lru.Cache[string, storeEntry]

	mu     sync.Mutex
	hits   int64
	misses int64
}

type storeEntry struct {
	report  benchmark.BenchmarkReport
	modTime time.Time
	size    int64
}

// StoreStats counts the lookups served from memory and from disk.
type StoreStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewStore creates a store holding at most size reports.
func NewStore(size int) (*Store, error) {
	cache, err := lru.New[string, storeEntry](size)
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache}, nil
}

// Load returns the report saved at path. The returned report is shared, callers must not
// modify it.
func (s *Store) Load(path string) (benchmark.BenchmarkReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		s.cache.Remove(path)
		return benchmark.BenchmarkReport{}, benchmark.NewSerializationError(path, err)
	}

	if e, ok := s.cache.Get(path); ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		s.count(true)
		return e.report, nil
	}
	s.count(false)

	rep, err := ReadFile(path)
	if err != nil {
		s.cache.Remove(path)
		return benchmark.BenchmarkReport{}, err
	}
	s.cache.Add(path, storeEntry{report: rep, modTime: info.ModTime(), size: info.Size()})

	return rep, nil
}

// Stats returns the store's statistics.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{Size: s.cache.Len(), Hits: s.hits, Misses: s.misses}
}

func (s *Store) count(hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hit {
		s.hits++
	} else {
		s.misses++
	}
}
