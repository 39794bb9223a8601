// Package index maintains the durable mapping from image paths to their
// perceptual hashes and filesystem metadata.
//
// The store diffs scanner output against cached (size, mtime) pairs so an
// unchanged file is never decoded twice, fans the stale files out to a
// bounded worker pool for hashing, and applies results through a single
// aggregator. A versioned, compressed, crash-safe snapshot (see
// snapshot.go) makes the whole thing survive restarts.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"imagedup/internal/phash"
	"imagedup/internal/scanner"

	"github.com/armon/go-radix"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Entry is one indexed file. Path is the unique key; Size and ModTime are
// the staleness signal; Hash is the perceptual fingerprint.
type Entry struct {
	Path      string     `json:"path"`
	Size      int64      `json:"size"`
	ModTime   time.Time  `json:"modTime"`
	Hash      phash.Hash `json:"hash"`
	IndexedAt time.Time  `json:"indexedAt"`
}

// HashFunc produces the perceptual hash for one file. It is called from
// worker goroutines and must be self-contained; a failed decode is an
// ordinary error and only skips that file.
type HashFunc func(ctx context.Context, path string) (phash.Hash, error)

// Store is the in-memory index with a durable snapshot. The path map is a
// radix tree so walks are lexically ordered and prefix scans are cheap; a
// derived multimap tracks which paths share a hash. Store methods are not
// safe for concurrent use; Update's internal workers never touch the maps
// directly.
type Store struct {
	entries *radix.Tree // path -> *Entry
	byHash  map[phash.Hash][]string
	id      uuid.UUID
	workers int
	logger  *slog.Logger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithWorkers sets the hashing pool size.
func WithWorkers(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore returns an empty store with a fresh identity.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: radix.New(),
		byHash:  make(map[phash.Hash][]string),
		id:      uuid.New(),
		workers: 5,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the index identity carried across snapshots.
func (s *Store) ID() uuid.UUID {
	return s.id
}

// Len reports the number of indexed paths.
func (s *Store) Len() int {
	return s.entries.Len()
}

// Lookup returns a copy of the entry for path.
func (s *Store) Lookup(path string) (Entry, bool) {
	v, ok := s.entries.Get(path)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Paths returns all indexed paths in lexical order.
func (s *Store) Paths() []string {
	paths := make([]string, 0, s.entries.Len())
	s.entries.Walk(func(key string, _ interface{}) bool {
		paths = append(paths, key)
		return false
	})
	return paths
}

// WalkPrefix visits entries whose path starts with prefix, in lexical
// order. Returning true from fn stops the walk.
func (s *Store) WalkPrefix(prefix string, fn func(Entry) bool) {
	s.entries.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		return fn(*v.(*Entry))
	})
}

// Hashes returns the distinct hash values present, in ascending order.
func (s *Store) Hashes() []phash.Hash {
	hashes := make([]phash.Hash, 0, len(s.byHash))
	for h := range s.byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes
}

// PathsForHash returns the paths sharing a hash, in lexical order. Several
// files may legitimately carry the same hash (copies, resizes).
func (s *Store) PathsForHash(h phash.Hash) []string {
	paths := make([]string, len(s.byHash[h]))
	copy(paths, s.byHash[h])
	sort.Strings(paths)
	return paths
}

// hashResult travels from a worker to the aggregator.
type hashResult struct {
	file scanner.FileInfo
	hash phash.Hash
	err  error
}

// Update reconciles the store against the current file list. New or
// changed files (size or mtime mismatch) are re-hashed on a bounded
// worker pool; entries for vanished paths are dropped. It returns the
// number of entries added, refreshed or removed.
//
// Completed entries are applied by this goroutine only, keyed by path and
// idempotently, so the final state is independent of worker completion
// order. Cancelling ctx stops dispatch; entries already applied remain
// valid.
func (s *Store) Update(ctx context.Context, files []scanner.FileInfo, hashFile HashFunc) (int, error) {
	current := make(map[string]bool, len(files))
	var stale []scanner.FileInfo
	for _, f := range files {
		current[f.Path] = true
		if e, ok := s.Lookup(f.Path); !ok || e.Size != f.Size || !e.ModTime.Equal(f.ModTime) {
			stale = append(stale, f)
		}
	}

	changed := 0

	if len(stale) > 0 {
		s.logger.Info("hashing new or changed files",
			"count", len(stale),
			"workers", s.workers)

		results := make(chan hashResult)
		done := make(chan error, 1)

		// Dispatch from a separate goroutine so the aggregator below can
		// drain results while submission is still in flight.
		go func() {
			workers := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
			for _, f := range stale {
				workers.Go(func(ctx context.Context) error {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
					h, err := hashFile(ctx, f.Path)
					results <- hashResult{file: f, hash: h, err: err}
					return nil
				})
			}
			done <- workers.Wait()
			close(results)
		}()

		// Single-writer discipline: only this loop mutates the maps.
		for res := range results {
			if res.err != nil {
				s.logger.Warn("skipping unreadable image",
					"path", res.file.Path,
					"error", res.err)
				continue
			}
			s.apply(Entry{
				Path:      res.file.Path,
				Size:      res.file.Size,
				ModTime:   res.file.ModTime,
				Hash:      res.hash,
				IndexedAt: time.Now(),
			})
			changed++
		}

		if err := <-done; err != nil {
			return changed, fmt.Errorf("hashing interrupted: %w", err)
		}
	}

	removed := s.removeMissing(current)
	changed += removed

	s.logger.Info("index update complete",
		"hashed", changed-removed,
		"removed", removed,
		"total", s.Len())

	return changed, nil
}

// apply inserts or replaces the entry for e.Path and keeps the hash
// multimap consistent.
func (s *Store) apply(e Entry) {
	if old, ok := s.entries.Get(e.Path); ok {
		s.dropFromHash(old.(*Entry).Hash, e.Path)
	}
	s.entries.Insert(e.Path, &e)
	s.byHash[e.Hash] = append(s.byHash[e.Hash], e.Path)
}

// removeMissing drops entries whose path is absent from the current file
// list and returns how many were removed.
func (s *Store) removeMissing(current map[string]bool) int {
	var gone []string
	s.entries.Walk(func(key string, _ interface{}) bool {
		if !current[key] {
			gone = append(gone, key)
		}
		return false
	})
	for _, path := range gone {
		v, _ := s.entries.Delete(path)
		s.dropFromHash(v.(*Entry).Hash, path)
		s.logger.Debug("removed deleted file from index", "path", path)
	}
	return len(gone)
}

func (s *Store) dropFromHash(h phash.Hash, path string) {
	paths := s.byHash[h]
	for i, p := range paths {
		if p == path {
			s.byHash[h] = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	if len(s.byHash[h]) == 0 {
		delete(s.byHash, h)
	}
}
