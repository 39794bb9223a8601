// Package dedup ties the scanner, decoder, index and BK-tree together
// into the duplicate-detection operations the CLI exposes.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"imagedup/internal/app"
	"imagedup/internal/bktree"
	"imagedup/internal/decode"
	"imagedup/internal/index"
	"imagedup/internal/phash"
	"imagedup/internal/scanner"
)

// Detector owns the index lifecycle for one directory tree and answers
// duplicate and similarity queries against it.
type Detector struct {
	registry     *decode.Registry
	store        *index.Store
	snapshotName string
	extensions   []string
	logger       *slog.Logger

	loaded bool
}

// Option customizes a Detector.
type Option func(*Detector)

// WithRegistry replaces the decoder registry, mainly for tests.
func WithRegistry(r *decode.Registry) Option {
	return func(d *Detector) {
		d.registry = r
	}
}

// WithSnapshotName overrides the snapshot file name inside the root.
func WithSnapshotName(name string) Option {
	return func(d *Detector) {
		if name != "" {
			d.snapshotName = name
		}
	}
}

// WithWorkers sets the hashing pool size.
func WithWorkers(n int) Option {
	return func(d *Detector) {
		d.store = index.NewStore(index.WithWorkers(n))
	}
}

// WithExtensions restricts scanning to the given extensions. The
// default is everything the registry can decode; extensions without a
// registered decoder are dropped at scan time.
func WithExtensions(exts []string) Option {
	return func(d *Detector) {
		d.extensions = exts
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// NewDetector returns a detector with the built-in decoder registry and
// an empty index store.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		registry:     decode.NewRegistry(),
		store:        index.NewStore(),
		snapshotName: app.DefaultSnapshotName,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store exposes the underlying index, primarily for inspection.
func (d *Detector) Store() *index.Store {
	return d.store
}

// HashImage decodes and perceptually hashes a single image file.
func (d *Detector) HashImage(_ context.Context, path string) (phash.Hash, error) {
	img, err := d.registry.Decode(path)
	if err != nil {
		return 0, err
	}
	return phash.FromImage(img), nil
}

// BuildOrUpdateIndex brings the index in line with the images currently
// under root: scan, load the previous snapshot if one exists, hash what
// is new or changed, drop what vanished, and persist the result. It
// returns the number of entries that changed.
//
// A damaged snapshot is discarded with a warning and the index is
// rebuilt from scratch; only a failure to persist the updated state is
// an error.
func (d *Detector) BuildOrUpdateIndex(ctx context.Context, root string) (int, error) {
	result, err := scanner.Scan(root, d.scanExtensions())
	if err != nil {
		return 0, err
	}
	for _, scanErr := range result.Errors {
		d.logger.Warn("scan entry skipped", "error", scanErr)
	}

	snapshotPath := filepath.Join(root, d.snapshotName)
	if !d.loaded {
		if _, err := d.store.LoadSnapshot(snapshotPath); err != nil {
			d.logger.Warn("snapshot discarded, rebuilding index",
				"path", snapshotPath,
				"error", err)
		}
		d.loaded = true
	}

	changed, err := d.store.Update(ctx, result.Files, d.HashImage)
	if err != nil {
		return changed, err
	}

	if changed > 0 {
		if err := d.store.SaveSnapshot(snapshotPath); err != nil {
			return changed, fmt.Errorf("persist index: %w", err)
		}
	}
	return changed, nil
}

// SimilarResult is one indexed file within reach of a query hash.
type SimilarResult struct {
	Path     string
	Hash     phash.Hash
	Distance int
}

// Similar returns the indexed files within threshold of target, sorted
// by distance then path. exclude, when non-empty, names one path to
// leave out of the results; a file that merely points at the same
// content under a different path is still reported.
func (d *Detector) Similar(target phash.Hash, threshold int, exclude string) []SimilarResult {
	tree := d.buildTree()

	var out []SimilarResult
	for _, m := range tree.Query(target, threshold) {
		for _, path := range d.store.PathsForHash(m.Hash) {
			if exclude != "" && path == exclude {
				continue
			}
			out = append(out, SimilarResult{Path: path, Hash: m.Hash, Distance: m.Distance})
		}
	}
	sortResults(out)
	return out
}

// Closest returns up to n indexed files whose distance to target is
// strictly greater than beyond, nearest first. This is a linear scan
// over the distinct hashes; it backs the "nearest misses" display of a
// point query, not the duplicate search itself.
func (d *Detector) Closest(target phash.Hash, beyond, n int, exclude string) []SimilarResult {
	var out []SimilarResult
	for _, h := range d.store.Hashes() {
		dist := phash.Distance(target, h)
		if dist <= beyond {
			continue
		}
		for _, path := range d.store.PathsForHash(h) {
			if exclude != "" && path == exclude {
				continue
			}
			out = append(out, SimilarResult{Path: path, Hash: h, Distance: dist})
		}
	}
	sortResults(out)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FindSimilar updates the index for root, hashes the image at
// targetPath and returns the indexed files within threshold of it. The
// target itself is excluded only on an exact path match; a copy of the
// target stored elsewhere under root is a legitimate result.
func (d *Detector) FindSimilar(ctx context.Context, root, targetPath string, threshold int) ([]SimilarResult, error) {
	if _, err := d.BuildOrUpdateIndex(ctx, root); err != nil {
		return nil, err
	}
	target, err := d.HashImage(ctx, targetPath)
	if err != nil {
		return nil, fmt.Errorf("hash query image: %w", err)
	}
	return d.Similar(target, threshold, filepath.Clean(targetPath)), nil
}

// scanExtensions resolves the extension filter against the registry so
// a configured extension nobody can decode is never scanned.
func (d *Detector) scanExtensions() []string {
	if len(d.extensions) == 0 {
		return d.registry.Extensions()
	}
	exts := make([]string, 0, len(d.extensions))
	for _, ext := range d.extensions {
		if d.registry.Supported(ext) {
			exts = append(exts, ext)
		}
	}
	return exts
}

// buildTree loads every distinct indexed hash into a fresh BK-tree.
// Rebuilding per query keeps the tree trivially consistent with the
// store; construction is cheap next to decoding.
func (d *Detector) buildTree() *bktree.Tree {
	tree := bktree.New()
	for _, h := range d.store.Hashes() {
		tree.Insert(h)
	}
	return tree
}

func sortResults(results []SimilarResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Path < results[j].Path
	})
}
