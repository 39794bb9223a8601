// Package rename renames image files to their capture timestamp.
//
// The timestamp for a file is resolved in priority order: EXIF metadata
// first, then a recognizable date in the file name, then the filesystem
// modification time as a last resort. Planning and execution are
// separate steps so a dry run costs nothing, and the existence check is
// injected so collision handling is testable without touching disk.
package rename

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Status classifies the outcome of one planned rename.
type Status string

const (
	// StatusRenamed marks a file that gets (or got) a new name.
	StatusRenamed Status = "renamed"
	// StatusNoChange marks a file whose name already matches its timestamp.
	StatusNoChange Status = "no-change"
	// StatusSkipped marks a file left alone, e.g. when every candidate
	// name up to the counter limit is taken.
	StatusSkipped Status = "skipped"
	// StatusError marks a file that could not be read or renamed.
	StatusError Status = "error"
)

// Source names where a file's timestamp came from.
type Source string

const (
	SourceExif     Source = "exif"
	SourceFilename Source = "filename"
	SourceModTime  Source = "mtime"
)

// Operation is one file's planned or executed rename.
type Operation struct {
	Path   string
	Target string
	Taken  time.Time
	Source Source
	Status Status
	Err    error
}

// counterLimit caps the _NNN collision suffix.
const counterLimit = 999

// Renamer plans and applies timestamp renames within a directory.
type Renamer struct {
	dateFormat string
	exists     func(string) bool
	logger     *slog.Logger
}

// Option customizes a Renamer.
type Option func(*Renamer)

// WithDateFormat sets the Go time layout used for target names.
func WithDateFormat(layout string) Option {
	return func(r *Renamer) {
		if layout != "" {
			r.dateFormat = layout
		}
	}
}

// WithExistsFunc replaces the on-disk existence check.
func WithExistsFunc(fn func(string) bool) Option {
	return func(r *Renamer) {
		r.exists = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renamer) {
		r.logger = logger
	}
}

// NewRenamer returns a renamer producing names like 20240131_154500.jpg.
func NewRenamer(opts ...Option) *Renamer {
	r := &Renamer{
		dateFormat: "20060102_150405",
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan computes the rename for every file directly under dir whose
// extension is in exts. Nothing is modified. Target names are unique
// within the plan and against the existence check; a collision gets a
// _NNN counter suffix.
func (r *Renamer) Plan(dir string, exts []string) ([]Operation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	wanted := make(map[string]bool, len(exts))
	for _, ext := range exts {
		wanted[strings.ToLower(ext)] = true
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !e.Type().IsRegular() {
			continue
		}
		if !wanted[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	planned := make(map[string]bool)
	ops := make([]Operation, 0, len(names))
	for _, name := range names {
		ops = append(ops, r.planOne(dir, name, planned))
	}
	return ops, nil
}

// planOne resolves one file's timestamp and picks a free target name.
func (r *Renamer) planOne(dir, name string, planned map[string]bool) Operation {
	path := filepath.Join(dir, name)
	op := Operation{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		op.Status = StatusError
		op.Err = fmt.Errorf("stat %s: %w", path, err)
		return op
	}

	op.Taken, op.Source = r.resolveTime(path, name, info.ModTime())

	ext := strings.ToLower(filepath.Ext(name))
	base := op.Taken.Format(r.dateFormat)

	target := base + ext
	if target == name {
		op.Target = path
		op.Status = StatusNoChange
		planned[target] = true
		return op
	}

	// The source file itself occupies its current name, so only other
	// files and already-planned targets count as collisions.
	for n := 0; ; n++ {
		if n > counterLimit {
			op.Status = StatusSkipped
			op.Err = fmt.Errorf("no free name for %s after %s_%03d", name, base, counterLimit)
			return op
		}
		if n > 0 {
			target = fmt.Sprintf("%s_%03d%s", base, n, ext)
		}
		if target == name {
			op.Target = path
			op.Status = StatusNoChange
			planned[target] = true
			return op
		}
		if !planned[target] && !r.exists(filepath.Join(dir, target)) {
			break
		}
	}

	planned[target] = true
	op.Target = filepath.Join(dir, target)
	op.Status = StatusRenamed
	return op
}

// Apply executes the renames a plan proposed. Operations that were not
// StatusRenamed pass through untouched; a rename that fails or whose
// target appeared on disk since planning is marked StatusError. The
// returned slice is the input with statuses updated.
func (r *Renamer) Apply(ops []Operation) []Operation {
	for i := range ops {
		op := &ops[i]
		if op.Status != StatusRenamed {
			continue
		}
		if r.exists(op.Target) {
			op.Status = StatusError
			op.Err = fmt.Errorf("target %s already exists", op.Target)
			continue
		}
		if err := os.Rename(op.Path, op.Target); err != nil {
			op.Status = StatusError
			op.Err = fmt.Errorf("rename %s: %w", op.Path, err)
			continue
		}
		r.logger.Info("renamed",
			"from", filepath.Base(op.Path),
			"to", filepath.Base(op.Target),
			"source", op.Source)
	}
	return ops
}

// Run plans and, unless dryRun is set, applies the renames for dir.
func (r *Renamer) Run(dir string, exts []string, dryRun bool) ([]Operation, error) {
	ops, err := r.Plan(dir, exts)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return ops, nil
	}
	return r.Apply(ops), nil
}

// resolveTime finds the best timestamp for a file: EXIF, then the file
// name, then the modification time.
func (r *Renamer) resolveTime(path, name string, mtime time.Time) (time.Time, Source) {
	if t, err := exifTime(path); err == nil {
		return t, SourceExif
	}
	if t, ok := parseFilenameTime(name); ok {
		return t, SourceFilename
	}
	return mtime, SourceModTime
}

// exifTime reads the capture timestamp from a file's EXIF block.
// DateTimeOriginal is preferred over DateTime.
func exifTime(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, err
	}
	return x.DateTime()
}
