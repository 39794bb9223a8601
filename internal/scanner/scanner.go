// Package scanner lists candidate image files under a root directory.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagedup/internal/app"

	ignore "github.com/sabhiram/go-gitignore"
)

// FileInfo is the filesystem metadata the index store diffs against.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Result holds the scanned files plus any per-entry errors encountered
// along the way. Unreadable entries are collected, not fatal.
type Result struct {
	Files  []FileInfo
	Errors []error
}

// IgnoreChecker reports whether a path matches an exclusion pattern.
type IgnoreChecker interface {
	MatchesPath(path string) bool
}

// Scan walks root recursively and returns regular files whose extension is
// in exts (case-insensitive, leading dot expected). Output order follows
// the lexical order of filepath.WalkDir, so repeated scans of an unchanged
// tree are deterministic.
//
// An optional gitignore-style exclusion file at the root (see
// app.DefaultIgnoreName) prunes matching files and directories.
func Scan(root string, exts []string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s: not a directory", root)
	}

	ignored, err := loadIgnore(root)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(exts))
	for _, ext := range exts {
		wanted[strings.ToLower(ext)] = true
	}

	result := &Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			result.Errors = append(result.Errors, err)
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			result.Errors = append(result.Errors, relErr)
			return nil
		}

		if ignored != nil && rel != "." && ignored.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !wanted[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			result.Errors = append(result.Errors, infoErr)
			return nil
		}

		result.Files = append(result.Files, FileInfo{
			Path:    path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return result, nil
}

// loadIgnore compiles the root's exclusion file when present.
func loadIgnore(root string) (IgnoreChecker, error) {
	ignorePath := filepath.Join(root, app.DefaultIgnoreName)

	if _, err := os.Stat(ignorePath); err == nil {
		ignored, err := ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("error reading %s file: %w", app.DefaultIgnoreName, err)
		}
		return ignored, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error checking for %s file: %w", app.DefaultIgnoreName, err)
	}

	return nil, nil
}
