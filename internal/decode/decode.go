// Package decode loads images from disk behind a format capability table.
//
// Formats are dispatched by file extension through a registry rather than
// by probing, so callers can ask up front which extensions are worth
// scanning and tests can inject fake decoders. Decode failures are
// ordinary errors the caller records and skips; they never abort a batch.
package decode

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	// Register decoders for formats the standard library does not carry.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for extensions absent from the
// capability table. HEIC/HEIF fall in this bucket: there is no pure-Go
// decoder for them.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Func decodes the image at path into a pixel grid.
type Func func(path string) (image.Image, error)

// Registry maps lowercase file extensions (with leading dot) to decoders.
type Registry struct {
	formats map[string]Func
}

// NewRegistry returns a registry with all built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]Func)}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".tif"} {
		r.Register(ext, openOriented)
	}
	return r
}

// Register adds or replaces the decoder for an extension.
func (r *Registry) Register(ext string, fn Func) {
	r.formats[normalizeExt(ext)] = fn
}

// Supported reports whether a decoder is registered for the extension.
func (r *Registry) Supported(ext string) bool {
	_, ok := r.formats[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.formats))
	for ext := range r.formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Decode loads the image at path using the decoder registered for its
// extension.
func (r *Registry) Decode(path string) (image.Image, error) {
	ext := normalizeExt(filepath.Ext(path))
	fn, ok := r.formats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	img, err := fn(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// openOriented decodes through imaging so JPEG EXIF orientation is applied
// before hashing; a rotated copy of a picture should hash like the
// original.
func openOriented(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
