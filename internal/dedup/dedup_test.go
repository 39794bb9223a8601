package dedup

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imagedup/internal/phash"
	"imagedup/internal/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStore fills the detector's index directly, bypassing scan and
// decode, so tests can pin exact Hamming distances.
func seedStore(t *testing.T, d *Detector, hashes map[string]phash.Hash) {
	t.Helper()
	now := time.Now()
	var files []scanner.FileInfo
	for path := range hashes {
		files = append(files, scanner.FileInfo{Path: path, Size: 1, ModTime: now})
	}
	_, err := d.Store().Update(context.Background(), files, func(_ context.Context, path string) (phash.Hash, error) {
		return hashes[path], nil
	})
	require.NoError(t, err)
}

// flipBits returns h with the given bit positions inverted.
func flipBits(h phash.Hash, positions ...uint) phash.Hash {
	for _, p := range positions {
		h ^= 1 << p
	}
	return h
}

func TestGroupDuplicates_NearPairExcludesOutlier(t *testing.T) {
	a := phash.Hash(0x0f0f0f0f0f0f0f0f)
	b := flipBits(a, 0, 33)                    // distance 2 from a
	c := a ^ 0xffffffffff                      // distance 40 from a
	require.Equal(t, 2, phash.Distance(a, b))
	require.Equal(t, 40, phash.Distance(a, c))

	d := NewDetector()
	seedStore(t, d, map[string]phash.Hash{
		"/pics/a.jpg": a,
		"/pics/b.jpg": b,
		"/pics/c.jpg": c,
	})

	groups := d.GroupDuplicates(5)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "/pics/a.jpg", g.Reference)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "/pics/a.jpg", g.Members[0].Path)
	assert.Zero(t, g.Members[0].Distance)
	assert.Equal(t, "/pics/b.jpg", g.Members[1].Path)
	assert.Equal(t, 2, g.Members[1].Distance)
}

func TestGroupDuplicates_TransitiveChain(t *testing.T) {
	a := phash.Hash(0)
	b := flipBits(a, 1, 2, 3, 4)       // 4 from a
	c := flipBits(b, 10, 11, 12, 13)   // 4 from b, 8 from a

	d := NewDetector()
	seedStore(t, d, map[string]phash.Hash{
		"/x/a.jpg": a,
		"/x/b.jpg": b,
		"/x/c.jpg": c,
	})

	groups := d.GroupDuplicates(5)
	require.Len(t, groups, 1, "a-b and b-c within threshold must chain into one group")
	assert.Len(t, groups[0].Members, 3)
}

func TestGroupDuplicates_ThresholdZeroBucketsByExactHash(t *testing.T) {
	d := NewDetector()
	seedStore(t, d, map[string]phash.Hash{
		"/x/orig.jpg":  0xdead,
		"/x/copy.jpg":  0xdead,
		"/x/other.jpg": 0xdeaf, // distance 2, outside threshold 0
	})

	groups := d.GroupDuplicates(0)
	require.Len(t, groups, 1)
	assert.Equal(t, "/x/copy.jpg", groups[0].Reference)
	require.Len(t, groups[0].Members, 2)
	for _, m := range groups[0].Members {
		assert.Zero(t, m.Distance)
	}
}

func TestGroupDuplicates_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	hashes := make(map[string]phash.Hash)
	for i := 0; i < 120; i++ {
		path := filepath.Join("/corpus", string(rune('a'+i%26)), time.Unix(int64(i), 0).Format("150405")+".jpg")
		if i%3 == 0 && i > 0 {
			// Perturb an earlier hash to force clusters.
			prev := hashes[keyAt(hashes, rng.Intn(len(hashes)))]
			hashes[path] = flipBits(prev, uint(rng.Intn(64)), uint(rng.Intn(64)))
		} else {
			hashes[path] = phash.Hash(rng.Uint64())
		}
	}

	d := NewDetector()
	seedStore(t, d, hashes)

	for _, threshold := range []int{0, 2, 5, 12} {
		groups := d.GroupDuplicates(threshold)
		seen := make(map[string]bool)
		for _, g := range groups {
			require.GreaterOrEqual(t, len(g.Members), 2)
			assert.Equal(t, g.Reference, g.Members[0].Path)
			for _, m := range g.Members {
				assert.False(t, seen[m.Path], "path %s appears in two groups at threshold %d", m.Path, threshold)
				seen[m.Path] = true
				assert.Equal(t, bits.OnesCount64(uint64(hashes[g.Reference]^m.Hash)), m.Distance)
			}
		}
	}
}

func keyAt(m map[string]phash.Hash, n int) string {
	for k := range m {
		if n == 0 {
			return k
		}
		n--
	}
	return ""
}

func TestSimilar_ExcludesOnlyExactPath(t *testing.T) {
	target := phash.Hash(0x1111)
	d := NewDetector()
	seedStore(t, d, map[string]phash.Hash{
		"/pics/query.jpg":    target,             // the query file itself
		"/pics/twin.jpg":     target,             // same content elsewhere
		"/pics/close.jpg":    flipBits(target, 7), // distance 1
		"/pics/far.jpg":      target ^ 0xffffffff, // distance 32
	})

	results := d.Similar(target, 5, "/pics/query.jpg")
	require.Len(t, results, 2)
	assert.Equal(t, "/pics/twin.jpg", results[0].Path)
	assert.Zero(t, results[0].Distance)
	assert.Equal(t, "/pics/close.jpg", results[1].Path)
	assert.Equal(t, 1, results[1].Distance)
}

func TestClosest_RanksBeyondThreshold(t *testing.T) {
	target := phash.Hash(0)
	d := NewDetector()
	seedStore(t, d, map[string]phash.Hash{
		"/p/d1.jpg":  flipBits(target, 0),                // 1, inside threshold
		"/p/d8.jpg":  flipBits(target, 0, 1, 2, 3, 4, 5, 6, 7), // 8
		"/p/d10.jpg": phash.Hash(0x3ff),                  // 10
		"/p/d20.jpg": phash.Hash(0xfffff),                // 20
	})

	results := d.Closest(target, 5, 2, "")
	require.Len(t, results, 2)
	assert.Equal(t, "/p/d8.jpg", results[0].Path)
	assert.Equal(t, 8, results[0].Distance)
	assert.Equal(t, "/p/d10.jpg", results[1].Path)
	assert.Equal(t, 10, results[1].Distance)
}

// writePNG renders img to path.
func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: uint8(255 * (x + y) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

func noise(w, h int, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func TestDetector_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "photo.png"), gradient(64, 48))
	writePNG(t, filepath.Join(dir, "photo_copy.png"), gradient(64, 48))
	writePNG(t, filepath.Join(dir, "unrelated.png"), noise(64, 48, 7))

	ctx := context.Background()
	d := NewDetector()

	groups, err := d.FindDuplicateGroups(ctx, dir, 5)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Members, 2)
	assert.Equal(t, filepath.Join(dir, "photo.png"), groups[0].Reference)

	// The snapshot landed next to the images.
	_, err = os.Stat(filepath.Join(dir, d.snapshotName))
	require.NoError(t, err)

	// Nothing changed, so a second pass hashes nothing.
	changed, err := d.BuildOrUpdateIndex(ctx, dir)
	require.NoError(t, err)
	assert.Zero(t, changed)

	// A fresh detector picks the index up from the snapshot.
	fresh := NewDetector()
	changed, err = fresh.BuildOrUpdateIndex(ctx, dir)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, 3, fresh.Store().Len())

	// Point query for the copy finds the original, not the copy itself.
	results, err := fresh.FindSimilar(ctx, dir, filepath.Join(dir, "photo_copy.png"), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, filepath.Join(dir, "photo.png"), results[0].Path)
	assert.Zero(t, results[0].Distance)
}
