package phash

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientImage produces a deterministic test image with enough structure
// for the DCT to latch onto.
func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7 + y*13) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func noiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func TestFromImage_Deterministic(t *testing.T) {
	img := gradientImage(200, 150)

	h1 := FromImage(img)
	h2 := FromImage(img)

	assert.Equal(t, h1, h2, "same pixel content must yield the same hash")
	assert.Zero(t, Distance(h1, h2))
}

func TestFromImage_ResizedCopyIsClose(t *testing.T) {
	img := gradientImage(320, 240)
	resized := imaging.Resize(img, 160, 120, imaging.Lanczos)

	d := Distance(FromImage(img), FromImage(resized))
	assert.LessOrEqual(t, d, 10, "a resized copy should stay within a small Hamming distance")
}

func TestFromImage_DifferentContentIsFar(t *testing.T) {
	a := FromImage(gradientImage(100, 100))
	b := FromImage(noiseImage(100, 100, 42))

	assert.Greater(t, Distance(a, b), 10, "unrelated images should not collide within duplicate range")
}

func TestDistance_MetricProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		a := Hash(rng.Uint64())
		b := Hash(rng.Uint64())
		c := Hash(rng.Uint64())

		require.Equal(t, Distance(a, b), Distance(b, a), "symmetry")
		require.Zero(t, Distance(a, a), "identity")
		require.LessOrEqual(t, Distance(a, c), Distance(a, b)+Distance(b, c), "triangle inequality")
	}
}

func TestDistance_Bounds(t *testing.T) {
	assert.Equal(t, 64, Distance(0, ^Hash(0)))
	assert.Equal(t, 1, Distance(0, 1))
}

func TestHash_TextRoundTrip(t *testing.T) {
	h := Hash(0xdeadbeef01234567)

	text, err := h.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef01234567", string(text))

	var back Hash
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, h, back)

	var invalid Hash
	assert.Error(t, invalid.UnmarshalText([]byte("not-hex")))
}
