// Package phash computes 64-bit perceptual hashes of decoded images.
//
// The hash is derived from the low-frequency DCT coefficients of a
// downsampled luminance grid, so re-encoded, resized or lightly edited
// copies of the same picture land within a small Hamming distance of each
// other. The function is deterministic: identical pixel content always
// produces the identical hash.
package phash

import (
	"fmt"
	"image"
	"math/bits"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// sampleSide is the square the luminance channel is resampled to
	// before the frequency transform. Lanczos resampling suppresses the
	// high-frequency noise introduced by resizing and recompression.
	sampleSide = 32

	// blockSide is the retained low-frequency coefficient block; its
	// blockSide*blockSide entries become the 64 hash bits.
	blockSide = 8
)

// Hash is a 64-bit perceptual fingerprint. The metric between hashes is
// Hamming distance.
type Hash uint64

// FromImage computes the perceptual hash of a decoded image.
//
// Pipeline: grayscale -> 32x32 Lanczos resample -> 2D DCT-II -> 8x8
// low-frequency block -> median threshold. Bits are packed row-major over
// the 8x8 block with coefficient (0,0) at the most significant bit.
func FromImage(img image.Image) Hash {
	small := imaging.Resize(imaging.Grayscale(img), sampleSide, sampleSide, imaging.Lanczos)

	grid := make([]float64, sampleSide*sampleSide)
	for y := 0; y < sampleSide; y++ {
		for x := 0; x < sampleSide; x++ {
			// Grayscale output has R == G == B.
			grid[y*sampleSide+x] = float64(small.NRGBAAt(x, y).R)
		}
	}

	freq := dct2d(grid, sampleSide)

	block := make([]float64, 0, blockSide*blockSide)
	for y := 0; y < blockSide; y++ {
		for x := 0; x < blockSide; x++ {
			block = append(block, freq[y*sampleSide+x])
		}
	}

	med := median(block)

	var h Hash
	for i, c := range block {
		if c > med {
			h |= 1 << (63 - i)
		}
	}
	return h
}

// Distance returns the Hamming distance between two hashes: the number of
// differing bits, in [0, 64].
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// dct2d applies a DCT-II along every row, then along every column, of a
// side*side grid stored row-major.
func dct2d(grid []float64, side int) []float64 {
	dct := fourier.NewDCT(side)

	out := make([]float64, len(grid))
	row := make([]float64, side)
	for y := 0; y < side; y++ {
		dct.Transform(out[y*side:(y+1)*side], grid[y*side:(y+1)*side])
	}
	col := make([]float64, side)
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			col[y] = out[y*side+x]
		}
		dct.Transform(row, col)
		for y := 0; y < side; y++ {
			out[y*side+x] = row[y]
		}
	}
	return out
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// String renders the hash as fixed-width hex.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// MarshalText implements encoding.TextMarshaler so hashes serialize as hex
// in the persisted snapshot.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", text, err)
	}
	*h = Hash(v)
	return nil
}
