// Package preprocessing converts raw grayscale pixel grids into normalized
// model input tensors, with optional training-time augmentation.
package preprocessing

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/emotrain/tensor"
)

// AugmentConfig controls the stochastic training-time transforms. All ranges
// are applied in raw [0, 255] pixel space, before normalization.
type AugmentConfig struct {
	FlipProbability float64 // chance of a horizontal mirror
	BrightnessRange float64 // uniform additive shift in [-r, +r]
	ContrastMin     float64 // lower bound of the contrast ratio
	ContrastMax     float64 // upper bound of the contrast ratio
}

// DefaultAugmentConfig returns the standard facial image augmentation
// settings.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		FlipProbability: 0.5,
		BrightnessRange: 40.0,
		ContrastMin:     0.8,
		ContrastMax:     1.2,
	}
}

// Augmenter applies random horizontal flips, brightness shifts, and contrast
// scaling to raw pixel grids. Every random draw comes from the supplied
// generator, so the same seed always produces the same transforms.
type Augmenter struct {
	cfg  AugmentConfig
	size int
}

// NewAugmenter validates the config and returns an augmenter for square
// grids of the given side length.
func NewAugmenter(cfg AugmentConfig, size int) (*Augmenter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid grid size: %d", size)
	}
	if cfg.FlipProbability < 0 || cfg.FlipProbability > 1 {
		return nil, fmt.Errorf("flip probability %g outside [0, 1]", cfg.FlipProbability)
	}
	if cfg.BrightnessRange < 0 {
		return nil, fmt.Errorf("negative brightness range: %g", cfg.BrightnessRange)
	}
	if cfg.ContrastMin <= 0 || cfg.ContrastMax < cfg.ContrastMin {
		return nil, fmt.Errorf("invalid contrast range [%g, %g]", cfg.ContrastMin, cfg.ContrastMax)
	}
	return &Augmenter{cfg: cfg, size: size}, nil
}

// Apply returns an augmented copy of the pixel grid. The input is never
// modified. Exactly three draws are taken from rng per call regardless of
// which transforms fire, keeping downstream draws aligned across samples.
func (a *Augmenter) Apply(pixels []uint8, rng *rand.Rand) []uint8 {
	out := make([]uint8, len(pixels))
	copy(out, pixels)

	flip := rng.Float64() < a.cfg.FlipProbability
	shift := (rng.Float64()*2 - 1) * a.cfg.BrightnessRange
	ratio := a.cfg.ContrastMin + rng.Float64()*(a.cfg.ContrastMax-a.cfg.ContrastMin)

	if flip {
		flipHorizontal(out, a.size)
	}
	if shift != 0 {
		applyBrightness(out, shift)
	}
	if ratio != 1 {
		applyContrast(out, ratio)
	}
	return out
}

func flipHorizontal(pixels []uint8, size int) {
	for y := 0; y < size; y++ {
		row := pixels[y*size : (y+1)*size]
		for x := 0; x < size/2; x++ {
			row[x], row[size-1-x] = row[size-1-x], row[x]
		}
	}
}

func applyBrightness(pixels []uint8, shift float64) {
	for i, p := range pixels {
		pixels[i] = clampByte(float64(p) + shift)
	}
}

// applyContrast scales pixel deviation from the image mean, so the overall
// intensity level is preserved while detail is stretched or compressed.
func applyContrast(pixels []uint8, ratio float64) {
	sum := 0.0
	for _, p := range pixels {
		sum += float64(p)
	}
	mean := sum / float64(len(pixels))
	for i, p := range pixels {
		pixels[i] = clampByte(mean + (float64(p)-mean)*ratio)
	}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// Normalizer converts a raw grayscale grid into the model input layout:
// resized to the target side length, replicated to three channels, and
// scaled from [0, 255] to [-1, 1]. The mapping is fully deterministic.
type Normalizer struct {
	sourceSize int
	targetSize int
}

// NewNormalizer returns a normalizer mapping sourceSize grids to
// [3, targetSize, targetSize] tensors.
func NewNormalizer(sourceSize, targetSize int) (*Normalizer, error) {
	if sourceSize <= 0 {
		return nil, fmt.Errorf("invalid source size: %d", sourceSize)
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size: %d", targetSize)
	}
	return &Normalizer{sourceSize: sourceSize, targetSize: targetSize}, nil
}

// TargetShape returns the CHW shape of normalized output.
func (n *Normalizer) TargetShape() []int {
	return []int{3, n.targetSize, n.targetSize}
}

// Apply normalizes one pixel grid into a fresh [3, T, T] tensor.
func (n *Normalizer) Apply(pixels []uint8) (*tensor.Tensor, error) {
	if len(pixels) != n.sourceSize*n.sourceSize {
		return nil, fmt.Errorf("pixel count %d doesn't match source size %d", len(pixels), n.sourceSize)
	}

	t := tensor.New(3, n.targetSize, n.targetSize)
	n.ApplyInto(pixels, t.Data)
	return t, nil
}

// ApplyInto writes the normalized image into dst, which must hold at least
// 3*T*T values. Used by batch loaders to fill one sample of a preallocated
// batch tensor without allocating.
func (n *Normalizer) ApplyInto(pixels []uint8, dst []float64) {
	T := n.targetSize
	plane := T * T

	// Nearest-neighbor resize into the first channel plane, then the
	// grayscale value is replicated across all three channels.
	scale := float64(n.sourceSize) / float64(T)
	for y := 0; y < T; y++ {
		sy := int(float64(y) * scale)
		if sy >= n.sourceSize {
			sy = n.sourceSize - 1
		}
		for x := 0; x < T; x++ {
			sx := int(float64(x) * scale)
			if sx >= n.sourceSize {
				sx = n.sourceSize - 1
			}
			v := float64(pixels[sy*n.sourceSize+sx])/127.5 - 1.0
			idx := y*T + x
			dst[idx] = v
			dst[plane+idx] = v
			dst[2*plane+idx] = v
		}
	}
}

// OneHot writes a one-hot encoding of label into a fresh vector of
// numClasses values.
func OneHot(label, numClasses int) ([]float64, error) {
	if label < 0 || label >= numClasses {
		return nil, fmt.Errorf("label %d outside [0, %d)", label, numClasses)
	}
	v := make([]float64, numClasses)
	v[label] = 1.0
	return v, nil
}
