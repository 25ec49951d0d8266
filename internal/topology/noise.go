// Signal-noise field over the coordinate plane — deterministic from seed.
package topology

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// NoiseField models ambient signal noise across the network. Radar scores
// degrade in noisy regions. The field is static for a given seed so scan
// results are reproducible.
type NoiseField struct {
	noise opensimplex.Noise
}

// NewNoiseField creates a noise field from a world seed.
func NewNoiseField(seed int64) *NoiseField {
	return &NoiseField{noise: opensimplex.NewNormalized(seed)}
}

// At returns the noise level at a coordinate in [0, 1).
// Layered octaves give large quiet basins with small hot spots.
func (f *NoiseField) At(c Coord) float64 {
	return octaveNoise(f.noise, c.X, c.Y, 3, 0.004, 0.5)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
