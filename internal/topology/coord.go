// Package topology provides the network coordinate space agents live in:
// a 2D embedding of measured latency, a symmetric distance metric, and a
// static signal-noise field over the plane.
package topology

import "math"

// Coord is an agent's position in the latency embedding. Units are
// milliseconds of round-trip distance along each axis.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the symmetric euclidean distance between two coordinates.
func Distance(a, b Coord) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Region identifies a coarse cell of the coordinate plane. Weather events
// that hit "a region" (GLITCH) affect every agent whose coordinate falls
// in the same cell.
type Region struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

// regionSize is the edge length of a region cell in coordinate units.
const regionSize = 200.0

// RegionOf returns the region cell containing c.
func RegionOf(c Coord) Region {
	return Region{
		CX: int(math.Floor(c.X / regionSize)),
		CY: int(math.Floor(c.Y / regionSize)),
	}
}
