// Package lod maps camera distance to discrete fidelity tiers for the
// smooth-terrain pipeline.
package lod

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Level is a fidelity tier. Order matters: Voxel is the closest/highest
// tier and VeryLow the farthest; larger values mean lower fidelity.
type Level int

const (
	Voxel Level = iota // raw voxel rendering, no smooth mesh
	High
	Medium
	Low
	VeryLow
)

func (l Level) String() string {
	switch l {
	case Voxel:
		return "voxel"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case VeryLow:
		return "very_low"
	default:
		return "unknown"
	}
}

// Params are the extraction knobs a tier carries. Fidelity decreases
// monotonically down the tiers: resolution and smoothing never
// increase, the simplification threshold never decreases.
type Params struct {
	ResolutionFactor  int
	SmoothIterations  int
	SimplifyThreshold float64
}

var levelParams = map[Level]Params{
	High:    {ResolutionFactor: 2, SmoothIterations: 3, SimplifyThreshold: 0},
	Medium:  {ResolutionFactor: 1, SmoothIterations: 2, SimplifyThreshold: 0.25},
	Low:     {ResolutionFactor: 1, SmoothIterations: 1, SimplifyThreshold: 0.5},
	VeryLow: {ResolutionFactor: 1, SmoothIterations: 0, SimplifyThreshold: 0.75},
}

func (l Level) Params() Params { return levelParams[l] }

// SmoothLevels lists the tiers that carry a smooth mesh, nearest first.
var SmoothLevels = []Level{High, Medium, Low, VeryLow}

// Bounds is the world-space box of a chunk.
type Bounds struct {
	Min, Max r3.Vec
}

func (b Bounds) center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

func (b Bounds) size() float64 {
	s := b.Max.X - b.Min.X
	if d := b.Max.Y - b.Min.Y; d > s {
		s = d
	}
	if d := b.Max.Z - b.Min.Z; d > s {
		s = d
	}
	return s
}

// Selector maps screen-space error estimates to levels. Thresholds are
// strictly decreasing; the screen error itself is strictly decreasing
// in distance, which makes selection monotone: fidelity never increases
// with distance.
type Selector struct {
	// Thresholds for Voxel, High, Medium, Low in that order. Anything
	// below the last threshold selects VeryLow.
	Thresholds [4]float64
}

func NewSelector() *Selector {
	return &Selector{Thresholds: [4]float64{0.1, 0.05, 0.02, 0.01}}
}

// Select picks the level for a chunk seen from camera. bias > 0 pushes
// toward higher fidelity, bias < 0 toward lower.
func (s *Selector) Select(chunk Bounds, camera r3.Vec, bias float64) Level {
	dist := r3.Norm(r3.Sub(camera, chunk.center()))
	if dist <= 0 {
		return Voxel
	}
	screenError := chunk.size() / dist
	adjusted := screenError * (1 + bias)

	switch {
	case adjusted > s.Thresholds[0]:
		return Voxel
	case adjusted > s.Thresholds[1]:
		return High
	case adjusted > s.Thresholds[2]:
		return Medium
	case adjusted > s.Thresholds[3]:
		return Low
	default:
		return VeryLow
	}
}
