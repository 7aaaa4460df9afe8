// Package transform maps capture-surface coordinates onto the plotter
// workspace. The capture surface has its origin in the top-left corner
// (screen convention); the workspace origin is bottom-left (machine
// convention), so the vertical axis is flipped during mapping.
package transform

// Params describes one capture-surface to workspace mapping.
type Params struct {
	// Capture surface dimensions in surface units (typically pixels).
	SurfaceWidth  float64
	SurfaceHeight float64

	// Workspace dimensions in machine units (mm).
	WorkspaceWidth  float64
	WorkspaceHeight float64

	// Workspace origin offset in machine units.
	OffsetX float64
	OffsetY float64
}

// Point is a position in workspace coordinates.
type Point struct {
	X float64
	Y float64
}

// ToWorkspace maps a capture-surface point to workspace coordinates.
// Out-of-bounds input is clamped to the nearest surface edge, never
// rejected. The result always lies within
// [OffsetX, OffsetX+WorkspaceWidth] x [OffsetY, OffsetY+WorkspaceHeight].
func ToWorkspace(x, y float64, p Params) Point {
	x = clamp(x, 0, p.SurfaceWidth)
	y = clamp(y, 0, p.SurfaceHeight)

	fx := x / p.SurfaceWidth
	fy := y / p.SurfaceHeight

	return Point{
		X: fx*p.WorkspaceWidth + p.OffsetX,
		Y: p.WorkspaceHeight - fy*p.WorkspaceHeight + p.OffsetY,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
