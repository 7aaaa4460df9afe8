package gcode

import (
	"fmt"

	"microplot-client/pkg/sketch"
	"microplot-client/pkg/transform"
)

// Program is an ordered sequence of textual motion commands. It is
// immutable once produced; a store change always regenerates the whole
// program.
type Program []string

// Encode serializes sketch paths into a motion program. For each path in
// draw order it emits a rapid move to the first point followed by one
// controlled move per subsequent point, every coordinate mapped through
// the workspace transform at 3-decimal precision. The program is framed
// with an absolute-positioning directive and the eject directive.
//
// Encoding is deterministic: the same paths and params always produce an
// identical program.
func Encode(paths []sketch.Path, p transform.Params) Program {
	program := Program{AbsolutePositioning}
	for _, path := range paths {
		for i := 0; i+1 < len(path); i += 2 {
			pt := transform.ToWorkspace(path[i], path[i+1], p)
			op := "G1"
			if i == 0 {
				op = "G0"
			}
			program = append(program, fmt.Sprintf("%s X%.3f Y%.3f", op, pt.X, pt.Y))
		}
	}
	return append(program, Eject)
}
