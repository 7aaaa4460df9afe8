// Package gcode holds the plotter command vocabulary: the encoder that
// turns captured sketch paths into a motion program, and the small parser
// subset needed to recognize motion commands on the receiving side.
package gcode

import (
	"regexp"
	"strconv"
)

// Directives the console can pass through verbatim. The encoder itself
// only ever emits AbsolutePositioning, rapid/linear moves and Eject.
const (
	AbsolutePositioning = "G90"
	RelativePositioning = "G91"
	Home                = "G28"
	ToolChange          = "M6"
	ScalingOff          = "G50"
	Eject               = "M104"
)

// motionRe matches "G0 X<n> Y<n>" / "G1 X<n> Y<n>" motion commands, the
// same pattern the device firmware recognizes.
var motionRe = regexp.MustCompile(`^\s*G(0|1)\s*[Xx](-?\d+(?:\.\d+)?)\s*[Yy](-?\d+(?:\.\d+)?)\s*$`)

// Motion is a parsed linear move.
type Motion struct {
	// Rapid is true for G0 (tool raised), false for G1 (tool down).
	Rapid bool
	X     float64
	Y     float64
}

// ParseMotion parses a motion command. ok is false for any command that is
// not a G0/G1 linear move.
func ParseMotion(command string) (m Motion, ok bool) {
	groups := motionRe.FindStringSubmatch(command)
	if groups == nil {
		return Motion{}, false
	}
	m.Rapid = groups[1] == "0"
	m.X, _ = strconv.ParseFloat(groups[2], 64)
	m.Y, _ = strconv.ParseFloat(groups[3], 64)
	return m, true
}

// IsEject reports whether the command is the eject/finish directive.
func IsEject(command string) bool {
	return eject.MatchString(command)
}

var eject = regexp.MustCompile(`^\s*M104\s*$`)
