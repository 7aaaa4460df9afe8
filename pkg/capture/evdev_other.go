//go:build !linux

package capture

import (
	"fmt"

	"microplot-client/pkg/errors"
	"microplot-client/pkg/log"
)

// EvdevSource is only available on Linux.
type EvdevSource struct{}

// OpenEvdev fails on non-Linux platforms.
func OpenEvdev(device string, grab bool, logger *log.Logger) (*EvdevSource, error) {
	return nil, errors.CaptureSourceError(device,
		fmt.Errorf("evdev capture requires linux"))
}

// Events returns nil on non-Linux platforms.
func (s *EvdevSource) Events() <-chan Event { return nil }

// Close is a no-op on non-Linux platforms.
func (s *EvdevSource) Close() error { return nil }
