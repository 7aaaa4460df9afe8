//go:build linux

// evdev capture source: reads struct input_event records from a
// multitouch device node and feeds them through the type-B decoder.
package capture

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"microplot-client/pkg/errors"
	"microplot-client/pkg/log"
)

// inputEventSize is sizeof(struct input_event) on 64-bit Linux:
// two 8-byte timeval words, type, code, value.
const inputEventSize = 24

// eviocgrab is the EVIOCGRAB ioctl request, _IOW('E', 0x90, int).
// x/sys/unix does not export the input ioctls.
const eviocgrab = 0x40044590

// EvdevSource reads touch events from a /dev/input/eventN device.
// Coordinates are delivered in raw device units; the surface dimensions
// in the [surface] config section must match the device's axis range.
type EvdevSource struct {
	device string
	file   *os.File
	grab   bool
	events chan Event
	logger *log.Logger
}

// OpenEvdev opens a multitouch device node. With grab set the device
// is claimed exclusively (EVIOCGRAB) so the desktop does not also see
// the touches.
func OpenEvdev(device string, grab bool, logger *log.Logger) (*EvdevSource, error) {
	if logger == nil {
		logger = log.GetLogger("capture")
	}

	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.CaptureSourceError(device, err)
	}

	if grab {
		if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1); err != nil {
			f.Close()
			return nil, errors.CaptureSourceError(device, err)
		}
	}

	s := &EvdevSource{
		device: device,
		file:   f,
		grab:   grab,
		events: make(chan Event, 64),
		logger: logger,
	}
	go s.readLoop()
	return s, nil
}

// Events returns the contact event stream.
func (s *EvdevSource) Events() <-chan Event {
	return s.events
}

// Close releases the device. The event channel closes once the read
// loop observes the closed file.
func (s *EvdevSource) Close() error {
	if s.grab {
		unix.IoctlSetInt(int(s.file.Fd()), eviocgrab, 0)
	}
	return s.file.Close()
}

// readLoop decodes raw input events until the device read fails.
func (s *EvdevSource) readLoop() {
	defer close(s.events)

	var dec mtDecoder
	buf := make([]byte, inputEventSize*32)

	for {
		n, err := s.file.Read(buf)
		if err != nil {
			s.logger.Info("capture source %s closed: %v", s.device, err)
			return
		}

		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			rec := buf[off : off+inputEventSize]
			typ := binary.LittleEndian.Uint16(rec[16:18])
			code := binary.LittleEndian.Uint16(rec[18:20])
			value := int32(binary.LittleEndian.Uint32(rec[20:24]))

			for _, ev := range dec.handle(typ, code, value) {
				s.events <- ev
			}
		}
	}
}
