// Type-B multitouch protocol decoder.
//
// Type-B devices multiplex contacts over slots: ABS_MT_SLOT selects the
// slot the following axis events apply to, ABS_MT_TRACKING_ID assigns
// (or, with -1, retires) the contact in that slot, and SYN_REPORT
// commits the accumulated changes.
package capture

// Linux input event constants (input-event-codes.h).
const (
	evSyn = 0x00
	evAbs = 0x03

	synReport  = 0x00
	synDropped = 0x03

	absMTSlot       = 0x2f
	absMTPositionX  = 0x35
	absMTPositionY  = 0x36
	absMTTrackingID = 0x39
)

// maxSlots bounds the slot table. Touch controllers rarely report more
// than ten contacts.
const maxSlots = 16

// slotState is the accumulated state of one slot between SYN_REPORTs.
type slotState struct {
	trackingID int64
	x, y       float64
	live       bool // contact currently down
	started    bool // KindStart already emitted
	moved      bool // position changed since last report
	opened     bool // tracking id assigned this report
	closed     bool // tracking id retired this report
}

// mtDecoder converts raw type-B event triples into contact events.
type mtDecoder struct {
	slots [maxSlots]slotState
	slot  int
}

// handle consumes one raw input event and returns any contact events it
// completes. Events are only produced on SYN_REPORT.
func (d *mtDecoder) handle(typ, code uint16, value int32) []Event {
	switch typ {
	case evAbs:
		d.handleAbs(code, value)
		return nil
	case evSyn:
		switch code {
		case synReport:
			return d.flush()
		case synDropped:
			// Driver lost events; retire everything so the recorder
			// does not continue stale strokes.
			return d.reset()
		}
	}
	return nil
}

func (d *mtDecoder) handleAbs(code uint16, value int32) {
	switch code {
	case absMTSlot:
		if value >= 0 && int(value) < maxSlots {
			d.slot = int(value)
		}
	case absMTTrackingID:
		s := &d.slots[d.slot]
		if value < 0 {
			if s.live {
				s.closed = true
			}
		} else {
			s.trackingID = int64(value)
			s.live = true
			s.opened = true
		}
	case absMTPositionX:
		s := &d.slots[d.slot]
		s.x = float64(value)
		s.moved = true
	case absMTPositionY:
		s := &d.slots[d.slot]
		s.y = float64(value)
		s.moved = true
	}
}

// flush emits the contact transitions accumulated since the previous
// report and clears the per-report flags.
func (d *mtDecoder) flush() []Event {
	var events []Event
	for i := range d.slots {
		s := &d.slots[i]
		switch {
		case s.closed:
			events = append(events, Event{Kind: KindEnd, ID: s.trackingID, X: s.x, Y: s.y})
			*s = slotState{}
		case s.opened && !s.started:
			events = append(events, Event{Kind: KindStart, ID: s.trackingID, X: s.x, Y: s.y})
			s.started = true
		case s.live && s.moved:
			events = append(events, Event{Kind: KindMove, ID: s.trackingID, X: s.x, Y: s.y})
		}
		s.opened = false
		s.moved = false
	}
	return events
}

// reset cancels all live contacts, used after SYN_DROPPED.
func (d *mtDecoder) reset() []Event {
	var events []Event
	for i := range d.slots {
		s := &d.slots[i]
		if s.live && s.started {
			events = append(events, Event{Kind: KindCancel, ID: s.trackingID})
		}
		*s = slotState{}
	}
	d.slot = 0
	return events
}
