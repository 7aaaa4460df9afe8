// Package capture turns touch input into recorder events. Sources
// deliver a stream of contact events; the evdev source reads a Linux
// multitouch device, the replay source reads a recorded script.
package capture

import (
	"microplot-client/pkg/sketch"
)

// Kind classifies a contact event.
type Kind int

const (
	// KindStart begins a new contact.
	KindStart Kind = iota
	// KindMove updates a live contact's position.
	KindMove
	// KindEnd lifts a contact.
	KindEnd
	// KindCancel retires a contact without a final point.
	KindCancel
)

// Event is one contact transition in surface coordinates.
type Event struct {
	Kind Kind
	ID   int64
	X    float64
	Y    float64
}

// Source produces contact events until closed. The events channel is
// closed when the source ends or fails.
type Source interface {
	Events() <-chan Event
	Close() error
}

// Pump feeds a source into the recorder until the source's event
// channel closes.
func Pump(src Source, rec *sketch.Recorder) {
	for ev := range src.Events() {
		switch ev.Kind {
		case KindStart:
			rec.Start(ev.ID, ev.X, ev.Y)
		case KindMove:
			rec.Move(ev.ID, ev.X, ev.Y)
		case KindEnd:
			rec.End(ev.ID, ev.X, ev.Y)
		case KindCancel:
			rec.Cancel(ev.ID)
		}
	}
}
