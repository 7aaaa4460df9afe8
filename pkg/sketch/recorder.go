// Package sketch captures multi-touch input into per-stroke paths.
// Each active contact accumulates an ordered point list; a minimum-distance
// sampling filter bounds path growth while a stroke is in motion, and the
// final point of every stroke is always preserved.
package sketch

import (
	"math"
	"sync"
	"time"

	"microplot-client/pkg/log"
	"microplot-client/pkg/metrics"
)

// Contact is one active touch input, identified by the capture surface.
type Contact struct {
	ID int64
	X  float64
	Y  float64
}

// Path is the ordered point sequence of one stroke, stored as a flat
// x0,y0,x1,y1,... coordinate list. A sealed path has an even length with
// at least one point and is never mutated again.
type Path []float64

// Points returns the number of points in the path.
func (p Path) Points() int {
	return len(p) / 2
}

// Last returns the final point of the path.
func (p Path) Last() (x, y float64) {
	return p[len(p)-2], p[len(p)-1]
}

func (p Path) clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Recorder tracks concurrent contacts and finalizes completed strokes into
// a path store. Paths of live contacts are keyed by their input identifier;
// on stroke end the path is rekeyed to a unique monotonic timestamp so a
// later stroke reusing the same input identifier can never collide with it.
//
// All input events are expected to arrive from a single event loop. The
// mutex only guards against concurrent snapshots from other goroutines
// (console status, program regeneration).
type Recorder struct {
	mu sync.Mutex

	// Resolution is the minimum Euclidean distance a contact must travel
	// before an intermediate point is recorded.
	resolution float64

	contacts map[int64]*Contact

	// Path store: insertion order is draw order.
	paths map[int64]Path
	order []int64

	lastSealKey int64

	subscribers map[int]func()
	nextSubID   int

	logger  *log.Logger
	metrics *metrics.PlotterMetrics
}

// NewRecorder creates a recorder with the given sampling resolution in
// surface units.
func NewRecorder(resolution float64, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.GetLogger("sketch")
	}
	return &Recorder{
		resolution:  resolution,
		contacts:    make(map[int64]*Contact),
		paths:       make(map[int64]Path),
		subscribers: make(map[int]func()),
		logger:      logger,
		metrics:     metrics.GlobalMetrics(),
	}
}

// SetResolution adjusts the sampling threshold (user-adjustable control).
func (r *Recorder) SetResolution(resolution float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolution = resolution
}

// Start registers a new contact and opens a path seeded with its starting
// point. A second Start for a live identifier is a double-tap edge the
// capture surface should not produce; it is logged and ignored.
func (r *Recorder) Start(id int64, x, y float64) {
	r.mu.Lock()
	if _, live := r.contacts[id]; live {
		r.mu.Unlock()
		r.logger.Warn("duplicate start for live contact %d, ignoring", id)
		return
	}
	// A cancelled stroke leaves its path stored under the input key.
	// Reseal it before the key is reused so the old ink survives and
	// the new path is not listed twice.
	if leftover, ok := r.paths[id]; ok {
		key := r.sealKey()
		delete(r.paths, id)
		r.paths[key] = leftover
		for i, k := range r.order {
			if k == id {
				r.order[i] = key
				break
			}
		}
	}
	r.contacts[id] = &Contact{ID: id, X: x, Y: y}
	r.paths[id] = Path{x, y}
	r.order = append(r.order, id)
	r.metrics.ActiveContacts.Set(nil, float64(len(r.contacts)))
	r.mu.Unlock()
	r.notify()
}

// Move appends a point to the contact's path if it traveled farther than
// the sampling resolution since the last recorded point. Events for
// unknown identifiers are dropped (contract violation of the capture
// surface, not fatal).
func (r *Recorder) Move(id int64, x, y float64) {
	r.mu.Lock()
	c, live := r.contacts[id]
	if !live {
		r.mu.Unlock()
		return
	}
	path := r.paths[id]
	lastX, lastY := path.Last()
	if math.Hypot(x-lastX, y-lastY) <= r.resolution {
		r.metrics.PointsDropped.Inc(nil)
		r.mu.Unlock()
		return
	}
	r.paths[id] = append(path, x, y)
	c.X, c.Y = x, y
	r.mu.Unlock()
	r.notify()
}

// End appends the final point unconditionally, retires the contact and
// seals its path under a fresh timestamp key. Stroke endpoints are always
// preserved even below the sampling resolution.
func (r *Recorder) End(id int64, x, y float64) {
	r.mu.Lock()
	_, live := r.contacts[id]
	if !live {
		r.mu.Unlock()
		return
	}
	path := r.paths[id]
	lastX, lastY := path.Last()
	if x != lastX || y != lastY {
		path = append(path, x, y)
	}
	delete(r.contacts, id)
	delete(r.paths, id)

	key := r.sealKey()
	r.paths[key] = path
	for i, k := range r.order {
		if k == id {
			r.order[i] = key
			break
		}
	}
	r.metrics.RecordStroke(path.Points())
	r.metrics.ActiveContacts.Set(nil, float64(len(r.contacts)))
	r.mu.Unlock()
	r.notify()
}

// Cancel retires a contact without sealing its path. The path stays in the
// store under the input identifier and receives no further points; a
// wholesale Reset remains the recovery path.
func (r *Recorder) Cancel(id int64) {
	r.mu.Lock()
	if _, live := r.contacts[id]; !live {
		r.mu.Unlock()
		return
	}
	delete(r.contacts, id)
	r.metrics.ActiveContacts.Set(nil, float64(len(r.contacts)))
	r.mu.Unlock()
	r.notify()
}

// Reset clears the path store and all live contacts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.contacts = make(map[int64]*Contact)
	r.paths = make(map[int64]Path)
	r.order = nil
	r.metrics.ActiveContacts.Set(nil, 0)
	r.mu.Unlock()
	r.notify()
}

// sealKey returns a unique, monotonically increasing key. Two strokes
// ended in the same nanosecond still get distinct keys.
func (r *Recorder) sealKey() int64 {
	key := time.Now().UnixNano()
	if key <= r.lastSealKey {
		key = r.lastSealKey + 1
	}
	r.lastSealKey = key
	return key
}

// Paths returns a copy of the store in draw order.
func (r *Recorder) Paths() []Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Path, 0, len(r.order))
	for _, key := range r.order {
		if p, ok := r.paths[key]; ok {
			out = append(out, p.clone())
		}
	}
	return out
}

// Keys returns the store keys in draw order.
func (r *Recorder) Keys() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.order))
	copy(out, r.order)
	return out
}

// ActiveContacts returns the number of live contacts.
func (r *Recorder) ActiveContacts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contacts)
}

// Subscribe registers a store-change callback and returns its matching
// deregistration. Callbacks run outside the recorder lock.
func (r *Recorder) Subscribe(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Recorder) notify() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
