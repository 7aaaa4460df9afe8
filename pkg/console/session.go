// Package console exposes the operator surface of the client: local
// session state, pass-through command submission with history, and the
// HTTP/websocket API consumed by the dashboard.
package console

import (
	"strings"
	"sync"

	"microplot-client/pkg/gcode"
)

// DefaultMaxHistory bounds the command history.
const DefaultMaxHistory = 100

// Session tracks operator-local state that the device does not report:
// the locally requested pause flag, whether the pen was lifted for a
// tool change, and the command history with its recall cursor.
type Session struct {
	mu         sync.Mutex
	paused     bool
	penRaised  bool
	history    []string
	maxHistory int
	// cursor points at the history entry returned by the last recall.
	// len(history) means "past the newest entry".
	cursor int
}

// NewSession creates a session with the given history bound. A bound of
// zero or less uses DefaultMaxHistory.
func NewSession(maxHistory int) *Session {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Session{
		maxHistory: maxHistory,
	}
}

// Record appends a submitted command to the history, drops the oldest
// entry when the bound is exceeded and resets the recall cursor. It
// also applies the command's local side effects: a tool change raises
// the pen and flips the pause flag, a motion command lowers the pen.
func (s *Session) Record(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, command)
	if len(s.history) > s.maxHistory {
		s.history = s.history[1:]
	}
	s.cursor = len(s.history)

	trimmed := strings.TrimSpace(command)
	if trimmed == gcode.ToolChange {
		s.penRaised = true
		s.paused = !s.paused
	} else if _, ok := gcode.ParseMotion(trimmed); ok {
		s.penRaised = false
	}
}

// Previous moves the recall cursor back and returns the command there.
// Returns false when the history is empty or the cursor is already at
// the oldest entry.
func (s *Session) Previous() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == 0 {
		return "", false
	}
	s.cursor--
	return s.history[s.cursor], true
}

// Next moves the recall cursor forward and returns the command there.
// Returns false when the cursor is past the newest entry.
func (s *Session) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.history)-1 {
		s.cursor = len(s.history)
		return "", false
	}
	s.cursor++
	return s.history[s.cursor], true
}

// History returns a copy of the recorded commands, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// SetPaused sets the local pause flag.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused returns the local pause flag.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// PenRaised reports whether the last tool change is still outstanding.
func (s *Session) PenRaised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penRaised
}
