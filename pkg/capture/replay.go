// Replay capture source: feeds recorded contact events from a text
// script. Used for development without a touch panel and in tests.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"microplot-client/pkg/log"
)

// ReplaySource reads a contact script line by line. The format is one
// event per line:
//
//	start <id> <x> <y>
//	move <id> <x> <y>
//	end <id> <x> <y>
//	cancel <id>
//	wait <milliseconds>
//
// Blank lines and lines starting with '#' are skipped.
type ReplaySource struct {
	events chan Event
	done   chan struct{}
	logger *log.Logger
}

// NewReplaySource starts replaying the script from r.
func NewReplaySource(r io.Reader, logger *log.Logger) *ReplaySource {
	if logger == nil {
		logger = log.GetLogger("capture")
	}
	s := &ReplaySource{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run(r)
	return s
}

// Events returns the contact event stream.
func (s *ReplaySource) Events() <-chan Event {
	return s.events
}

// Close stops the replay. The event channel closes once the replay
// goroutine observes the stop.
func (s *ReplaySource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *ReplaySource) run(r io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ev, wait, err := parseReplayLine(line)
		if err != nil {
			s.logger.Warn("replay line %d skipped: %v", lineNum, err)
			continue
		}

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.done:
				return
			}
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// parseReplayLine parses one script line into either an event or a
// wait duration.
func parseReplayLine(line string) (Event, time.Duration, error) {
	fields := strings.Fields(line)
	op := fields[0]

	parseID := func() (int64, error) {
		if len(fields) < 2 {
			return 0, fmt.Errorf("%s needs an id", op)
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	parseXY := func() (float64, float64, error) {
		if len(fields) < 4 {
			return 0, 0, fmt.Errorf("%s needs id x y", op)
		}
		x, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return 0, 0, err
		}
		y, err := strconv.ParseFloat(fields[3], 64)
		return x, y, err
	}

	switch op {
	case "start", "move", "end":
		id, err := parseID()
		if err != nil {
			return Event{}, 0, err
		}
		x, y, err := parseXY()
		if err != nil {
			return Event{}, 0, err
		}
		kind := KindStart
		switch op {
		case "move":
			kind = KindMove
		case "end":
			kind = KindEnd
		}
		return Event{Kind: kind, ID: id, X: x, Y: y}, 0, nil

	case "cancel":
		id, err := parseID()
		if err != nil {
			return Event{}, 0, err
		}
		return Event{Kind: KindCancel, ID: id}, 0, nil

	case "wait":
		if len(fields) < 2 {
			return Event{}, 0, fmt.Errorf("wait needs milliseconds")
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil {
			return Event{}, 0, err
		}
		return Event{}, time.Duration(ms) * time.Millisecond, nil
	}

	return Event{}, 0, fmt.Errorf("unknown op %q", op)
}
