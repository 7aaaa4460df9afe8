// Package stream drives a queued G-code program onto the device in
// batches, holding back while the device queue is above its high-water
// mark and draining to empty before the session completes.
package stream

import (
	"context"
	"sync"
	"time"

	"microplot-client/pkg/device"
	"microplot-client/pkg/errors"
	"microplot-client/pkg/log"
	"microplot-client/pkg/metrics"
)

// State is the externally visible streamer state.
type State int

const (
	// StateIdle means no session is in progress.
	StateIdle State = iota
	// StateSending means batches are being submitted to the device.
	StateSending
	// StateDraining means all batches are queued and the device is
	// working the queue down to empty.
	StateDraining
)

// String returns the operator-facing state name. Draining is reported
// as "drawing" since that is what the machine is doing.
func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateDraining:
		return "drawing"
	default:
		return "idle"
	}
}

// Config holds the streaming parameters, normally read from the
// [streamer] config section.
type Config struct {
	// BatchSize is the number of commands submitted per request.
	BatchSize int
	// HighWater is the device queue depth above which submission
	// backs off.
	HighWater int
	// PollInterval is the fixed wait between status polls while
	// backing off or draining.
	PollInterval time.Duration
	// BatchDelay is the pause between consecutive batch submissions.
	BatchDelay time.Duration
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    5,
		HighWater:    80,
		PollInterval: 5 * time.Second,
		BatchDelay:   500 * time.Millisecond,
	}
}

// Device is the slice of the device client the streamer needs.
type Device interface {
	Status(ctx context.Context) (device.Status, error)
	SubmitGCode(ctx context.Context, commands []string) error
}

// Streamer runs at most one streaming session at a time. A second
// Stream call while one is in flight is rejected, not queued.
type Streamer struct {
	dev     Device
	cfg     Config
	logger  *log.Logger
	metrics *metrics.PlotterMetrics

	mu         sync.Mutex
	inProgress bool
	state      State
	subs       map[int]func(State)
	nextSub    int

	// sleep is replaced in tests to avoid real waits. It must honor
	// ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStreamer creates a streamer over the given device.
func NewStreamer(dev Device, cfg Config, logger *log.Logger) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = DefaultConfig().HighWater
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultConfig().BatchDelay
	}
	if logger == nil {
		logger = log.GetLogger("stream")
	}
	return &Streamer{
		dev:     dev,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.GlobalMetrics(),
		subs:    make(map[int]func(State)),
		sleep:   ctxSleep,
	}
}

// State returns the current streamer state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InProgress reports whether a session is running.
func (s *Streamer) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// Subscribe registers fn to be called on every state transition. The
// returned function removes the subscription.
func (s *Streamer) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// setState updates the state and notifies subscribers outside the lock.
func (s *Streamer) setState(state State) {
	s.mu.Lock()
	s.state = state
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.metrics.StreamState.Set(nil, float64(state))
	for _, fn := range fns {
		fn(state)
	}
}

// Stream submits the program to the device in batches and returns once
// the device queue has fully drained. Exactly one session may run at a
// time; a concurrent call fails immediately with a session-active
// error. Any poll or submission error terminates the session. The
// in-progress flag is cleared on every exit path.
func (s *Streamer) Stream(ctx context.Context, commands []string) error {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.metrics.SessionsRejected.Inc(nil)
		return errors.SessionActiveError()
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
		s.setState(StateIdle)
	}()

	s.metrics.SessionsStarted.Inc(nil)
	s.setState(StateSending)
	s.logger.Info("streaming session started: %d commands", len(commands))

	for start := 0; start < len(commands); start += s.cfg.BatchSize {
		if err := s.waitBelowHighWater(ctx); err != nil {
			s.metrics.SessionsFailed.Inc(nil)
			return err
		}

		end := start + s.cfg.BatchSize
		if end > len(commands) {
			end = len(commands)
		}
		batch := commands[start:end]

		began := time.Now()
		if err := s.dev.SubmitGCode(ctx, batch); err != nil {
			s.metrics.SessionsFailed.Inc(nil)
			s.logger.Error("batch submission failed: %v", err)
			return err
		}
		s.metrics.RecordBatch(len(batch), time.Since(began))

		if end < len(commands) {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				s.metrics.SessionsFailed.Inc(nil)
				return err
			}
		}
	}

	s.setState(StateDraining)
	if err := s.drain(ctx); err != nil {
		s.metrics.SessionsFailed.Inc(nil)
		return err
	}

	s.metrics.SessionsCompleted.Inc(nil)
	s.logger.Info("streaming session complete")
	return nil
}

// waitBelowHighWater polls the device queue depth and sleeps for the
// poll interval until it falls to the high-water mark or below.
func (s *Streamer) waitBelowHighWater(ctx context.Context) error {
	for {
		depth, err := s.queueDepth(ctx)
		if err != nil {
			return err
		}
		if depth <= s.cfg.HighWater {
			return nil
		}
		s.metrics.BackoffWaits.Inc(nil)
		s.logger.Debug("queue depth %d above high water %d, backing off",
			depth, s.cfg.HighWater)
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// drain polls until the device queue is empty.
func (s *Streamer) drain(ctx context.Context) error {
	for {
		depth, err := s.queueDepth(ctx)
		if err != nil {
			return err
		}
		if depth == 0 {
			return nil
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// queueDepth performs one status poll and records its metrics.
func (s *Streamer) queueDepth(ctx context.Context) (int, error) {
	began := time.Now()
	st, err := s.dev.Status(ctx)
	s.metrics.RecordPoll(time.Since(began), err)
	if err != nil {
		s.logger.Error("status poll failed: %v", err)
		return 0, err
	}
	s.metrics.SetDeviceStatus(st.QueueSize, st.X, st.Y, st.Paused)
	return st.QueueSize, nil
}

// ctxSleep waits for d or until ctx is canceled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
