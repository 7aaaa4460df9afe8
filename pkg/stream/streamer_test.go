package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microplot-client/pkg/device"
	"microplot-client/pkg/errors"
)

// fakeDevice scripts poll results and records submitted batches. The
// last entry in depths repeats for any further polls.
type fakeDevice struct {
	mu        sync.Mutex
	depths    []int
	pollIdx   int
	pollErr   map[int]error
	batches   [][]string
	submitErr map[int]error
}

func (f *fakeDevice) Status(ctx context.Context) (device.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollIdx
	f.pollIdx++
	if err := f.pollErr[i]; err != nil {
		return device.Status{}, err
	}
	depth := 0
	if len(f.depths) > 0 {
		if i < len(f.depths) {
			depth = f.depths[i]
		} else {
			depth = f.depths[len(f.depths)-1]
		}
	}
	return device.Status{
		QueueSize:        depth,
		Positioning:      "absolute",
		CoordinateSystem: "G54",
	}, nil
}

func (f *fakeDevice) SubmitGCode(ctx context.Context, commands []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[len(f.batches)]; err != nil {
		return err
	}
	f.batches = append(f.batches, append([]string(nil), commands...))
	return nil
}

func (f *fakeDevice) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollIdx
}

// newTestStreamer returns a streamer whose sleeps complete instantly
// but are recorded.
func newTestStreamer(dev *fakeDevice, cfg Config) (*Streamer, *[]time.Duration) {
	s := NewStreamer(dev, cfg, nil)
	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		*sleeps = append(*sleeps, d)
		return nil
	}
	return s, sleeps
}

func commands(n int) []string {
	cmds := make([]string, n)
	for i := range cmds {
		cmds[i] = "G1 X0.000 Y0.000"
	}
	return cmds
}

func TestStreamBatches(t *testing.T) {
	dev := &fakeDevice{depths: []int{0}}
	s, sleeps := newTestStreamer(dev, DefaultConfig())

	err := s.Stream(context.Background(), commands(12))
	require.NoError(t, err)

	// 12 commands at batch size 5 -> 5, 5, 2
	require.Len(t, dev.batches, 3)
	assert.Len(t, dev.batches[0], 5)
	assert.Len(t, dev.batches[1], 5)
	assert.Len(t, dev.batches[2], 2)

	// Batch delay between batches, none after the last.
	delays := 0
	for _, d := range *sleeps {
		if d == s.cfg.BatchDelay {
			delays++
		}
	}
	assert.Equal(t, 2, delays)

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.InProgress())
}

func TestStreamBacksOffAboveHighWater(t *testing.T) {
	// First poll above the mark, second below, then drain.
	dev := &fakeDevice{depths: []int{95, 10, 0}}
	s, sleeps := newTestStreamer(dev, DefaultConfig())

	err := s.Stream(context.Background(), commands(3))
	require.NoError(t, err)
	require.Len(t, dev.batches, 1)

	waits := 0
	for _, d := range *sleeps {
		if d == s.cfg.PollInterval {
			waits++
		}
	}
	assert.Equal(t, 1, waits)
}

func TestStreamDrainsToZero(t *testing.T) {
	// Sending poll sees 0, then the drain phase sees 4, 2, 0.
	dev := &fakeDevice{depths: []int{0, 4, 2, 0}}
	s, _ := newTestStreamer(dev, DefaultConfig())

	err := s.Stream(context.Background(), commands(2))
	require.NoError(t, err)
	assert.Equal(t, 4, dev.polls())
}

func TestStreamRejectsConcurrentSession(t *testing.T) {
	dev := &fakeDevice{depths: []int{100, 0}}
	s := NewStreamer(dev, DefaultConfig(), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Stream(context.Background(), commands(1))
	}()

	// Wait for the first session to block in its backoff sleep.
	<-entered
	err := s.Stream(context.Background(), commands(1))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSessionActive))

	close(release)
	require.NoError(t, <-done)

	// Flag is clear again, a new session is accepted.
	dev.mu.Lock()
	dev.pollIdx = 1
	dev.mu.Unlock()
	require.NoError(t, s.Stream(context.Background(), commands(1)))
}

func TestStreamSubmitErrorClearsFlag(t *testing.T) {
	dev := &fakeDevice{
		depths:    []int{0},
		submitErr: map[int]error{0: errors.DeviceBusyError("plotter/gcode")},
	}
	s, _ := newTestStreamer(dev, DefaultConfig())

	err := s.Stream(context.Background(), commands(2))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDeviceBusy))
	assert.False(t, s.InProgress())
	assert.Equal(t, StateIdle, s.State())
}

func TestStreamPollErrorClearsFlag(t *testing.T) {
	dev := &fakeDevice{
		pollErr: map[int]error{0: errors.RemoteUnavailableError("plotter/status", nil)},
	}
	s, _ := newTestStreamer(dev, DefaultConfig())

	err := s.Stream(context.Background(), commands(2))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRemoteUnavailable))
	assert.False(t, s.InProgress())
}

func TestStreamContextCancelDuringWait(t *testing.T) {
	dev := &fakeDevice{depths: []int{100}}
	s := NewStreamer(dev, DefaultConfig(), nil)
	s.sleep = ctxSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Stream(ctx, commands(1))
	require.Error(t, err)
	assert.False(t, s.InProgress())
	assert.Equal(t, StateIdle, s.State())
}

func TestStreamStateTransitions(t *testing.T) {
	dev := &fakeDevice{depths: []int{0}}
	s, _ := newTestStreamer(dev, DefaultConfig())

	var mu sync.Mutex
	var seen []State
	unsub := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, s.Stream(context.Background(), commands(1)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSending, StateDraining, StateIdle}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "drawing", StateDraining.String())
}

func TestStreamEmptyProgram(t *testing.T) {
	dev := &fakeDevice{depths: []int{0}}
	s, _ := newTestStreamer(dev, DefaultConfig())

	require.NoError(t, s.Stream(context.Background(), nil))
	assert.Empty(t, dev.batches)
	// Still drains: the device may be working an earlier queue.
	assert.Equal(t, 1, dev.polls())
}
