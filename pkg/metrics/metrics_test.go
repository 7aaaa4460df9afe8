// Unit tests for the Prometheus text-format metrics implementation
//
// Copyright (C) 2026 Microplot Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"sync"
	"testing"
)

// TestCounterBasic tests basic counter operations
func TestCounterBasic(t *testing.T) {
	c := NewCounter("commands_sent_total", "Commands submitted to the device")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %d", v)
	}

	c.Inc(nil)
	if v := c.Get(nil); v != 1 {
		t.Errorf("expected value 1 after Inc, got %d", v)
	}

	// A batch of 5 commands
	c.Add(nil, 5)
	if v := c.Get(nil); v != 6 {
		t.Errorf("expected value 6 after Add(5), got %d", v)
	}

	if c.Name() != "commands_sent_total" {
		t.Errorf("unexpected name '%s'", c.Name())
	}
}

// TestCounterWithLabels tests counter label partitioning
func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("poll_errors_total", "Failed device polls by endpoint")

	status := Labels{"endpoint": "plotter/status"}
	gcode := Labels{"endpoint": "plotter/gcode"}

	c.Inc(status)
	c.Inc(status)
	c.Inc(gcode)

	if v := c.Get(status); v != 2 {
		t.Errorf("expected status error count 2, got %d", v)
	}
	if v := c.Get(gcode); v != 1 {
		t.Errorf("expected gcode error count 1, got %d", v)
	}
	if v := c.Get(Labels{"endpoint": "plotter/files"}); v != 0 {
		t.Errorf("expected files error count 0, got %d", v)
	}
}

// TestCounterConcurrency tests counter thread safety
func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_counter", "Test concurrent access")
	var wg sync.WaitGroup

	numGoroutines := 100
	incsPerGoroutine := 1000

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < incsPerGoroutine; j++ {
				c.Inc(nil)
			}
		}()
	}

	wg.Wait()

	expected := uint64(numGoroutines * incsPerGoroutine)
	if v := c.Get(nil); v != expected {
		t.Errorf("expected %d, got %d", expected, v)
	}
}

// TestGaugeBasic tests gauge set/add/sub/inc/dec
func TestGaugeBasic(t *testing.T) {
	g := NewGauge("queue_depth", "Device command queue depth")

	if v := g.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %f", v)
	}

	g.Set(nil, 80)
	if v := g.Get(nil); v != 80 {
		t.Errorf("expected value 80, got %f", v)
	}

	g.Add(nil, 5)
	g.Sub(nil, 45)
	if v := g.Get(nil); v != 40 {
		t.Errorf("expected value 40, got %f", v)
	}

	g.Inc(nil)
	g.Dec(nil)
	if v := g.Get(nil); v != 40 {
		t.Errorf("expected value 40, got %f", v)
	}
}

// TestGaugeWithLabels tests per-axis gauge values
func TestGaugeWithLabels(t *testing.T) {
	g := NewGauge("device_position_mm", "Plot head position")

	g.Set(Labels{"axis": "x"}, 155.5)
	g.Set(Labels{"axis": "y"}, 190.0)

	if v := g.Get(Labels{"axis": "x"}); v != 155.5 {
		t.Errorf("expected x position 155.5, got %f", v)
	}
	if v := g.Get(Labels{"axis": "y"}); v != 190.0 {
		t.Errorf("expected y position 190.0, got %f", v)
	}
}

// TestGaugeConcurrency tests gauge thread safety
func TestGaugeConcurrency(t *testing.T) {
	g := NewGauge("concurrent_gauge", "Test concurrent access")
	var wg sync.WaitGroup

	numGoroutines := 100
	opsPerGoroutine := 1000

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				g.Inc(nil)
				g.Dec(nil)
				g.Add(nil, 2)
			}
		}()
	}

	wg.Wait()

	// Each iteration is net +2
	expected := float64(numGoroutines * opsPerGoroutine * 2)
	if v := g.Get(nil); v != expected {
		t.Errorf("expected %f, got %f", expected, v)
	}
}

// TestHistogramBasic tests observation counting and the cumulative sum
func TestHistogramBasic(t *testing.T) {
	h := NewHistogram("batch_submit_seconds", "Batch submission round trip",
		[]float64{0.01, 0.05, 0.1, 0.5, 1.0})

	observations := []float64{0.005, 0.02, 0.08, 0.3, 0.7, 2.0}
	for _, v := range observations {
		h.Observe(nil, v)
	}

	snapshot := h.GetSnapshot(nil)
	if snapshot.Count != 6 {
		t.Errorf("expected count 6, got %d", snapshot.Count)
	}

	var expectedSum float64
	for _, v := range observations {
		expectedSum += v
	}
	if math.Abs(snapshot.Sum-expectedSum) > 0.0001 {
		t.Errorf("expected sum %f, got %f", expectedSum, snapshot.Sum)
	}

	// Buckets are cumulative: only 0.005 lands at or below 0.01.
	if snapshot.Buckets[0.01] != 1 {
		t.Errorf("bucket 0.01: expected 1, got %d", snapshot.Buckets[0.01])
	}
}

// TestHistogramWithLabels tests label partitioning of observations
func TestHistogramWithLabels(t *testing.T) {
	h := NewHistogram("status_poll_seconds", "Poll round-trip latency",
		[]float64{0.001, 0.01, 0.1})

	sending := Labels{"phase": "sending"}
	draining := Labels{"phase": "draining"}

	h.Observe(sending, 0.0005)
	h.Observe(sending, 0.005)
	h.Observe(draining, 0.05)

	if snap := h.GetSnapshot(sending); snap.Count != 2 {
		t.Errorf("expected sending count 2, got %d", snap.Count)
	}
	if snap := h.GetSnapshot(draining); snap.Count != 1 {
		t.Errorf("expected draining count 1, got %d", snap.Count)
	}
}

// TestBucketGenerators tests the default/linear/exponential layouts
func TestBucketGenerators(t *testing.T) {
	def := DefaultBuckets()
	if len(def) != 11 || def[0] != 0.005 || def[len(def)-1] != 10 {
		t.Errorf("unexpected default buckets: %v", def)
	}

	lin := LinearBuckets(0, 10, 5)
	for i, want := range []float64{0, 10, 20, 30, 40} {
		if lin[i] != want {
			t.Errorf("linear bucket %d: expected %f, got %f", i, want, lin[i])
		}
	}

	exp := ExponentialBuckets(1, 2, 5)
	for i, want := range []float64{1, 2, 4, 8, 16} {
		if exp[i] != want {
			t.Errorf("exponential bucket %d: expected %f, got %f", i, want, exp[i])
		}
	}
}

// TestRegistryBasic tests register/duplicate/unregister
func TestRegistryBasic(t *testing.T) {
	r := NewRegistry()

	c := NewCounter("strokes_recorded_total", "Sealed strokes")
	g := NewGauge("active_contacts", "Live touch contacts")

	if err := r.Register(c); err != nil {
		t.Errorf("failed to register counter: %v", err)
	}
	if err := r.Register(g); err != nil {
		t.Errorf("failed to register gauge: %v", err)
	}

	if err := r.Register(c); err == nil {
		t.Error("expected error on duplicate registration")
	}

	r.Unregister("strokes_recorded_total")
	if err := r.Register(c); err != nil {
		t.Errorf("failed to re-register after unregister: %v", err)
	}
}

// TestRegistryGather tests the Prometheus exposition output
func TestRegistryGather(t *testing.T) {
	r := NewRegistry()

	c := NewCounter("batches_submitted_total", "Submitted command batches")
	c.Add(Labels{"result": "ok"}, 100)
	c.Add(Labels{"result": "busy"}, 3)
	r.MustRegister(c)

	g := NewGauge("stream_state", "Streamer state")
	g.Set(nil, 2)
	r.MustRegister(g)

	output := r.Gather()

	for _, want := range []string{
		"# HELP batches_submitted_total Submitted command batches",
		"# TYPE batches_submitted_total counter",
		`batches_submitted_total{result="ok"} 100`,
		`batches_submitted_total{result="busy"} 3`,
		"# TYPE stream_state gauge",
		"stream_state 2",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// TestHistogramGather tests histogram exposition: bucket lines are
// cumulative and always terminated by +Inf, sum and count follow.
func TestHistogramGather(t *testing.T) {
	r := NewRegistry()

	h := NewHistogram("batch_submit_seconds", "Batch round trip",
		[]float64{0.1, 0.5, 1.0})
	for _, v := range []float64{0.05, 0.3, 0.8, 2.0} {
		h.Observe(nil, v)
	}
	r.MustRegister(h)

	output := r.Gather()

	for _, want := range []string{
		"# TYPE batch_submit_seconds histogram",
		`batch_submit_seconds_bucket{le="0.1"} 1`,
		`batch_submit_seconds_bucket{le="0.5"} 2`,
		`batch_submit_seconds_bucket{le="1"} 3`,
		`batch_submit_seconds_bucket{le="+Inf"} 4`,
		"batch_submit_seconds_sum",
		"batch_submit_seconds_count 4",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// TestLabels tests key stability, cloning and merge semantics
func TestLabels(t *testing.T) {
	labels := Labels{"endpoint": "plotter/gcode", "result": "ok"}
	reordered := Labels{"result": "ok", "endpoint": "plotter/gcode"}
	if labels.Key() != reordered.Key() {
		t.Error("same labels should produce the same key")
	}

	clone := labels.Clone()
	clone["phase"] = "draining"
	if _, ok := labels["phase"]; ok {
		t.Error("clone mutation leaked into the original")
	}

	merged := labels.Merge(Labels{"result": "busy"})
	if merged["result"] != "busy" || merged["endpoint"] != "plotter/gcode" {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if labels["result"] != "ok" {
		t.Error("merge mutated the receiver")
	}
}

// TestNilLabels tests that nil and empty labels share one series
func TestNilLabels(t *testing.T) {
	c := NewCounter("sessions_started_total", "Streaming sessions")
	c.Inc(nil)
	c.Inc(Labels{})

	if v := c.Get(nil); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}
}

// TestLabelEscaping tests backslash/quote escaping in exposition
func TestLabelEscaping(t *testing.T) {
	r := NewRegistry()
	g := NewGauge("upload_errors", "Upload errors by file")
	g.Set(Labels{"file": `sketch "final"\v2.gcode`}, 1)
	r.MustRegister(g)

	output := r.Gather()
	if !strings.Contains(output, `\"final\"`) {
		t.Error("quotes in label values must be escaped")
	}
	if !strings.Contains(output, `\\v2`) {
		t.Error("backslashes in label values must be escaped")
	}
}

// BenchmarkCounterInc benchmarks the hot submit-path counter
func BenchmarkCounterInc(b *testing.B) {
	c := NewCounter("bench_counter", "Benchmark counter")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Inc(nil)
	}
}

// BenchmarkHistogramObserve benchmarks poll-latency observation
func BenchmarkHistogramObserve(b *testing.B) {
	h := NewHistogram("bench_histogram", "Benchmark histogram", DefaultBuckets())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Observe(nil, float64(i%10)/10.0)
	}
}
