// Plotter-specific metrics definitions
//
// Defines all metrics for the microplot client including:
// - Touch capture metrics
// - Streaming/backpressure metrics
// - Device status-poll metrics
// - System metrics
//
// Copyright (C) 2026 Microplot Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// PlotterMetrics holds all client-specific metrics
type PlotterMetrics struct {
	// Capture metrics
	StrokesRecorded *Counter
	PointsRecorded  *Counter
	PointsDropped   *Counter
	ActiveContacts  *Gauge

	// Program metrics
	ProgramCommands *Gauge
	ProgramsEncoded *Counter

	// Streaming metrics
	SessionsStarted   *Counter
	SessionsCompleted *Counter
	SessionsFailed    *Counter
	SessionsRejected  *Counter
	BatchesSubmitted  *Counter
	CommandsSent      *Counter
	BackoffWaits      *Counter
	BatchSubmitTime   *Histogram
	StreamState       *Gauge

	// Status-poll metrics
	StatusPolls  *Counter
	PollErrors   *Counter
	PollLatency  *Histogram
	QueueDepth   *Gauge
	DevicePos    *Gauge
	DevicePaused *Gauge

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal   *Counter
	WarningsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewPlotterMetrics creates and registers all client metrics
func NewPlotterMetrics() *PlotterMetrics {
	pm := &PlotterMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Capture metrics
	pm.StrokesRecorded = NewCounter("microplot_strokes_recorded_total",
		"Total strokes sealed into the path store")
	pm.PointsRecorded = NewCounter("microplot_points_recorded_total",
		"Total points retained by the sampling filter")
	pm.PointsDropped = NewCounter("microplot_points_dropped_total",
		"Total move events dropped below the sampling resolution")
	pm.ActiveContacts = NewGauge("microplot_active_contacts",
		"Number of currently live touch contacts")

	// Program metrics
	pm.ProgramCommands = NewGauge("microplot_program_commands",
		"Command count of the most recently encoded program")
	pm.ProgramsEncoded = NewCounter("microplot_programs_encoded_total",
		"Total program regenerations")

	// Streaming metrics
	pm.SessionsStarted = NewCounter("microplot_stream_sessions_started_total",
		"Total streaming sessions started")
	pm.SessionsCompleted = NewCounter("microplot_stream_sessions_completed_total",
		"Total streaming sessions that fully drained")
	pm.SessionsFailed = NewCounter("microplot_stream_sessions_failed_total",
		"Total streaming sessions terminated by an error")
	pm.SessionsRejected = NewCounter("microplot_stream_sessions_rejected_total",
		"Total sessions rejected because one was already in progress")
	pm.BatchesSubmitted = NewCounter("microplot_stream_batches_submitted_total",
		"Total command batches submitted to the device")
	pm.CommandsSent = NewCounter("microplot_stream_commands_sent_total",
		"Total commands submitted to the device")
	pm.BackoffWaits = NewCounter("microplot_stream_backoff_waits_total",
		"Total backoff waits caused by the queue high-water mark")
	pm.BatchSubmitTime = NewHistogram("microplot_stream_batch_submit_seconds",
		"HTTP round-trip time of batch submissions", DefaultBuckets())
	pm.StreamState = NewGauge("microplot_stream_state",
		"Current streamer state (0=idle, 1=sending, 2=drawing)")

	// Status-poll metrics
	pm.StatusPolls = NewCounter("microplot_status_polls_total",
		"Total device status polls")
	pm.PollErrors = NewCounter("microplot_status_poll_errors_total",
		"Total failed device status polls")
	pm.PollLatency = NewHistogram("microplot_status_poll_seconds",
		"Device status poll round-trip latency", DefaultBuckets())
	pm.QueueDepth = NewGauge("microplot_device_queue_depth",
		"Most recently polled device command queue depth")
	pm.DevicePos = NewGauge("microplot_device_position_mm",
		"Most recently polled device position in millimeters")
	pm.DevicePaused = NewGauge("microplot_device_paused",
		"Device pause state (1=paused, 0=running)")

	// System metrics
	pm.HostUptime = NewCounter("microplot_host_uptime_seconds_total",
		"Total client uptime in seconds")
	pm.GoGoroutines = NewGauge("microplot_go_goroutines",
		"Number of active goroutines")
	pm.GoMemoryHeap = NewGauge("microplot_go_memory_heap_bytes",
		"Go heap memory in use")
	pm.GoMemoryAlloc = NewGauge("microplot_go_memory_alloc_bytes",
		"Go total memory allocated")
	pm.GoGCCycles = NewCounter("microplot_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	// Error metrics
	pm.ErrorsTotal = NewCounter("microplot_errors_total",
		"Total errors by type")
	pm.WarningsTotal = NewCounter("microplot_warnings_total",
		"Total warnings by type")

	// Register all metrics
	pm.registerAll()

	return pm
}

// registerAll registers all metrics with the internal registry
func (pm *PlotterMetrics) registerAll() {
	metrics := []Metric{
		pm.StrokesRecorded, pm.PointsRecorded, pm.PointsDropped,
		pm.ActiveContacts,
		pm.ProgramCommands, pm.ProgramsEncoded,
		pm.SessionsStarted, pm.SessionsCompleted, pm.SessionsFailed,
		pm.SessionsRejected, pm.BatchesSubmitted, pm.CommandsSent,
		pm.BackoffWaits, pm.BatchSubmitTime, pm.StreamState,
		pm.StatusPolls, pm.PollErrors, pm.PollLatency,
		pm.QueueDepth, pm.DevicePos, pm.DevicePaused,
		pm.HostUptime, pm.GoGoroutines, pm.GoMemoryHeap, pm.GoMemoryAlloc,
		pm.GoGCCycles,
		pm.ErrorsTotal, pm.WarningsTotal,
	}
	for _, m := range metrics {
		pm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (pm *PlotterMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	pm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	pm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	pm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	pm.GoGCCycles.Add(nil, uint64(m.NumGC)-pm.GoGCCycles.Get(nil))
	pm.HostUptime.Add(nil, uint64(time.Since(pm.startTime).Seconds()))
}

// RecordStroke records a sealed stroke with its retained point count
func (pm *PlotterMetrics) RecordStroke(points int) {
	pm.StrokesRecorded.Inc(nil)
	pm.PointsRecorded.Add(nil, uint64(points))
}

// RecordProgram records a program regeneration
func (pm *PlotterMetrics) RecordProgram(commands int) {
	pm.ProgramsEncoded.Inc(nil)
	pm.ProgramCommands.Set(nil, float64(commands))
}

// RecordBatch records a submitted batch and its round-trip time
func (pm *PlotterMetrics) RecordBatch(commands int, duration time.Duration) {
	pm.BatchesSubmitted.Inc(nil)
	pm.CommandsSent.Add(nil, uint64(commands))
	pm.BatchSubmitTime.Observe(nil, duration.Seconds())
}

// RecordPoll records a status poll result
func (pm *PlotterMetrics) RecordPoll(latency time.Duration, err error) {
	pm.StatusPolls.Inc(nil)
	if err != nil {
		pm.PollErrors.Inc(nil)
		return
	}
	pm.PollLatency.Observe(nil, latency.Seconds())
}

// SetDeviceStatus updates the device telemetry gauges
func (pm *PlotterMetrics) SetDeviceStatus(queueDepth int, x, y float64, paused bool) {
	pm.QueueDepth.Set(nil, float64(queueDepth))
	pm.DevicePos.Set(Labels{"axis": "x"}, x)
	pm.DevicePos.Set(Labels{"axis": "y"}, y)
	pausedVal := float64(0)
	if paused {
		pausedVal = 1
	}
	pm.DevicePaused.Set(nil, pausedVal)
}

// RecordError records an error
func (pm *PlotterMetrics) RecordError(errorType string) {
	pm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// RecordWarning records a warning
func (pm *PlotterMetrics) RecordWarning(warningType string) {
	pm.WarningsTotal.Inc(Labels{"type": warningType})
}

// Gather returns all metrics in Prometheus text format
func (pm *PlotterMetrics) Gather() string {
	pm.UpdateSystemMetrics()
	return pm.registry.Gather()
}

// Registry returns the internal registry
func (pm *PlotterMetrics) Registry() *Registry {
	return pm.registry
}

var (
	globalMetrics     *PlotterMetrics
	globalMetricsOnce sync.Once
)

// GlobalMetrics returns the process-wide metrics instance
func GlobalMetrics() *PlotterMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPlotterMetrics()
	})
	return globalMetrics
}
