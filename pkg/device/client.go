// Package device provides the HTTP client for the plotter's remote
// execution surface: status polling, G-code submission, pause/stop,
// tiling control and sketch playback.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"microplot-client/pkg/errors"
	"microplot-client/pkg/log"
)

// Endpoint paths on the execution surface.
const (
	endpointGCode      = "plotter/gcode"
	endpointStatus     = "plotter/status"
	endpointPause      = "plotter/pause"
	endpointStop       = "plotter/stop"
	endpointTiling     = "plotter/tiling"
	endpointTileSwitch = "plotter/tiling/switch"
	endpointPlay       = "plotter/play"
	endpointFiles      = "plotter/files"
)

// DefaultTimeout bounds a single HTTP round trip. The device runs on an
// embedded board and can take a while to answer while motors are moving.
const DefaultTimeout = 10 * time.Second

// Status is a snapshot of the device state as reported by the status
// endpoint.
type Status struct {
	QueueSize        int
	Active           bool
	Paused           bool
	LimitPrimary     bool
	LimitSecondary   bool
	Positioning      string
	X                float64
	Y                float64
	CoordinateSystem string
	AdditionalInfo   []string
}

// statusPayload mirrors the status JSON. Required fields are pointers so
// a missing key is distinguishable from a zero value.
type statusPayload struct {
	QueueSize        *int     `json:"queue_size"`
	Active           bool     `json:"active"`
	Paused           bool     `json:"paused"`
	LimitPrimary     bool     `json:"limit_primary"`
	LimitSecondary   bool     `json:"limit_secondary"`
	Positioning      *string  `json:"positioning"`
	X                float64  `json:"x"`
	Y                float64  `json:"y"`
	CoordinateSystem *string  `json:"coordinate_system"`
	AdditionalInfo   []string `json:"additional_info"`
}

// Client talks to one plotter device over HTTP. All methods are safe for
// concurrent use; the device itself serializes conflicting requests and
// answers 503 while a playback session holds the queue.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a client for the device at baseURL
// (e.g. "http://plotter.local").
func NewClient(baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.GetLogger("device")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests and by
// callers that need custom timeouts.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// BaseURL returns the configured device base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the current device status. It is never retried
// internally; the caller owns the polling cadence.
func (c *Client) Status(ctx context.Context) (Status, error) {
	body, err := c.do(ctx, http.MethodGet, endpointStatus, "", nil)
	if err != nil {
		return Status{}, err
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Status{}, errors.Wrap(err, errors.ErrMalformedResponse,
			"status response is not valid JSON").SetEndpoint(endpointStatus)
	}

	switch {
	case payload.QueueSize == nil:
		return Status{}, errors.MalformedResponseError(endpointStatus, "queue_size")
	case payload.Positioning == nil:
		return Status{}, errors.MalformedResponseError(endpointStatus, "positioning")
	case payload.CoordinateSystem == nil:
		return Status{}, errors.MalformedResponseError(endpointStatus, "coordinate_system")
	}

	return Status{
		QueueSize:        *payload.QueueSize,
		Active:           payload.Active,
		Paused:           payload.Paused,
		LimitPrimary:     payload.LimitPrimary,
		LimitSecondary:   payload.LimitSecondary,
		Positioning:      *payload.Positioning,
		X:                payload.X,
		Y:                payload.Y,
		CoordinateSystem: *payload.CoordinateSystem,
		AdditionalInfo:   payload.AdditionalInfo,
	}, nil
}

// SubmitGCode queues commands on the device. Commands are joined with
// newlines into a single request body. The device acknowledges queueing
// only; execution is tracked via Status.
func (c *Client) SubmitGCode(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}
	body := strings.Join(commands, "\n")
	_, err := c.do(ctx, http.MethodPost, endpointGCode, "text/plain",
		strings.NewReader(body))
	return err
}

// Pause suspends or resumes queue execution on the device. The queue
// contents are preserved.
func (c *Client) Pause(ctx context.Context, paused bool) error {
	body := "false"
	if paused {
		body = "true"
	}
	_, err := c.do(ctx, http.MethodPost, endpointPause, "text/plain",
		strings.NewReader(body))
	return err
}

// Stop aborts queue execution, clears the device queue and unpauses.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, endpointStop, "text/plain", nil)
	return err
}

// SetTiling splits the drawing area into a gridSize x gridSize tile grid
// of work coordinate systems. gridSize must be in [1,3].
func (c *Client) SetTiling(ctx context.Context, gridSize int) error {
	if gridSize < 1 || gridSize > 3 {
		return fmt.Errorf("grid size %d out of range [1,3]", gridSize)
	}
	_, err := c.do(ctx, http.MethodPost, endpointTiling, "text/plain",
		strings.NewReader(strconv.Itoa(gridSize)))
	return err
}

// SwitchTile selects the active tile by 1-based index. An idx of 0
// advances to the next tile.
func (c *Client) SwitchTile(ctx context.Context, idx int) error {
	var body io.Reader
	if idx > 0 {
		body = strings.NewReader(strconv.Itoa(idx))
	}
	_, err := c.do(ctx, http.MethodPost, endpointTileSwitch, "text/plain", body)
	return err
}

// playRequest is the JSON body of the play endpoint.
type playRequest struct {
	SketchName string `json:"sketch_name"`
	Workspaces []int  `json:"workspaces,omitempty"`
}

// Play starts device-side playback of a stored sketch file, optionally
// replicated across the given 1-based tile indices.
func (c *Client) Play(ctx context.Context, sketchName string, workspaces []int) error {
	payload, err := json.Marshal(playRequest{
		SketchName: sketchName,
		Workspaces: workspaces,
	})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, endpointPlay, "application/json",
		bytes.NewReader(payload))
	return err
}

// do performs one HTTP round trip and maps failures onto the client
// error taxonomy. 503 is the device's busy signal and gets a distinct
// code so callers can surface it as retryable.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) ([]byte, error) {
	url := c.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.RemoteUnavailableError(endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.RemoteUnavailableError(endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.RemoteUnavailableError(endpoint, err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		c.logger.Debug("device busy on %s", endpoint)
		return nil, errors.DeviceBusyError(endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.RemoteStatusError(endpoint, resp.StatusCode,
			strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
