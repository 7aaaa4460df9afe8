// HTTP and websocket surface of the operator console.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"microplot-client/pkg/config"
	"microplot-client/pkg/device"
	"microplot-client/pkg/errors"
	"microplot-client/pkg/gcode"
	"microplot-client/pkg/log"
	"microplot-client/pkg/metrics"
	"microplot-client/pkg/sketch"
	"microplot-client/pkg/stream"
	"microplot-client/pkg/transform"
)

// DefaultStatusPeriod is the cadence of websocket status pushes.
const DefaultStatusPeriod = 2 * time.Second

// Config holds the console server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":8080").
	Addr string

	// StatusPeriod is the websocket status push interval.
	StatusPeriod time.Duration

	// MaxHistory bounds the command history.
	MaxHistory int
}

// Server serves the dashboard API: touch ingestion, plot control,
// device proxying, metrics exposition and websocket status pushes.
type Server struct {
	cfg      Config
	recorder *sketch.Recorder
	streamer *stream.Streamer
	dev      *device.Client
	params   transform.Params
	session  *Session
	saved    *config.AutosaveConfig
	logger   *log.Logger
	metrics  *metrics.PlotterMetrics

	httpServer *http.Server
	running    atomic.Bool

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	unsubscribe func()
	recUnsub    func()
	stopCh      chan struct{}

	// Program regenerated from the path store on every change.
	progMu  sync.Mutex
	program []string
}

// NewServer wires the console over an existing recorder, streamer and
// device client. saved may be nil; when present, operator resolution
// changes are persisted through it.
func NewServer(cfg Config, recorder *sketch.Recorder, streamer *stream.Streamer,
	dev *device.Client, params transform.Params, saved *config.AutosaveConfig,
	logger *log.Logger) *Server {

	if cfg.StatusPeriod <= 0 {
		cfg.StatusPeriod = DefaultStatusPeriod
	}
	if logger == nil {
		logger = log.GetLogger("console")
	}

	s := &Server{
		cfg:       cfg,
		recorder:  recorder,
		streamer:  streamer,
		dev:       dev,
		params:    params,
		session:   NewSession(cfg.MaxHistory),
		saved:     saved,
		logger:    logger,
		metrics:   metrics.GlobalMetrics(),
		wsClients: make(map[int64]*wsClient),
		stopCh:    make(chan struct{}),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Session returns the operator session state.
func (s *Server) Session() *Session {
	return s.session
}

// Handler builds the console route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/touch/start", s.touchHandler(s.recorder.Start))
	mux.HandleFunc("/api/touch/move", s.touchHandler(s.recorder.Move))
	mux.HandleFunc("/api/touch/end", s.touchHandler(s.recorder.End))
	mux.HandleFunc("/api/touch/cancel", s.handleTouchCancel)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/plot", s.handlePlot)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/tiling", s.handleTiling)
	mux.HandleFunc("/api/tiling/switch", s.handleTileSwitch)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/files", s.handleFileList)
	mux.HandleFunc("/api/files/", s.handleFile)
	mux.HandleFunc("/api/resolution", s.handleResolution)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/websocket", s.handleWebSocket)

	return mux
}

// Start runs the console server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	s.unsubscribe = s.streamer.Subscribe(func(st stream.State) {
		s.broadcast(map[string]any{
			"type":  "stream_state",
			"state": st.String(),
		})
	})
	s.recUnsub = s.recorder.Subscribe(s.onStoreChange)

	s.running.Store(true)
	go s.statusPushLoop()

	s.logger.Info("console listening on %s", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down and closes all websocket clients.
func (s *Server) Stop() error {
	s.running.Store(false)
	close(s.stopCh)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.recUnsub != nil {
		s.recUnsub()
	}

	s.wsClientMu.Lock()
	for _, c := range s.wsClients {
		c.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// touchRequest is the JSON body of the touch endpoints.
type touchRequest struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// touchHandler adapts one recorder operation to an HTTP endpoint.
func (s *Server) touchHandler(op func(id int64, x, y float64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var req touchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid touch event")
			return
		}
		op(req.ID, req.X, req.Y)
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	}
}

func (s *Server) handleTouchCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid touch event")
		return
	}
	s.recorder.Cancel(req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.recorder.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// handlePlot encodes the current path store and starts a streaming
// session in the background. The response only acknowledges the start;
// progress and errors are pushed over the websocket.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.streamer.InProgress() {
		writeJSONError(w, http.StatusConflict, "a plot is already in progress")
		return
	}

	paths, program := s.regenerateProgram()

	go func() {
		if err := s.streamer.Stream(context.Background(), program); err != nil {
			s.logger.Error("plot failed: %v", err)
			s.broadcast(map[string]any{
				"type":  "error",
				"error": err.Error(),
			})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"result":   "ok",
		"commands": len(program),
		"paths":    len(paths),
	})
}

// regenerateProgram encodes the current path store, replacing the
// cached program.
func (s *Server) regenerateProgram() ([]sketch.Path, []string) {
	paths := s.recorder.Paths()
	program := gcode.Encode(paths, s.params)
	s.metrics.RecordProgram(len(program))

	s.progMu.Lock()
	s.program = program
	s.progMu.Unlock()
	return paths, program
}

// onStoreChange regenerates the program and notifies the dashboard
// whenever the path store changes.
func (s *Server) onStoreChange() {
	paths, program := s.regenerateProgram()
	s.broadcast(map[string]any{
		"type":            "sketch",
		"paths":           len(paths),
		"commands":        len(program),
		"active_contacts": s.recorder.ActiveContacts(),
	})
}

// statusResponse combines the proxied device status with client state.
type statusResponse struct {
	QueueSize        int      `json:"queue_size"`
	Active           bool     `json:"active"`
	Paused           bool     `json:"paused"`
	LimitPrimary     bool     `json:"limit_primary"`
	LimitSecondary   bool     `json:"limit_secondary"`
	Positioning      string   `json:"positioning"`
	X                float64  `json:"x"`
	Y                float64  `json:"y"`
	CoordinateSystem string   `json:"coordinate_system"`
	AdditionalInfo   []string `json:"additional_info"`

	ClientState     string `json:"client_state"`
	ClientPaused    bool   `json:"client_paused"`
	PenRaised       bool   `json:"pen_raised"`
	ActiveContacts  int    `json:"active_contacts"`
	StoredPaths     int    `json:"stored_paths"`
	ProgramCommands int    `json:"program_commands"`
}

func (s *Server) buildStatus(st device.Status) statusResponse {
	s.progMu.Lock()
	programLen := len(s.program)
	s.progMu.Unlock()

	return statusResponse{
		QueueSize:        st.QueueSize,
		Active:           st.Active,
		Paused:           st.Paused,
		LimitPrimary:     st.LimitPrimary,
		LimitSecondary:   st.LimitSecondary,
		Positioning:      st.Positioning,
		X:                st.X,
		Y:                st.Y,
		CoordinateSystem: st.CoordinateSystem,
		AdditionalInfo:   st.AdditionalInfo,
		ClientState:      s.streamer.State().String(),
		ClientPaused:     s.session.Paused(),
		PenRaised:        s.session.PenRaised(),
		ActiveContacts:   s.recorder.ActiveContacts(),
		StoredPaths:      len(s.recorder.Keys()),
		ProgramCommands:  programLen,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.dev.Status(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.buildStatus(st))
}

// commandRequest is the JSON body of the pass-through command endpoint.
type commandRequest struct {
	Command string `json:"command"`
}

// handleCommand submits one arbitrary vocabulary command verbatim and
// records it in the session history.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.Command) == "" {
		writeJSONError(w, http.StatusBadRequest, "missing command")
		return
	}

	if err := s.dev.SubmitGCode(r.Context(), []string{req.Command}); err != nil {
		writeDeviceError(w, err)
		return
	}
	s.session.Record(req.Command)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history": s.session.History(),
	})
}

// pauseRequest is the JSON body of the pause endpoint.
type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid pause request")
		return
	}
	if err := s.dev.Pause(r.Context(), req.Paused); err != nil {
		writeDeviceError(w, err)
		return
	}
	s.session.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.dev.Stop(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	// The device unpauses when stopped.
	s.session.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// tilingRequest is the JSON body of the tiling endpoint.
type tilingRequest struct {
	GridSize int `json:"grid_size"`
}

func (s *Server) handleTiling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req tilingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid tiling request")
		return
	}
	if err := s.dev.SetTiling(r.Context(), req.GridSize); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// tileSwitchRequest is the JSON body of the tile switch endpoint. A
// zero index advances to the next tile.
type tileSwitchRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleTileSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req tileSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid tile switch request")
		return
	}
	if err := s.dev.SwitchTile(r.Context(), req.Index); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// playRequest is the JSON body of the play endpoint.
type playRequest struct {
	SketchName string `json:"sketch_name"`
	Workspaces []int  `json:"workspaces"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SketchName == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sketch_name")
		return
	}
	if err := s.dev.Play(r.Context(), req.SketchName, req.Workspaces); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	files, err := s.dev.ListFiles(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	type fileJSON struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Created string `json:"created"`
	}
	out := make([]fileJSON, 0, len(files))
	for _, f := range files {
		out = append(out, fileJSON{
			Name:    f.Name,
			Size:    f.Size,
			Created: f.Created.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

// handleFile proxies upload and delete of a single sketch file.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if name == "" || strings.Contains(name, "/") {
		writeJSONError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := s.dev.UploadFile(r.Context(), name, r.Body); err != nil {
			writeDeviceError(w, err)
			return
		}
	case http.MethodDelete:
		if err := s.dev.DeleteFile(r.Context(), name); err != nil {
			writeDeviceError(w, err)
			return
		}
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "POST or DELETE required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// resolutionRequest is the JSON body of the resolution endpoint.
type resolutionRequest struct {
	Resolution float64 `json:"resolution"`
}

// handleResolution updates the sampling resolution and persists it to
// the config file when autosave is wired.
func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resolution <= 0 {
		writeJSONError(w, http.StatusBadRequest, "resolution must be positive")
		return
	}

	s.recorder.SetResolution(req.Resolution)

	if s.saved != nil {
		value := strconv.FormatFloat(req.Resolution, 'f', -1, 64)
		if err := s.saved.SetOption("capture", "resolution", value); err == nil {
			if err := s.saved.SaveChanges(""); err != nil {
				s.logger.Warn("persisting resolution failed: %v", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	io.WriteString(w, s.metrics.Gather())
}

// statusPushLoop polls the device and pushes the combined status to all
// websocket clients. A failed poll is reported to the clients and only
// skips that refresh cycle.
func (s *Server) statusPushLoop() {
	ticker := time.NewTicker(s.cfg.StatusPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		if s.clientCount() == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StatusPeriod)
		st, err := s.dev.Status(ctx)
		cancel()
		if err != nil {
			s.broadcast(map[string]any{
				"type":  "error",
				"error": err.Error(),
			})
			continue
		}
		s.metrics.SetDeviceStatus(st.QueueSize, st.X, st.Y, st.Paused)
		s.broadcast(map[string]any{
			"type":   "status",
			"status": s.buildStatus(st),
		})
	}
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error body.
func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDeviceError maps a device client error onto the console's HTTP
// surface. Busy stays 503 so the dashboard can offer a retry.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsCode(err, errors.ErrDeviceBusy):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.IsCode(err, errors.ErrRemoteUnavailable),
		errors.IsCode(err, errors.ErrMalformedResponse):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("internal error: %v", err))
	}
}
