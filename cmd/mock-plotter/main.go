// mock-plotter simulates the microplot device's HTTP execution surface
// for development and manual testing. It implements the full wire
// contract (status, gcode, pause, stop, tiling, play, files) over an
// in-memory command queue drained at a configurable rate.
//
// Usage:
//
//	mock-plotter -addr :9000 [-drain-rate 20] [-queue-limit 100] [-trace]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"microplot-client/pkg/gcode"
	"microplot-client/pkg/log"
)

// storedFile is one uploaded sketch file.
type storedFile struct {
	data    []byte
	created time.Time
}

// plotter is the simulated machine state.
type plotter struct {
	mu sync.Mutex

	queue       []string
	queueLimit  int
	paused      bool
	absolute    bool
	x, y        float64
	cs          string
	tileGrid    int
	tileIdx     int
	sessionBusy bool
	files       map[string]*storedFile

	logger *log.Logger
}

func newPlotter(queueLimit int, logger *log.Logger) *plotter {
	return &plotter{
		queueLimit: queueLimit,
		absolute:   true,
		cs:         "G54",
		tileGrid:   1,
		tileIdx:    1,
		files:      make(map[string]*storedFile),
		logger:     logger,
	}
}

// drainLoop consumes one queued command per tick while not paused.
func (p *plotter) drainLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		if !p.paused && len(p.queue) > 0 {
			cmd := p.queue[0]
			p.queue = p.queue[1:]
			p.apply(cmd)
		}
		p.mu.Unlock()
	}
}

// apply executes one command against the simulated machine. Called
// with the lock held.
func (p *plotter) apply(command string) {
	cmd := strings.TrimSpace(command)
	if m, ok := gcode.ParseMotion(cmd); ok {
		if p.absolute {
			p.x, p.y = m.X, m.Y
		} else {
			p.x += m.X
			p.y += m.Y
		}
		return
	}
	switch {
	case cmd == gcode.AbsolutePositioning:
		p.absolute = true
	case cmd == gcode.RelativePositioning:
		p.absolute = false
	case cmd == gcode.Home:
		p.x, p.y = 0, 0
	case gcode.IsEject(cmd):
		// Eject presents the workspace: park at the top edge.
		p.x, p.y = 0, 0
	case strings.HasPrefix(cmd, "G5"):
		// Coordinate system select (G54..G59.3) and scaling (G50/G51).
		if fields := strings.Fields(cmd); len(fields) > 0 &&
			fields[0] != gcode.ScalingOff && fields[0] != "G51" {
			p.cs = fields[0]
		}
	}
	p.logger.Debug("executed %q pos=(%.3f, %.3f)", cmd, p.x, p.y)
}

func (p *plotter) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/plotter/status", p.handleStatus)
	mux.HandleFunc("/plotter/gcode", p.handleGCode)
	mux.HandleFunc("/plotter/pause", p.handlePause)
	mux.HandleFunc("/plotter/stop", p.handleStop)
	mux.HandleFunc("/plotter/tiling", p.handleTiling)
	mux.HandleFunc("/plotter/tiling/switch", p.handleTileSwitch)
	mux.HandleFunc("/plotter/play", p.handlePlay)
	mux.HandleFunc("/plotter/files", p.handleFileList)
	mux.HandleFunc("/plotter/files/", p.handleFile)
	return mux
}

func (p *plotter) handleStatus(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positioning := "relative"
	if p.absolute {
		positioning = "absolute"
	}
	info := []string{}
	if p.tileGrid > 1 {
		info = append(info, fmt.Sprintf("tiling: %dx%d tile %d",
			p.tileGrid, p.tileGrid, p.tileIdx))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"queue_size":        len(p.queue),
		"active":            len(p.queue) > 0 && !p.paused,
		"paused":            p.paused,
		"limit_primary":     false,
		"limit_secondary":   false,
		"positioning":       positioning,
		"x":                 p.x,
		"y":                 p.y,
		"coordinate_system": p.cs,
		"additional_info":   info,
	})
}

func (p *plotter) handleGCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	commands := strings.Split(strings.TrimSpace(string(body)), "\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionBusy {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	if len(p.queue)+len(commands) > p.queueLimit {
		http.Error(w, fmt.Sprintf("command queue length exceeded (%d), try again",
			p.queueLimit), http.StatusInternalServerError)
		return
	}
	p.queue = append(p.queue, commands...)
	p.logger.Debug("queued %d commands, depth %d", len(commands), len(p.queue))
	io.WriteString(w, "ok\n")
}

func (p *plotter) handlePause(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(string(body))) {
	case "true":
		p.paused = true
	case "false":
		p.paused = false
	default:
		http.Error(w, "invalid value: only true or false is accepted",
			http.StatusBadRequest)
		return
	}
	io.WriteString(w, "ok\n")
}

func (p *plotter) handleStop(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.paused = false
	p.sessionBusy = false
	p.logger.Info("stopped, queue cleared")
	io.WriteString(w, "ok\n")
}

func (p *plotter) handleTiling(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	grid, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || grid < 1 || grid > 3 {
		http.Error(w, "invalid value: grid_size must be in [1,3]",
			http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionBusy {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	p.tileGrid = grid
	p.tileIdx = 1
	io.WriteString(w, "ok\n")
}

func (p *plotter) handleTileSwitch(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionBusy {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	trimmed := strings.TrimSpace(string(body))
	tiles := p.tileGrid * p.tileGrid
	if trimmed == "" {
		p.tileIdx = p.tileIdx%tiles + 1
	} else {
		idx, err := strconv.Atoi(trimmed)
		if err != nil || idx < 1 || idx > tiles {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		p.tileIdx = idx
	}
	io.WriteString(w, "ok\n")
}

func (p *plotter) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SketchName string `json:"sketch_name"`
		Workspaces []int  `json:"workspaces"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SketchName == "" {
		http.Error(w, "missing sketch_name", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionBusy {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	f, ok := p.files[req.SketchName]
	if !ok {
		http.Error(w, "sketch does not exist: "+req.SketchName, http.StatusBadRequest)
		return
	}

	repeats := len(req.Workspaces)
	if repeats == 0 {
		repeats = 1
	}
	p.sessionBusy = true
	go p.playSession(string(f.data), repeats)
	io.WriteString(w, "ok\n")
}

// playSession feeds a stored sketch into the queue, respecting the
// queue limit, then releases the session flag.
func (p *plotter) playSession(content string, repeats int) {
	defer func() {
		p.mu.Lock()
		p.sessionBusy = false
		p.mu.Unlock()
	}()

	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i := 0; i < repeats; i++ {
		for _, line := range lines {
			for {
				p.mu.Lock()
				if len(p.queue) < p.queueLimit {
					p.queue = append(p.queue, line)
					p.mu.Unlock()
					break
				}
				p.mu.Unlock()
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

func (p *plotter) handleFileList(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type entry struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Created int64  `json:"created"`
	}
	// Report creation times in the device's embedded epoch.
	const embeddedEpochOffset = 946684800
	out := make([]entry, 0, len(p.files))
	for name, f := range p.files {
		out = append(out, entry{
			Name:    name,
			Size:    int64(len(f.data)),
			Created: f.created.Unix() - embeddedEpochOffset,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (p *plotter) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/plotter/files/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		f, ok := p.files[name]
		if ok && r.URL.Query().Get("append") == "true" {
			f.data = append(f.data, data...)
		} else {
			p.files[name] = &storedFile{data: data, created: time.Now()}
		}
		p.mu.Unlock()
		io.WriteString(w, "ok\n")

	case http.MethodDelete:
		p.mu.Lock()
		delete(p.files, name)
		p.mu.Unlock()
		io.WriteString(w, "ok\n")

	default:
		http.Error(w, "POST or DELETE required", http.StatusMethodNotAllowed)
	}
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	drainRate := flag.Float64("drain-rate", 20, "Commands executed per second")
	queueLimit := flag.Int("queue-limit", 100, "Maximum queue depth")
	trace := flag.Bool("trace", false, "Enable debug tracing")
	flag.Parse()

	logger := log.New("mock-plotter")
	if *trace {
		logger.SetLevel(log.DEBUG)
	}

	p := newPlotter(*queueLimit, logger)
	go p.drainLoop(time.Duration(float64(time.Second) / *drainRate))

	server := &http.Server{Addr: *addr, Handler: p.handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		server.Close()
	}()

	logger.Info("mock plotter listening on %s, drain rate %.1f/s", *addr, *drainRate)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed: %v", err)
		os.Exit(1)
	}
}
