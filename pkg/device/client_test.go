package device

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microplot-client/pkg/errors"
)

const statusJSON = `{
	"queue_size": 12,
	"active": true,
	"paused": false,
	"limit_primary": false,
	"limit_secondary": true,
	"positioning": "absolute",
	"x": 105.5,
	"y": 42.0,
	"coordinate_system": "G54",
	"additional_info": ["tiling: 2"]
}`

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/plotter/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, statusJSON)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	st, err := c.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, st.QueueSize)
	assert.True(t, st.Active)
	assert.False(t, st.Paused)
	assert.True(t, st.LimitSecondary)
	assert.Equal(t, "absolute", st.Positioning)
	assert.Equal(t, 105.5, st.X)
	assert.Equal(t, 42.0, st.Y)
	assert.Equal(t, "G54", st.CoordinateSystem)
	assert.Equal(t, []string{"tiling: 2"}, st.AdditionalInfo)
}

func TestStatusMissingRequiredField(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"queue_size", `{"positioning": "absolute", "coordinate_system": "G54"}`},
		{"positioning", `{"queue_size": 0, "coordinate_system": "G54"}`},
		{"coordinate_system", `{"queue_size": 0, "positioning": "absolute"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, nil)
			_, err := c.Status(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrMalformedResponse))
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestStatusInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrMalformedResponse))
}

func TestSubmitGCode(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plotter/gcode", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.SubmitGCode(context.Background(), []string{"G90", "G0 X1.000 Y2.000", "M104"})
	require.NoError(t, err)
	assert.Equal(t, "G90\nG0 X1.000 Y2.000\nM104", gotBody)
}

func TestSubmitGCodeEmptyIsNoop(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	assert.NoError(t, c.SubmitGCode(context.Background(), nil))
}

func TestSubmitGCodeBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.SubmitGCode(context.Background(), []string{"G90"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDeviceBusy))
	assert.False(t, errors.IsCode(err, errors.ErrRemoteUnavailable))
}

func TestSubmitGCodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queueing error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.SubmitGCode(context.Background(), []string{"G90"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRemoteUnavailable))
}

func TestUnreachableDevice(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRemoteUnavailable))
}

func TestPause(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/pause", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.Pause(context.Background(), true))
	require.NoError(t, c.Pause(context.Background(), false))
	assert.Equal(t, []string{"true", "false"}, bodies)
}

func TestStop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/stop", r.URL.Path)
		called = true
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, called)
}

func TestSetTiling(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/tiling", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.SetTiling(context.Background(), 2))
	assert.Equal(t, "2", gotBody)

	assert.Error(t, c.SetTiling(context.Background(), 0))
	assert.Error(t, c.SetTiling(context.Background(), 4))
}

func TestSwitchTile(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/tiling/switch", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.SwitchTile(context.Background(), 3))
	require.NoError(t, c.SwitchTile(context.Background(), 0))
	assert.Equal(t, []string{"3", ""}, bodies)
}

func TestPlay(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/play", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.Play(context.Background(), "spiral.gcode", []int{1, 4}))
	assert.JSONEq(t, `{"sketch_name":"spiral.gcode","workspaces":[1,4]}`, gotBody)
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plotter/files", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"name":"spiral.gcode","size":2048,"created":100}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	files, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "spiral.gcode", files[0].Name)
	assert.Equal(t, int64(2048), files[0].Size)
	// Device clock starts at 2000-01-01.
	assert.Equal(t, int64(embeddedEpochOffset+100), files[0].Created.Unix())
}

func TestUploadFileChunked(t *testing.T) {
	type chunk struct {
		appended bool
		size     int
	}
	var chunks []chunk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plotter/files/big.gcode", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		chunks = append(chunks, chunk{
			appended: r.URL.Query().Get("append") == "true",
			size:     len(b),
		})
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	content := strings.Repeat("G1 X0.000 Y0.000\n", 300) // > 2 chunks
	err := c.UploadFile(context.Background(), "big.gcode", strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].appended)
	assert.True(t, chunks[1].appended)
	assert.True(t, chunks[2].appended)
	total := 0
	for _, ch := range chunks {
		total += ch.size
	}
	assert.Equal(t, len(content), total)
}

func TestDeleteFile(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/plotter/files/spiral.gcode", r.URL.Path)
		called = true
		io.WriteString(w, "ok\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.DeleteFile(context.Background(), "spiral.gcode"))
	assert.True(t, called)
}
