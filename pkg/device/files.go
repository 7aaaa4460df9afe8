// Sketch file management on the execution surface.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"microplot-client/pkg/errors"
)

// embeddedEpochOffset converts the device's embedded epoch (seconds
// since 2000-01-01) to the Unix epoch.
const embeddedEpochOffset = 946684800

// uploadChunkSize bounds a single upload request body. The device buffers
// each request in RAM, so chunks stay small.
const uploadChunkSize = 2048

// FileInfo describes one sketch file stored on the device.
type FileInfo struct {
	Name    string
	Size    int64
	Created time.Time
}

// fileEntry mirrors the files listing JSON.
type fileEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Created int64  `json:"created"`
}

// ListFiles returns the sketch files stored on the device. Creation
// times arrive in the embedded epoch and are converted to Unix time.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	body, err := c.do(ctx, http.MethodGet, endpointFiles, "", nil)
	if err != nil {
		return nil, err
	}

	var entries []fileEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrMalformedResponse,
			"files response is not valid JSON").SetEndpoint(endpointFiles)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		files = append(files, FileInfo{
			Name:    e.Name,
			Size:    e.Size,
			Created: time.Unix(e.Created+embeddedEpochOffset, 0),
		})
	}
	return files, nil
}

// UploadFile streams r to the device as the sketch file name. The
// content is sent in fixed-size chunks; the first chunk replaces any
// existing file and later chunks append.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) error {
	endpoint := endpointFiles + "/" + url.PathEscape(name)
	buf := make([]byte, uploadChunkSize)
	first := true

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 || first {
			target := endpoint
			if !first {
				target += "?append=true"
			}
			if _, err := c.do(ctx, http.MethodPost, target,
				"application/octet-stream", bytes.NewReader(buf[:n])); err != nil {
				return err
			}
			first = false
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// DeleteFile removes a sketch file from the device.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	endpoint := endpointFiles + "/" + url.PathEscape(name)
	_, err := c.do(ctx, http.MethodDelete, endpoint, "", nil)
	return err
}
