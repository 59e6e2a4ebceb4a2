// Package backend is the supervisor's client for the parking-enforcement
// backend: the active-CCTV-list lookup used at startup,
// built on the same httputil.HTTPClient abstraction as the reporter so both
// are testable without a real listener.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/odsyjr2/detection-supervisor/internal/httputil"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
)

// Client talks to the backend's CCTV registry.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// New constructs a Client against baseURL using the production HTTP client.
func New(baseURL string) *Client {
	return NewWithClient(baseURL, httputil.NewStandardClient(nil))
}

// NewWithClient constructs a Client with a caller-supplied HTTPClient
// (tests substitute httputil.MockHTTPClient).
func NewWithClient(baseURL string, client httputil.HTTPClient) *Client {
	return &Client{baseURL: baseURL, http: client}
}

type activeCCTVsResponse struct {
	CCTVs []cctvEntry `json:"cctvs"`
}

type cctvEntry struct {
	StreamID     string  `json:"stream_id"`
	SourceType   string  `json:"source_type"`
	Path         string  `json:"path"`
	URL          string  `json:"url"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	LocationName string  `json:"location_name"`
	FPS          float64 `json:"fps"`
}

// ActiveStreams fetches GET /api/cctvs/active and returns the
// stream descriptors the supervisor should open producers for. A non-2xx
// response or transport error is returned as-is; the caller decides
// whether to fall back to locally configured streams.
func (c *Client) ActiveStreams(ctx context.Context) ([]model.StreamDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/cctvs/active", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: building active-cctvs request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, telemetry.Wrap("backend", telemetry.ClassDegradedExternal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, telemetry.Wrap("backend", telemetry.ClassDegradedExternal,
			fmt.Errorf("active cctvs returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: reading active cctvs response: %w", err)
	}

	// The registry serves a bare JSON array; older deployments wrap it in
	// {"cctvs": [...]}. Accept both.
	var entries []cctvEntry
	if trimmed := bytes.TrimLeft(body, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("backend: decoding active cctvs: %w", err)
		}
	} else {
		var parsed activeCCTVsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("backend: decoding active cctvs: %w", err)
		}
		entries = parsed.CCTVs
	}

	out := make([]model.StreamDescriptor, 0, len(entries))
	for _, e := range entries {
		sourceType := e.SourceType
		if sourceType == "" {
			sourceType = "live_http"
		}
		out = append(out, model.StreamDescriptor{
			StreamID:     e.StreamID,
			SourceType:   sourceType,
			Path:         e.Path,
			URL:          e.URL,
			Lat:          e.Lat,
			Lon:          e.Lon,
			LocationName: e.LocationName,
			FPS:          e.FPS,
		})
	}
	return out, nil
}
