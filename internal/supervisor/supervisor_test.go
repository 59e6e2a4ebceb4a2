package supervisor_test

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/config"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestJPEG(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL
	cfg.Reporter.SpoolPath = filepath.Join(t.TempDir(), "spool.ndjson")
	cfg.Reporter.DeadLetterSpoolPath = filepath.Join(t.TempDir(), "dead.ndjson")
	cfg.Supervisor.ShutdownDrainTimeout = 2 * time.Second
	return cfg
}

func TestRun_NoStreamsAnywhereExitsBackendUnreachable(t *testing.T) {
	// Nothing listens on this port, and the config carries no local streams.
	cfg := testConfig(t, "http://127.0.0.1:1")

	sup := supervisor.New(supervisor.Config{Cfg: cfg})
	code := sup.Run(context.Background())
	assert.Equal(t, supervisor.ExitBackendUnreachable, code)
}

func TestRun_LocalStreamFallbackAndCleanShutdown(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, dir, "0001.jpg")
	writeTestJPEG(t, dir, "0002.jpg")

	var cctvCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/cctvs/active" {
			cctvCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Streams = []model.StreamDescriptor{{
		StreamID:   "cam-1",
		SourceType: "image_sequence",
		Path:       dir,
		FPS:        100,
		Loop:       true,
		Lat:        37.5,
		Lon:        127.0,
	}}

	sup := supervisor.New(supervisor.Config{Cfg: cfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.ActiveStreamCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), cctvCalls.Load(), "fell back to local streams after the lookup failed")

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, supervisor.ExitClean, code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
}

func TestRun_ActiveStreamsFromBackend(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, dir, "0001.jpg")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/cctvs/active" {
			resp := map[string]any{"cctvs": []map[string]any{{
				"stream_id":     "cam-9",
				"source_type":   "image_sequence",
				"path":          dir,
				"lat":           37.5,
				"lon":           127.0,
				"location_name": "Gangnam",
			}}}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)

	sup := supervisor.New(supervisor.Config{Cfg: cfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- sup.Run(ctx) }()

	// The single-image non-looping sequence ends and the stream retires.
	require.Eventually(t, func() bool { return sup.ActiveStreamCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, supervisor.ExitClean, code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
}
